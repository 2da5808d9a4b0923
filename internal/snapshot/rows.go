package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/chatlink/internal/model"
)

// Database backends store each message as a JSON body keyed by owner and
// message ID, ordered by its enqueue sequence.

func encodeRow(m model.Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return body, nil
}

func decodeRow(body []byte) (model.Message, error) {
	var m model.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return model.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
