package api

import "github.com/rickgao/chatlink/internal/model"

// MessagesResponse from GET /conversations/{id}/messages
type MessagesResponse struct {
	Messages []model.ChatMessage `json:"messages"`
	Cursor   string              `json:"cursor"`  // Resume position after the last message
	HasMore  bool                `json:"hasMore"` // A newer page is available
}

// MaxPageSize is the largest limit the history endpoint accepts.
const MaxPageSize = 200
