package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rickgao/chatlink/internal/client"
	"github.com/rickgao/chatlink/internal/status"
)

type healthSource interface {
	Health() client.Health
}

func healthHandler(path string, src healthSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		h := src.Health()
		w.Header().Set("Content-Type", "application/json")
		if !h.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	return mux
}

func describe(h client.Health, notices []status.Notice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* mode=%s state=%s since=%s", h.Mode, h.State, h.Since.Format("15:04:05"))
	if h.Attempt > 0 {
		fmt.Fprintf(&b, " attempt=%d", h.Attempt)
	}
	fmt.Fprintf(&b, " queued=%d sending=%d failed=%d", h.Queue.Queued, h.Queue.Sending, h.Queue.Failed)
	for _, n := range notices {
		if n.Resolved {
			continue
		}
		fmt.Fprintf(&b, "\n! %s", n.Text)
	}
	return b.String()
}
