package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/chatlink/internal/auth"
	"github.com/rickgao/chatlink/internal/model"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", nil)

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.signer == nil {
			t.Error("signer should default to an empty bearer token")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retry.Base != time.Second {
			t.Errorf("retry.Base = %v, want %v", c.retry.Base, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", auth.BearerToken("key"),
			WithHTTPClient(customClient),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retry.Base != 500*time.Millisecond {
			t.Errorf("retry.Base = %v, want %v", c.retry.Base, 500*time.Millisecond)
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "conversation not found"}
		expected := "chat api error 404: conversation not found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{404, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("bearer token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-key")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, auth.BearerToken("test-key"))
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("signed request covers base path", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		creds := &auth.Credentials{KeyID: "kid-1", PrivateKey: key}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(auth.HeaderKey) != "kid-1" {
				t.Errorf("%s = %q, want %q", auth.HeaderKey, r.Header.Get(auth.HeaderKey), "kid-1")
			}
			if err := auth.Verify(&key.PublicKey, r.Header, r.Method, r.URL.Path); err != nil {
				t.Errorf("Verify() error: %v", err)
			}
			if r.URL.Path != "/api/v1/test" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/api/v1/test")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL+"/api/v1", creds)
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request without credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError with server message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "conversation not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Message != "conversation not found" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "conversation not found")
		}
	})

	t.Run("5xx error keeps status text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`upstream down`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "Service Unavailable" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Service Unavailable")
		}
		if apiErr.RetryAfter != 2*time.Second {
			t.Errorf("RetryAfter = %v, want 2s", apiErr.RetryAfter)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := atomic.LoadInt32(&attempts); got != 2 {
			t.Errorf("attempts = %d, want 2", got)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if got := atomic.LoadInt32(&attempts); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error = %v, want max retries exceeded", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
			t.Errorf("error should wrap the last APIError, got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want context.DeadlineExceeded", err)
		}
	})
}

func TestListMessages(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/conversations/c%2F1/messages" && r.URL.RawPath != "/conversations/c%2F1/messages" {
				t.Errorf("path = %q (raw %q), want escaped conversation id", r.URL.Path, r.URL.RawPath)
			}
			if got := r.URL.Query().Get("after"); got != "cur-5" {
				t.Errorf("after = %q, want %q", got, "cur-5")
			}
			if got := r.URL.Query().Get("limit"); got != "50" {
				t.Errorf("limit = %q, want %q", got, "50")
			}
			json.NewEncoder(w).Encode(MessagesResponse{
				Messages: []model.ChatMessage{
					{ID: "m-6", ConversationID: "c/1", SenderID: "u-2", Content: "hi", Type: model.TypeText, CreatedAt: created},
				},
				Cursor: "cur-6",
			})
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		resp, err := c.ListMessages(context.Background(), "c/1", "cur-5", 50)
		if err != nil {
			t.Fatalf("ListMessages() error: %v", err)
		}
		if len(resp.Messages) != 1 || resp.Messages[0].ID != "m-6" {
			t.Fatalf("Messages = %+v, want [m-6]", resp.Messages)
		}
		if !resp.Messages[0].CreatedAt.Equal(created) {
			t.Errorf("CreatedAt = %v, want %v", resp.Messages[0].CreatedAt, created)
		}
		if resp.Cursor != "cur-6" {
			t.Errorf("Cursor = %q, want %q", resp.Cursor, "cur-6")
		}
	})

	t.Run("limit clamped and after omitted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Has("after") {
				t.Error("after should be omitted when empty")
			}
			if got := r.URL.Query().Get("limit"); got != "200" {
				t.Errorf("limit = %q, want %q", got, "200")
			}
			w.Write([]byte(`{"messages":[]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		if _, err := c.ListMessages(context.Background(), "c-1", "", 5000); err != nil {
			t.Fatalf("ListMessages() error: %v", err)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		c := NewClient("http://unused", nil)
		if _, err := c.ListMessages(context.Background(), "", "", 10); err == nil {
			t.Error("expected error for empty conversation id")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"messages": [`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.ListMessages(context.Background(), "c-1", "", 10)
		if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
			t.Errorf("error = %v, want unmarshal response error", err)
		}
	})
}

func TestListMessagesSince(t *testing.T) {
	pages := map[string]MessagesResponse{
		"":   {Messages: []model.ChatMessage{{ID: "m-1"}, {ID: "m-2"}}, Cursor: "p1", HasMore: true},
		"p1": {Messages: []model.ChatMessage{{ID: "m-3"}}, Cursor: "p2", HasMore: true},
		"p2": {Messages: []model.ChatMessage{{ID: "m-4"}}, Cursor: "p3", HasMore: false},
	}

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page, ok := pages[r.URL.Query().Get("after")]
		if !ok {
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)

	t.Run("all pages", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		resp, err := c.ListMessagesSince(context.Background(), "c-1", "", 2, 0)
		if err != nil {
			t.Fatalf("ListMessagesSince() error: %v", err)
		}
		if len(resp.Messages) != 4 {
			t.Errorf("len(Messages) = %d, want 4", len(resp.Messages))
		}
		if resp.Cursor != "p3" || resp.HasMore {
			t.Errorf("Cursor, HasMore = %q, %v, want p3, false", resp.Cursor, resp.HasMore)
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("calls = %d, want 3", got)
		}
	})

	t.Run("page limit", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		resp, err := c.ListMessagesSince(context.Background(), "c-1", "", 2, 2)
		if err != nil {
			t.Fatalf("ListMessagesSince() error: %v", err)
		}
		if len(resp.Messages) != 3 {
			t.Errorf("len(Messages) = %d, want 3", len(resp.Messages))
		}
		if resp.Cursor != "p2" || !resp.HasMore {
			t.Errorf("Cursor, HasMore = %q, %v, want p2, true", resp.Cursor, resp.HasMore)
		}
		if got := atomic.LoadInt32(&calls); got != 2 {
			t.Errorf("calls = %d, want 2", got)
		}
	})
}
