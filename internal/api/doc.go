// Package api provides the chat history REST client.
//
// The client backs the polling fallback: while the websocket is down,
// new messages are fetched per conversation with
//
//	GET {rest_url}/conversations/{id}/messages?after={cursor}&limit={n}
//
// Requests are authenticated with an auth.Signer and retried with jittered
// exponential backoff on 5xx and 429 responses.
package api
