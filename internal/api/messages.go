package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ListMessages fetches one page of messages in conversationID newer than
// the cursor after. An empty after starts from the server's default window.
func (c *Client) ListMessages(ctx context.Context, conversationID, after string, limit int) (*MessagesResponse, error) {
	if conversationID == "" {
		return nil, errors.New("list messages: conversation id is required")
	}

	query := url.Values{}
	if after != "" {
		query.Set("after", after)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(min(limit, MaxPageSize)))
	}

	var resp MessagesResponse
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return &resp, nil
}

// ListMessagesSince pages through every message newer than after, up to
// maxPages pages. The returned cursor resumes after the last message and
// HasMore reports whether the page limit cut the walk short. A zero
// maxPages means no page limit.
func (c *Client) ListMessagesSince(ctx context.Context, conversationID, after string, limit, maxPages int) (*MessagesResponse, error) {
	out := &MessagesResponse{Cursor: after}

	for page := 0; maxPages == 0 || page < maxPages; page++ {
		resp, err := c.ListMessages(ctx, conversationID, out.Cursor, limit)
		if err != nil {
			return nil, err
		}

		out.Messages = append(out.Messages, resp.Messages...)
		if resp.Cursor != "" {
			out.Cursor = resp.Cursor
		}
		out.HasMore = resp.HasMore

		c.logger.Debug("fetched messages page",
			"conversation", conversationID,
			"count", len(resp.Messages),
			"total", len(out.Messages),
		)

		if !resp.HasMore || resp.Cursor == "" {
			break
		}
	}

	return out, nil
}
