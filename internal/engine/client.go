// ABOUTME: HTTP client for the chat-engine collaborator
// ABOUTME: Submits inbound messages and returns the engine's optional reply

// Package engine talks to the chat engine that generates assistant replies
// for messages from associated senders.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// requestTimeout bounds every engine call.
const requestTimeout = 30 * time.Second

// MessageRequest is the payload for the engine's message endpoint.
type MessageRequest struct {
	ChatID         string `json:"chat_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Source         string `json:"source"`
	PhoneNumber    string `json:"phone_number"`
}

// Reply is the engine's answer. An empty Response is valid and means the
// engine chose not to reply.
type Reply struct {
	Response string `json:"response"`
}

// Client is an HTTP client for the chat engine.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates an engine client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Process submits one message and returns the engine's reply.
func (c *Client) Process(ctx context.Context, req *MessageRequest) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling chat engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chat engine returned status %d: %s", resp.StatusCode, respBody)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decoding engine response: %w", err)
	}
	return &reply, nil
}
