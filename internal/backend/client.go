// ABOUTME: HTTP client for the backend's WhatsApp association API
// ABOUTME: Looks up chats by phone number and writes new associations

// Package backend talks to the SaaS backend that knows which phone numbers
// are associated with which configured chats.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotAssociated means the backend has no chat for the phone number. It is
// the expected "unknown sender" outcome, distinct from a lookup failure.
var ErrNotAssociated = errors.New("phone number is not associated with a chat")

// requestTimeout bounds every backend call. A hung backend should stall one
// message's routing, not pin a goroutine forever.
const requestTimeout = 30 * time.Second

// Chat is the backend's record of a configured chat bound to a phone number.
type Chat struct {
	ChatID string `json:"chat_id"`
	Name   string `json:"name,omitempty"`
}

// AssociateRequest is the body for the backend's associate endpoint.
type AssociateRequest struct {
	PhoneNumber string `json:"phone_number"`
	ChatID      string `json:"chat_id"`
}

// Client is an HTTP client for the backend association API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a backend client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// FindChat looks up the chat associated with a normalized phone number.
// Returns ErrNotAssociated when the backend answers 404. Any other failure
// is returned as an error; callers degrade to the default routing path.
func (c *Client) FindChat(ctx context.Context, phoneNumber string) (*Chat, error) {
	reqURL := c.baseURL + "/api/whatsapp/chats/" + url.PathEscape(phoneNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("looking up chat: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotAssociated
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var chat Chat
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if chat.ChatID == "" {
		return nil, fmt.Errorf("backend response missing chat_id")
	}
	return &chat, nil
}

// Associate binds a phone number to a chat. The backend's response body is
// returned verbatim so the API can relay it to the operator.
func (c *Client) Associate(ctx context.Context, phoneNumber, chatID string) ([]byte, error) {
	body, err := json.Marshal(AssociateRequest{PhoneNumber: phoneNumber, ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/whatsapp/associate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("associating number: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}
