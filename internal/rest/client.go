// Package rest is the HTTP client for the messaging API. It serves two
// roles: bootstrap reads (summaries, history, directory search) and the
// degraded send path used whenever the push channel is unavailable.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Client talks to the messaging REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a REST client for the given base URL and bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConversationSummary is one entry of the server's conversation list.
type ConversationSummary struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Extra        string    `json:"extra"`
	ProfilePhoto string    `json:"profile_photo"`
	LastMessage  string    `json:"last_message"`
	LastTime     ISOTime   `json:"last_time"`
	Unread       int       `json:"unread"`
}

// MessageRecord is the server's message representation, shared by history
// responses and send confirmations.
type MessageRecord struct {
	ID             int64     `json:"id"`
	SenderID       int64     `json:"sender_id"`
	ReceiverID     int64     `json:"receiver_id"`
	Content        string    `json:"content"`
	Timestamp      ISOTime   `json:"timestamp"`
	SenderName     string    `json:"sender_name"`
	ReceiverName   string    `json:"receiver_name"`
	SenderRole     string    `json:"sender_role"`
	AttachmentURL  string    `json:"attachment_url"`
	AttachmentType string    `json:"attachment_type"`
	SenderPhoto    string    `json:"sender_photo"`
}

// DirectoryUser is a user-directory search candidate.
type DirectoryUser struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	ProfileImage string `json:"profile_image"`
}

// Conversations lists the caller's conversation summaries.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out []ConversationSummary
	if err := c.getJSON(ctx, "/messages/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// History fetches the full thread with one counterpart, oldest first.
func (c *Client) History(ctx context.Context, partnerID int64) ([]MessageRecord, error) {
	q := url.Values{"partner_id": {strconv.FormatInt(partnerID, 10)}}
	var out []MessageRecord
	if err := c.getJSON(ctx, "/messages/history", q, &out); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return out, nil
}

// SearchUsers resolves a partial-name query against the user directory.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]DirectoryUser, error) {
	q := url.Values{"q": {query}}
	var out []DirectoryUser
	if err := c.getJSON(ctx, "/messages/users/search", q, &out); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return out, nil
}

// Upload is binary content attached to a send.
type Upload struct {
	Reader   io.Reader
	Name     string
	MimeType string
}

// SendMessage posts a message as multipart form data. The attachment part
// is included only when upload is non-nil. Returns the confirmed message,
// including the canonical attachment reference.
func (c *Client) SendMessage(ctx context.Context, receiverID int64, content string, upload *Upload) (*MessageRecord, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("receiver_id", strconv.FormatInt(receiverID, 10)); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := w.WriteField("content", content); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if upload != nil {
		part, err := w.CreateFormFile("file", upload.Name)
		if err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
		if _, err := io.Copy(part, upload.Reader); err != nil {
			return nil, fmt.Errorf("copy attachment: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/send", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	var out MessageRecord
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &out, nil
}

// DeleteConversation removes the thread with a counterpart server-side.
// On any error the caller must leave local state untouched.
func (c *Client) DeleteConversation(ctx context.Context, partnerID int64) error {
	u := fmt.Sprintf("%s/messages/conversations/%d", c.baseURL, partnerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &detail) == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
