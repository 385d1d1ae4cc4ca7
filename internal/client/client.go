package client

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

// ErrNotFound is returned when the server responds with 404.
var ErrNotFound = errors.New("not found")

// maxBodySize caps how much of a response body is read.
const maxBodySize = 16 << 20

// Client provides HTTP methods for the Ktulhu REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	header     http.Header
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(client *Client) {
		client.header.Add(key, value)
	}
}

// New creates a new client.
// baseURL is the API root (e.g., "https://api.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) threadURL(chatID string, rest ...string) string {
	u := c.baseURL + "/chat-thread/" + url.PathEscape(chatID)
	for _, r := range rest {
		u += "/" + r
	}
	return u
}

// GetThreadRaw returns the undecoded body of GET /chat-thread/{id}.
func (c *Client) GetThreadRaw(ctx context.Context, chatID string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, c.threadURL(chatID), nil)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return body, nil
}

// GetThread fetches a thread and decodes it strictly.
func (c *Client) GetThread(ctx context.Context, chatID string) (*ThreadResponse, error) {
	body, err := c.do(ctx, http.MethodGet, c.threadURL(chatID), nil)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}

	var thread ThreadResponse
	if err := json.Unmarshal(body, &thread); err != nil {
		return nil, fmt.Errorf("get thread: decode: %w", err)
	}
	return &thread, nil
}

// GetChatsByDevice returns the undecoded chat summary list for a device.
func (c *Client) GetChatsByDevice(ctx context.Context, deviceHash string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/internal/chats/by-device/"+url.PathEscape(deviceHash), nil)
	if err != nil {
		return nil, fmt.Errorf("get chats: %w", err)
	}
	return body, nil
}

// DeleteThread deletes a whole thread.
func (c *Client) DeleteThread(ctx context.Context, chatID string) error {
	if _, err := c.do(ctx, http.MethodDelete, c.threadURL(chatID), nil); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// UpdateSummary replaces the summary text of a thread.
func (c *Client) UpdateSummary(ctx context.Context, chatID, summary string) error {
	if _, err := c.do(ctx, http.MethodPut, c.threadURL(chatID, "summary"), UpdateSummaryRequest{Summary: summary}); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// DeleteMessage deletes a single message from a thread.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if _, err := c.do(ctx, http.MethodDelete, c.threadURL(chatID, "messages", url.PathEscape(messageID)), nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SetMessageLiked records feedback on a message.
func (c *Client) SetMessageLiked(ctx context.Context, chatID, messageID string, liked bool) error {
	u := c.threadURL(chatID, "messages", url.PathEscape(messageID), "liked")
	if _, err := c.do(ctx, http.MethodPost, u, SetLikedRequest{Liked: liked}); err != nil {
		return fmt.Errorf("set liked: %w", err)
	}
	return nil
}

// do sends a request with an optional JSON body and returns the response
// body of a 2xx response.
func (c *Client) do(ctx context.Context, method, u string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
