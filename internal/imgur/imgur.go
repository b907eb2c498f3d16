// Package imgur uploads images to the Imgur hosting API.
package imgur

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://api.imgur.com"
	DefaultMaxBytes = 5 * 1024 * 1024
	DefaultTimeout  = 15 * time.Second
)

var (
	ErrNotConfigured = errors.New("imgur client id not configured")
	ErrTooLarge      = errors.New("image exceeds size limit")
)

// Client handles uploads to the Imgur API.
type Client struct {
	baseURL    string
	clientID   string
	maxBytes   int64
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithMaxBytes sets the upload size limit. Zero or less keeps the default.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithTimeout bounds each upload.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates an upload client for the given application client id.
func New(clientID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		clientID:   strings.TrimSpace(clientID),
		maxBytes:   DefaultMaxBytes,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a client id is set.
func (c *Client) Configured() bool {
	return c.clientID != ""
}

type uploadResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		Link  string `json:"link"`
		Error string `json:"error"`
	} `json:"data"`
}

// Upload posts the image read from r and returns its public link.
func (c *Client) Upload(ctx context.Context, r io.Reader, name string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	// read one byte past the limit to detect oversize input
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return "", ErrTooLarge
	}
	if name == "" {
		name = "image"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/3/image", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.clientID)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if !out.Success || out.Data.Link == "" {
		if out.Data.Error != "" {
			return "", fmt.Errorf("upload rejected: %s", out.Data.Error)
		}
		return "", errors.New("upload rejected")
	}
	return out.Data.Link, nil
}
