// Package mail delivers transactional mail through the batch mail service.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	sendPath         = "/api/batch_mail/api/send"
	defaultAddresser = "noreply@koois.id"
	defaultResetBase = "http://localhost:3000/en/reset-password"
)

// Message is the batch mail service send payload.
type Message struct {
	Recipient string  `json:"recipient"`
	Addresser string  `json:"addresser"`
	Attribs   Attribs `json:"attribs"`
}

type Attribs struct {
	ResetLink string `json:"reset_link"`
}

// Client posts messages to the batch mail service, authenticating with an
// API key header.
type Client struct {
	baseURL   string
	apiKey    string
	resetBase string
	client    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Client) { m.client = c }
}

// WithResetBase overrides the base URL embedded in reset links.
func WithResetBase(base string) Option {
	return func(m *Client) { m.resetBase = base }
}

func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("mail: empty base url")
	}
	if apiKey == "" {
		return nil, errors.New("mail: empty api key")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		resetBase: defaultResetBase,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendPasswordReset mails the recipient a link carrying the reset token.
func (c *Client) SendPasswordReset(ctx context.Context, recipient, token string) error {
	msg := Message{
		Recipient: recipient,
		Addresser: defaultAddresser,
		Attribs:   Attribs{ResetLink: c.resetBase + "?token=" + token},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail service returned %d", resp.StatusCode)
	}
	return nil
}
