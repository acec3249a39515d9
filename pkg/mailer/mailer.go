// Package mailer sends transactional email through the Resend HTTP API.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DefaultAPIURL is Resend's send endpoint.
const DefaultAPIURL = "https://api.resend.com/emails"

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("mailer: missing API key")

// Message is one outgoing email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Config holds the email API details.
type Config struct {
	APIKey  string
	APIURL  string
	Timeout time.Duration
}

// Client posts messages to the email API.
type Client struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
}

// NewClient creates a Client. Empty fields fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{apiKey: cfg.APIKey, apiURL: cfg.APIURL, timeout: cfg.Timeout}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Send delivers msg and returns the API's JSON response body.
func (c *Client) Send(ctx context.Context, msg Message) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return nil, errors.New("mailer: message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("mailer: %w", context.DeadlineExceeded)
	}

	agent := fiber.Post(c.apiURL).
		Timeout(timeout).
		Set(fiber.HeaderAuthorization, "Bearer "+c.apiKey).
		JSON(msg)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("mailer: send request failed: %w", errors.Join(errs...))
	}
	if code < 200 || code > 299 {
		return nil, fmt.Errorf("mailer: unexpected status %d: %s", code, body)
	}
	if !json.Valid(body) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(body), nil
}
