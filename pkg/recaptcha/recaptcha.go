// Package recaptcha verifies challenge-response tokens against the public
// siteverify API.
package recaptcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"beyondink/internal/models"
)

// DefaultVerifyURL is Google's verification endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

var (
	// ErrMissingToken is returned before any network call when the token is empty.
	ErrMissingToken = errors.New("recaptcha: missing token")
	// ErrNotConfigured is returned when no shared secret was provided.
	ErrNotConfigured = errors.New("recaptcha: secret not configured")
)

// Config holds the verification endpoint details.
type Config struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

// Client posts tokens to the verification API.
type Client struct {
	secret    string
	verifyURL string
	timeout   time.Duration
}

// NewClient creates a Client. Empty fields fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		timeout:   cfg.Timeout,
	}
}

// Verify sends the shared secret and token as a form-encoded POST and decodes
// the verdict. A verdict with Success=false is not an error.
func (c *Client) Verify(ctx context.Context, token string) (*models.VerificationVerdict, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if c.secret == "" {
		return nil, ErrNotConfigured
	}
	timeout, err := effectiveTimeout(ctx, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("recaptcha: %w", err)
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("secret", c.secret)
	args.Set("response", token)

	var verdict models.VerificationVerdict
	code, body, errs := fiber.Post(c.verifyURL).Timeout(timeout).Form(args).Struct(&verdict)
	if len(errs) > 0 {
		return nil, fmt.Errorf("recaptcha: verify request failed: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("recaptcha: unexpected status %d: %s", code, body)
	}
	return &verdict, nil
}

// effectiveTimeout bounds the call by both the client timeout and ctx's deadline,
// since the fiber agent does not observe contexts.
func effectiveTimeout(ctx context.Context, limit time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, context.DeadlineExceeded
		}
		if remaining < limit {
			return remaining, nil
		}
	}
	return limit, nil
}
