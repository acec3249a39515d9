package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SupabaseStore talks to the Supabase Storage REST API.
type SupabaseStore struct {
	baseURL string
	key     string
	timeout time.Duration
}

// NewSupabaseStore creates a SupabaseStore for the project at baseURL.
func NewSupabaseStore(baseURL, serviceKey string, timeout time.Duration) *SupabaseStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     serviceKey,
		timeout: timeout,
	}
}

var _ Store = (*SupabaseStore)(nil)

func (s *SupabaseStore) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	if s.baseURL == "" || s.key == "" {
		return errors.New("storage: supabase not configured")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	code, body, errs := fiber.Post(s.objectURL("object", bucket, path)).
		Timeout(s.timeout).
		Set(fiber.HeaderAuthorization, "Bearer "+s.key).
		Set("apikey", s.key).
		Set("x-upsert", "false").
		ContentType(contentType).
		Body(data).
		Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, path, errors.Join(errs...))
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("storage: upload %s/%s: status %d: %s", bucket, path, code, body)
	}
	return nil
}

func (s *SupabaseStore) PublicURL(bucket, path string) string {
	return s.objectURL("object/public", bucket, path)
}

func (s *SupabaseStore) objectURL(kind, bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/storage/v1/%s/%s/%s", s.baseURL, kind, url.PathEscape(bucket), strings.Join(segments, "/"))
}
