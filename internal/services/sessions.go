package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"

	"beyondink/internal/models"
)

var (
	ErrSessionNotFound     = errors.New("form session not found")
	ErrInvalidSessionToken = errors.New("invalid form session token")
	ErrUnknownForm         = errors.New("unknown form")
)

// FormSession is one visitor's instance of a form: its pipeline and, for the
// booking form, the reference-image buffer and the URLs uploaded so far.
type FormSession struct {
	ID       string
	Kind     models.FormKind
	Pipeline *Pipeline
	Assets   *AssetUploader

	mu        sync.Mutex
	imageURLs []string
	lastSeen  time.Time
}

// AddImageURLs appends uploaded reference URLs to the session.
func (s *FormSession) AddImageURLs(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageURLs = append(s.imageURLs, urls...)
}

// ImageURLs returns the reference URLs uploaded in this session.
func (s *FormSession) ImageURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.imageURLs...)
}

// Submit runs the pipeline. A booking draft without its own reference URLs
// picks up the ones uploaded through this session.
func (s *FormSession) Submit(ctx context.Context, draft models.Draft, token string) Result {
	if b, ok := draft.(*models.BookingDraft); ok && len(b.ReferenceImageURLs) == 0 {
		b.ReferenceImageURLs = s.ImageURLs()
	}
	return s.Pipeline.Submit(ctx, draft, token)
}

func (s *FormSession) clearAttachments() {
	s.mu.Lock()
	s.imageURLs = nil
	s.mu.Unlock()
	if s.Assets != nil {
		s.Assets.Clear()
	}
}

func (s *FormSession) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *FormSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SessionFactory builds the pipeline and optional uploader for a new session.
type SessionFactory func(kind models.FormKind) (*Pipeline, *AssetUploader, error)

// NewSessionFactory returns a factory building pipelines from specs. Booking
// sessions also get an uploader from newUploader when it is set.
func NewSessionFactory(specs map[models.FormKind]FormSpec, deps PipelineDeps, newUploader func() *AssetUploader) SessionFactory {
	return func(kind models.FormKind) (*Pipeline, *AssetUploader, error) {
		spec, ok := specs[kind]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownForm, kind)
		}
		var uploader *AssetUploader
		if kind == models.FormBooking && newUploader != nil {
			uploader = newUploader()
		}
		return NewPipeline(spec, deps), uploader, nil
	}
}

// SessionManager keeps form sessions in memory and issues the signed tokens
// the storefront presents to reach them.
type SessionManager struct {
	factory    SessionFactory
	jwtSecret  []byte
	tokenDurat time.Duration
	idleTTL    time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*FormSession
}

// NewSessionManager creates a SessionManager. Sessions unused for idleTTL are
// evicted by Sweep.
func NewSessionManager(secret string, idleTTL time.Duration, factory SessionFactory) *SessionManager {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &SessionManager{
		factory:    factory,
		jwtSecret:  []byte(secret),
		tokenDurat: 24 * time.Hour,
		idleTTL:    idleTTL,
		now:        time.Now,
		sessions:   make(map[string]*FormSession),
	}
}

// Open starts a session for kind and returns it with its token.
func (m *SessionManager) Open(kind models.FormKind) (*FormSession, string, error) {
	sess, err := m.build(kind)
	if err != nil {
		return nil, "", err
	}

	token, err := m.sign(sess)
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	slog.Debug("form session opened", "form", string(kind), "session_id", sess.ID)
	return sess, token, nil
}

// Anonymous builds a throwaway session for a one-shot submission. It is not
// registered and cannot be resolved later.
func (m *SessionManager) Anonymous(kind models.FormKind) (*FormSession, error) {
	return m.build(kind)
}

// Resolve validates token and returns the live session it names. The token
// must have been issued for kind.
func (m *SessionManager) Resolve(tokenString string, kind models.FormKind) (*FormSession, error) {
	claims, err := m.validateToken(tokenString)
	if err != nil {
		return nil, err
	}

	sid, _ := claims["sid"].(string)
	if claimed, _ := claims["kind"].(string); claimed != string(kind) {
		return nil, fmt.Errorf("%w: issued for %q", ErrInvalidSessionToken, claimed)
	}

	m.mu.RLock()
	sess, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(m.now())
	return sess, nil
}

// Sweep evicts idle sessions and returns how many were removed.
func (m *SessionManager) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*FormSession
	for id, sess := range m.sessions {
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	// Resetting stops any pending auto-reset timer.
	for _, sess := range expired {
		sess.Pipeline.Reset()
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Info("evicted idle form sessions", "count", n)
			}
		}
	}
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) build(kind models.FormKind) (*FormSession, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownForm, kind)
	}
	pipeline, uploader, err := m.factory(kind)
	if err != nil {
		return nil, err
	}

	sess := &FormSession{
		ID:       uuid.NewString(),
		Kind:     kind,
		Pipeline: pipeline,
		Assets:   uploader,
		lastSeen: m.now(),
	}
	pipeline.OnReset(sess.clearAttachments)
	return sess, nil
}

func (m *SessionManager) sign(sess *FormSession) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid":  sess.ID,
		"kind": string(sess.Kind),
		"exp":  now.Add(m.tokenDurat).Unix(),
		"iat":  now.Unix(),
	})

	tokenString, err := token.SignedString(m.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return tokenString, nil
}

func (m *SessionManager) validateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidSessionToken
}
