package autograph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSessionTTL is how long a session token is reused before logging in again.
const DefaultSessionTTL = time.Hour

// Credentials identify the service account used against the upstream.
type Credentials struct {
	Username  string
	Password  string
	UTCOffset int // minutes
}

// SessionManager caches one upstream session token and refreshes it on
// expiry. Concurrent callers that find no valid token share a single login.
type SessionManager struct {
	api   API
	creds Credentials
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewSessionManager creates a manager. ttl <= 0 uses DefaultSessionTTL.
func NewSessionManager(api API, creds Credentials, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		api:   api,
		creds: creds,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Token returns a valid session token, logging in if needed.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	token, expiresAt := m.token, m.expiresAt
	m.mu.RUnlock()
	if token != "" && m.now().Before(expiresAt) {
		return token, nil
	}

	v, err, shared := m.group.Do("login", func() (any, error) {
		// Another caller may have refreshed while we waited for the lock.
		m.mu.RLock()
		if m.token != "" && m.now().Before(m.expiresAt) {
			t := m.token
			m.mu.RUnlock()
			return t, nil
		}
		m.mu.RUnlock()

		t, err := m.api.Login(ctx, m.creds.Username, m.creds.Password, m.creds.UTCOffset)
		if err != nil {
			return "", err
		}

		m.mu.Lock()
		m.token = t
		m.expiresAt = m.now().Add(m.ttl)
		m.mu.Unlock()

		slog.Info("[Session] Logged in to AutoGRAPH", "user", m.creds.Username, "ttl", m.ttl)
		return t, nil
	})
	if err != nil {
		slog.Error("[Session] Login failed", "user", m.creds.Username, "error", err, "shared", shared)
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Token call logs in again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}

// Do runs fn with a session token. If fn fails with ErrUnauthorized the token
// is dropped and fn is retried once with a fresh login.
func (m *SessionManager) Do(ctx context.Context, fn func(session string) error) error {
	token, err := m.Token(ctx)
	if err != nil {
		return err
	}
	err = fn(token)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	slog.Warn("[Session] Session rejected, logging in again")
	m.Invalidate()
	token, err = m.Token(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}
