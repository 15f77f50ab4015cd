// Package session holds the authenticated actor and bearer token for one
// session. The context is passed explicitly to the transport, the transition
// client and the projector; nothing reads identity from ambient state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/journal"
	"scriptdesk/internal/repo"
)

var ErrNoSession = errors.New("no stored session")

// Store persists the session between process runs.
type Store interface {
	Load(ctx context.Context) (domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
	Clear(ctx context.Context) error
}

type Context struct {
	Now func() time.Time

	mu      sync.RWMutex
	current *domain.Session
	store   Store
	journal journal.Appender
	logger  *slog.Logger
}

// New returns an empty context. A nil journal or logger is replaced with a
// no-op journal and slog.Default.
func New(store Store, j journal.Appender, logger *slog.Logger) *Context {
	if store == nil {
		store = &MemoryStore{}
	}
	if j == nil {
		j = journal.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{Now: time.Now, store: store, journal: j, logger: logger}
}

func (c *Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Current returns the actor of the active session, if any.
func (c *Context) Current() (domain.Actor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return domain.Actor{}, false
	}
	return c.current.Actor, true
}

// Session returns a copy of the active session.
func (c *Context) Session() (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return domain.Session{}, false
	}
	return *c.current, true
}

// Require returns the current actor or failure.ErrUnauthenticated. An expired
// token invalidates the session.
func (c *Context) Require(ctx context.Context) (domain.Actor, error) {
	c.mu.RLock()
	s := c.current
	c.mu.RUnlock()
	if s == nil {
		return domain.Actor{}, fmt.Errorf("%w: no active session", failure.ErrUnauthenticated)
	}
	if c.expired(*s) {
		c.Invalidate(ctx, "token expired")
		return domain.Actor{}, fmt.Errorf("%w: token expired", failure.ErrUnauthenticated)
	}
	return s.Actor, nil
}

// Token returns the bearer token, or "" without a session.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return ""
	}
	return c.current.Token
}

// Establish installs a freshly issued token and actor and persists them.
func (c *Context) Establish(ctx context.Context, token string, actor domain.Actor) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", failure.ErrUnauthenticated)
	}
	if actor.Role.Wire() == "" {
		return fmt.Errorf("%w: actor %d has no valid role", failure.ErrValidation, actor.ID)
	}
	s := domain.Session{
		Token:         token,
		Actor:         actor,
		EstablishedAt: c.now().UTC(),
		ExpiresAt:     tokenExpiry(token),
	}
	if err := c.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	c.mu.Lock()
	c.current = &s
	c.mu.Unlock()
	c.record(ctx, journal.SessionEstablished, actor.ID, journal.Payload{"role": string(actor.Role)})
	return nil
}

// Invalidate clears the token and actor in memory and in the store. It is safe
// to call without a session.
func (c *Context) Invalidate(ctx context.Context, reason string) {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("clear stored session", "error", err)
	}
	if prev == nil {
		return
	}
	c.logger.Info("session invalidated", "actor_id", prev.Actor.ID, "reason", reason)
	c.record(ctx, journal.SessionInvalidated, prev.Actor.ID, journal.Payload{"reason": reason})
}

// Restore loads a persisted session. A missing or expired session leaves the
// context empty and is not an error.
func (c *Context) Restore(ctx context.Context) error {
	s, err := c.store.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	s.ExpiresAt = tokenExpiry(s.Token)
	if c.expired(s) {
		if err := c.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear expired session: %w", err)
		}
		c.record(ctx, journal.SessionInvalidated, s.Actor.ID, journal.Payload{"reason": "token expired"})
		return nil
	}
	c.mu.Lock()
	c.current = &s
	c.mu.Unlock()
	return nil
}

func (c *Context) expired(s domain.Session) bool {
	return !s.ExpiresAt.IsZero() && !c.now().Before(s.ExpiresAt)
}

func (c *Context) record(ctx context.Context, typ string, actorID int64, payload journal.Payload) {
	if err := c.journal.Append(ctx, journal.Entry{Type: typ, ActorID: actorID, Payload: payload}); err != nil {
		c.logger.Warn("journal append failed", "type", typ, "error", err)
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend remains the verifier. Opaque tokens have no known expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu sync.Mutex
	s  *domain.Session
}

func (m *MemoryStore) Load(context.Context) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return domain.Session{}, ErrNoSession
	}
	return *m.s, nil
}

func (m *MemoryStore) Save(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	m.s = &s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.s = nil
	m.mu.Unlock()
	return nil
}

// SQLStore persists the session row in the workspace database.
type SQLStore struct {
	Repo repo.Repo
}

func (s SQLStore) Load(ctx context.Context) (domain.Session, error) {
	sess, err := s.Repo.GetSession(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, ErrNoSession
	}
	return sess, err
}

func (s SQLStore) Save(ctx context.Context, sess domain.Session) error {
	return s.Repo.SaveSession(ctx, sess)
}

func (s SQLStore) Clear(ctx context.Context) error {
	return s.Repo.ClearSession(ctx)
}
