package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnauthenticated means there is no usable token in the session.
var ErrUnauthenticated = errors.New("auth: authentication required")

// Roles known to the portal.
const (
	RoleStudent  = "student"
	RoleAdmin    = "admin"
	RoleSubAdmin = "subadmin"
)

// User is the signed-in account as reported at login.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// IsStaff reports whether the user administers payments.
func (u User) IsStaff() bool {
	return u.Role == RoleAdmin || u.Role == RoleSubAdmin
}

// Session is what gets persisted between portal restarts.
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (s Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Persister stores sessions by key.
type Persister interface {
	Load(ctx context.Context, key string) (Session, bool, error)
	Save(ctx context.Context, key string, s Session, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store holds the session of one workspace. It replaces an app-wide auth
// provider: every component that needs a token is handed the Store.
type Store struct {
	key     string
	persist Persister
	ttl     time.Duration
	now     func() time.Time

	hydrate sync.Once
	mu      sync.RWMutex
	cur     *Session
}

// NewStore creates an empty store persisted under key.
func NewStore(key string, p Persister, ttl time.Duration) *Store {
	if p == nil {
		p = NewMemoryPersister()
	}
	return &Store{key: key, persist: p, ttl: ttl, now: time.Now}
}

// Hydrate loads the persisted session. Only the first call does I/O.
func (s *Store) Hydrate(ctx context.Context) error {
	var err error
	s.hydrate.Do(func() {
		var (
			sess Session
			ok   bool
		)
		sess, ok, err = s.persist.Load(ctx, s.key)
		if err != nil {
			err = fmt.Errorf("hydrate session: %w", err)
			return
		}
		if !ok || sess.expired(s.now()) {
			return
		}
		s.mu.Lock()
		if s.cur == nil {
			s.cur = &sess
		}
		s.mu.Unlock()
	})
	return err
}

// Login records a token and the user it belongs to.
func (s *Store) Login(ctx context.Context, token string, user User) (Session, error) {
	if token == "" {
		return Session{}, ErrUnauthenticated
	}
	sess := Session{Token: token, User: user}
	claims, ok := Inspect(token)
	if ok {
		if claims.ExpiresAt != nil {
			sess.ExpiresAt = claims.ExpiresAt.Time
		}
		// the token is authoritative over what the browser claims
		if claims.Role != "" {
			sess.User.Role = claims.Role
		}
		if claims.Subject != "" {
			sess.User.ID = claims.Subject
		}
	}
	if sess.expired(s.now()) {
		return Session{}, ErrUnauthenticated
	}

	ttl := s.ttl
	if !sess.ExpiresAt.IsZero() {
		if left := sess.ExpiresAt.Sub(s.now()); ttl <= 0 || left < ttl {
			ttl = left
		}
	}
	if err := s.persist.Save(ctx, s.key, sess, ttl); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.cur = &sess
	s.mu.Unlock()
	return sess, nil
}

// Token returns the bearer token, or ErrUnauthenticated when it is missing or expired.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil || s.cur.Token == "" || s.cur.expired(s.now()) {
		return "", ErrUnauthenticated
	}
	return s.cur.Token, nil
}

// User returns the signed-in user.
func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return User{}, false
	}
	return s.cur.User, true
}

// Logout clears the session in memory and in persistence.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
	if err := s.persist.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// MemoryPersister keeps sessions in process memory.
type MemoryPersister struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	sess    Session
	expires time.Time
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{items: make(map[string]memoryItem)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return Session{}, false, nil
	}
	if !it.expires.IsZero() && time.Now().After(it.expires) {
		delete(m.items, key)
		return Session{}, false, nil
	}
	return it.sess, true, nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{sess: s}
	if ttl > 0 {
		it.expires = time.Now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
