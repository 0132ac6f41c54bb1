// Package fake provides in-memory implementations of the authkit contracts
// for testing.
//
// Use fake.NewBackend and fake.NewStore in unit tests to drive the session
// store through every lifecycle transition without network or disk.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	authkit "github.com/certreg/authkit-go"
)

// Backend is an in-memory authkit.Backend with controllable failure modes.
type Backend struct {
	mu           sync.Mutex
	users        map[string]*authkit.User // email → user
	passwords    map[string]string        // email → password
	access       map[string]string        // access token → email
	refresh      map[string]string        // refresh token → email
	failLogout   bool
	refreshDelay time.Duration
	refreshCalls int
}

// compile-time check
var _ authkit.Backend = (*Backend)(nil)

// Option configures the fake backend.
type Option func(*Backend)

// WithUser adds a known user with the given password.
func WithUser(u authkit.User, password string) Option {
	return func(b *Backend) {
		b.users[u.Email] = u.Clone()
		b.passwords[u.Email] = password
	}
}

// NewBackend creates a fake backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		users:     make(map[string]*authkit.User),
		passwords: make(map[string]string),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Login issues a fresh token pair for a known email/password combination.
func (b *Backend) Login(_ context.Context, email, password string) (*authkit.LoginResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	user, ok := b.users[email]
	if !ok || b.passwords[email] != password {
		return nil, fmt.Errorf("%w: invalid email or password", authkit.ErrInvalidCredentials)
	}

	pair := authkit.TokenPair{
		AccessToken:  "at-" + uuid.NewString(),
		RefreshToken: "rt-" + uuid.NewString(),
	}
	b.access[pair.AccessToken] = email
	b.refresh[pair.RefreshToken] = email

	// Permissions are deliberately absent: deriving them is the session's job.
	u := user.Clone()
	u.Permissions = nil
	return &authkit.LoginResult{User: u, Tokens: pair}, nil
}

// Refresh exchanges a known refresh token for a new access token.
func (b *Backend) Refresh(_ context.Context, refreshToken string) (string, error) {
	b.mu.Lock()
	b.refreshCalls++
	delay := b.refreshDelay
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	email, ok := b.refresh[refreshToken]
	if !ok {
		return "", fmt.Errorf("%w: unknown refresh token", authkit.ErrRefreshRejected)
	}
	newToken := "at-" + uuid.NewString()
	b.access[newToken] = email
	return newToken, nil
}

// ValidateSession accepts any access token the backend has issued and not
// expired.
func (b *Backend) ValidateSession(_ context.Context, accessToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.access[accessToken]; !ok {
		return authkit.ErrUnauthorized
	}
	return nil
}

// Logout revokes the refresh token, or fails when FailLogout was set.
func (b *Backend) Logout(_ context.Context, refreshToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failLogout {
		return fmt.Errorf("authkit/fake: logout endpoint unreachable")
	}
	delete(b.refresh, refreshToken)
	return nil
}

// --- test controls ---

// IssueSession mints a token pair for email without a login call, for
// seeding persisted-store scenarios.
func (b *Backend) IssueSession(email string) authkit.TokenPair {
	b.mu.Lock()
	defer b.mu.Unlock()

	pair := authkit.TokenPair{
		AccessToken:  "at-" + uuid.NewString(),
		RefreshToken: "rt-" + uuid.NewString(),
	}
	b.access[pair.AccessToken] = email
	b.refresh[pair.RefreshToken] = email
	return pair
}

// ExpireAccessToken makes an issued access token invalid.
func (b *Backend) ExpireAccessToken(tok string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.access, tok)
}

// RevokeRefreshToken makes an issued refresh token invalid.
func (b *Backend) RevokeRefreshToken(tok string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.refresh, tok)
}

// FailLogout toggles logout failure.
func (b *Backend) FailLogout(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLogout = fail
}

// SetRefreshDelay makes Refresh sleep before answering, so tests can hold
// several callers in flight at once.
func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// RefreshCalls reports how many refresh round trips actually happened.
func (b *Backend) RefreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

// Store is an in-memory authkit.CredentialStore with the same consistency
// rules as the durable implementations.
type Store struct {
	mu       sync.Mutex
	userJSON string
	access   string
	refresh  string
	loadErr  error
	saveErr  error
}

// compile-time check
var _ authkit.CredentialStore = (*Store)(nil)

// NewStore creates an empty in-memory credential store.
func NewStore() *Store { return &Store{} }

// Save writes the three entries.
func (s *Store) Save(_ context.Context, user *authkit.User, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("authkit/fake: encode user: %w", err)
	}
	s.userJSON = string(data)
	s.access = accessToken
	s.refresh = refreshToken
	return nil
}

// Load reads back whatever is present, clearing everything when the user
// entry is corrupted.
func (s *Store) Load(_ context.Context) (authkit.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return authkit.Snapshot{}, s.loadErr
	}

	var snap authkit.Snapshot
	if s.userJSON != "" {
		var u authkit.User
		if err := json.Unmarshal([]byte(s.userJSON), &u); err != nil || !u.Role.Valid() {
			s.userJSON, s.access, s.refresh = "", "", ""
			return authkit.Snapshot{}, nil
		}
		snap.User = &u
	}
	snap.AccessToken = s.access
	snap.RefreshToken = s.refresh
	return snap, nil
}

// Clear removes all three entries. Idempotent.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userJSON, s.access, s.refresh = "", "", ""
	return nil
}

// --- test controls ---

// Seed places a snapshot directly into the store.
func (s *Store) Seed(user *authkit.User, accessToken, refreshToken string) {
	data, _ := json.Marshal(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userJSON = string(data)
	s.access = accessToken
	s.refresh = refreshToken
}

// Corrupt overwrites the user entry with garbage.
func (s *Store) Corrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userJSON = "{definitely-not-json"
}

// DropAccessToken removes only the access token entry, simulating a torn
// write between entries.
func (s *Store) DropAccessToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
}

// FailLoad makes Load return err until called with nil.
func (s *Store) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailSave makes Save return err until called with nil.
func (s *Store) FailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Snapshot returns a copy of the raw entries for assertions.
func (s *Store) Snapshot() (userJSON, accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userJSON, s.access, s.refresh
}
