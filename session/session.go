// Package session owns the client-side session lifecycle: startup restore,
// login, token refresh, and logout.
//
// Store is the single owner and sole mutator of the current user. Readers
// observe state through State snapshots or Subscribe callbacks and never see
// a half-updated user with stale permissions: every transition swaps the
// whole state under one lock.
//
// Permissions are derived client-side from the injected role table, never
// trusted from the server response. The server remains the authority for
// every real mutation; this store only controls what the client offers to
// do, so a stale build with an outdated table can diverge from server-side
// enforcement until it is updated.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	authkit "github.com/certreg/authkit-go"
	"github.com/certreg/authkit-go/audit"
	"github.com/certreg/authkit-go/metrics"
	"github.com/certreg/authkit-go/rbac"
	"github.com/certreg/authkit-go/token"
)

// State is an immutable snapshot of the session.
type State struct {
	User            *authkit.User
	IsAuthenticated bool
	IsLoading       bool

	// Err holds the most recent login failure for display, nil otherwise.
	Err error
}

// Subscriber receives a state snapshot after every transition.
type Subscriber func(State)

// Store is the reactively-observable session state container.
type Store struct {
	backend authkit.Backend
	creds   authkit.CredentialStore
	eval    *rbac.Evaluator
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor *audit.Logger

	mu            sync.RWMutex
	user          *authkit.User
	tokens        authkit.TokenPair
	authenticated bool
	loading       bool
	lastErr       error
	initialized   bool
	subs          map[int]Subscriber
	nextSub       int

	sf singleflight.Group
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithAudit sets the audit logger for session events.
func WithAudit(a *audit.Logger) Option {
	return func(s *Store) { s.auditor = a }
}

// New creates a session store over the given backend, credential store, and
// role table.
func New(backend authkit.Backend, creds authkit.CredentialStore, table rbac.Table, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		creds:   creds,
		eval:    rbac.NewEvaluator(table),
		logger:  slog.Default(),
		metrics: metrics.New(false),
		subs:    make(map[int]Subscriber),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns a snapshot of the current session.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		User:            s.user.Clone(),
		IsAuthenticated: s.authenticated,
		IsLoading:       s.loading,
		Err:             s.lastErr,
	}
}

// AccessToken returns the current access token, empty when signed out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

// Subscribe registers fn to receive a snapshot after every transition.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify delivers the current snapshot to all subscribers outside the lock.
func (s *Store) notify() {
	s.mu.RLock()
	snap := State{
		User:            s.user.Clone(),
		IsAuthenticated: s.authenticated,
		IsLoading:       s.loading,
		Err:             s.lastErr,
	}
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Initialize restores a persisted session at startup. Every failure path
// degrades to a signed-out session rather than blocking the client; only
// the first call does anything.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.loading = true
	s.mu.Unlock()
	s.notify()

	snap, err := s.creds.Load(ctx)
	if err != nil {
		s.logger.Warn("credential store unreadable, starting signed out", "err", err)
		s.settleUnauthenticated(ctx, false)
		s.recordRestore("unauthenticated", err)
		return nil
	}

	if snap.User == nil || snap.AccessToken == "" {
		// A user record without a token (or the reverse) is a torn write;
		// clear the remnants so the store heals.
		if !snap.Empty() {
			s.settleUnauthenticated(ctx, true)
		} else {
			s.settleUnauthenticated(ctx, false)
		}
		s.recordRestore("unauthenticated", nil)
		return nil
	}

	// Tentative user: permissions re-derived from the table, which is
	// authoritative over whatever was persisted by an older build.
	user := snap.User.Clone()
	user.Permissions = s.eval.Table().Permissions(user.Role)

	s.mu.Lock()
	s.user = user
	s.tokens = authkit.TokenPair{AccessToken: snap.AccessToken, RefreshToken: snap.RefreshToken}
	s.mu.Unlock()

	if err := s.backend.ValidateSession(ctx, snap.AccessToken); err == nil {
		s.settleAuthenticated()
		s.recordRestore("authenticated", nil)
		return nil
	} else if !errors.Is(err, authkit.ErrUnauthorized) {
		s.logger.Warn("session validation unavailable", "err", err)
	}

	if snap.RefreshToken == "" {
		s.settleUnauthenticated(ctx, true)
		s.recordRestore("unauthenticated", nil)
		return nil
	}

	if _, err := s.Refresh(ctx); err != nil {
		// Refresh already tore the session down on rejection; make sure the
		// same holds for transport failures.
		s.settleUnauthenticated(ctx, true)
		s.recordRestore("unauthenticated", err)
		return nil
	}

	s.settleAuthenticated()
	s.recordRestore("refreshed", nil)
	return nil
}

// Login exchanges credentials for a session. On failure the error is
// recorded for display and returned so the caller can react; the session
// stays signed out.
func (s *Store) Login(ctx context.Context, email, password string) error {
	s.mu.Lock()
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()

	s.metrics.RecordLogin()

	result, err := s.backend.Login(ctx, email, password)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.lastErr = err
		s.mu.Unlock()
		s.notify()

		reason := "network"
		if errors.Is(err, authkit.ErrInvalidCredentials) {
			reason = "invalid_credentials"
		}
		s.metrics.RecordLoginFailure(reason)
		s.auditEvent(audit.Event{Action: audit.ActionLogin, Email: email, Result: "failure", Error: err.Error()})
		return err
	}

	// The role table, not the server, decides what this client offers.
	user := result.User.Clone()
	user.Permissions = s.eval.Table().Permissions(user.Role)

	if err := s.creds.Save(ctx, user, result.Tokens.AccessToken, result.Tokens.RefreshToken); err != nil {
		// The session still works for this process lifetime; it just will
		// not survive a restart.
		s.logger.Warn("persisting credentials failed", "err", err)
	}

	s.mu.Lock()
	s.user = user
	s.tokens = result.Tokens
	s.authenticated = true
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()

	s.auditEvent(audit.Event{
		Action: audit.ActionLogin, UserID: user.ID, Email: user.Email,
		Role: string(user.Role), Result: "success",
	})
	return nil
}

// Logout revokes the refresh token server-side on a best-effort basis and
// unconditionally tears the local session down.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.tokens.RefreshToken
	user := s.user.Clone()
	s.mu.RUnlock()

	if refreshToken != "" {
		if err := s.backend.Logout(ctx, refreshToken); err != nil {
			s.logger.Warn("remote logout failed, tearing down locally", "err", err)
		}
	}

	s.settleUnauthenticated(ctx, true)

	ev := audit.Event{Action: audit.ActionLogout, Result: "success"}
	if user != nil {
		ev.UserID, ev.Email, ev.Role = user.ID, user.Email, string(user.Role)
	}
	s.auditEvent(ev)
	return nil
}

// Refresh exchanges the refresh token for a new access token and persists
// it. Concurrent callers share a single in-flight exchange; a rejected
// refresh token forces a full local sign-out.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	v, err, shared := s.sf.Do("refresh", func() (any, error) {
		s.mu.RLock()
		refreshToken := s.tokens.RefreshToken
		user := s.user.Clone()
		s.mu.RUnlock()

		if refreshToken == "" {
			return nil, fmt.Errorf("%w: no refresh token", authkit.ErrRefreshRejected)
		}

		newToken, err := s.backend.Refresh(ctx, refreshToken)
		if err != nil {
			s.metrics.RecordRefresh("rejected")
			if errors.Is(err, authkit.ErrRefreshRejected) {
				s.settleUnauthenticated(ctx, true)
			}
			s.auditEvent(audit.Event{Action: audit.ActionRefresh, Result: "failure", Error: err.Error()})
			return nil, err
		}

		s.mu.Lock()
		s.tokens.AccessToken = newToken
		s.mu.Unlock()

		if user != nil {
			if err := s.creds.Save(ctx, user, newToken, refreshToken); err != nil {
				s.logger.Warn("persisting refreshed token failed", "err", err)
			}
		}

		s.metrics.RecordRefresh("success")
		ev := audit.Event{Action: audit.ActionRefresh, Result: "success"}
		if user != nil {
			ev.UserID = user.ID
		}
		s.auditEvent(ev)
		return newToken, nil
	})
	if shared {
		s.metrics.RecordRefreshCoalesced()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// NeedsRefresh reports whether the access token is known to expire within
// the given buffer. Opaque tokens always yield false; callers then rely on
// reactive refresh after a 401.
func (s *Store) NeedsRefresh(buffer time.Duration) bool {
	return token.ExpiresWithin(s.AccessToken(), buffer)
}

// HasRole reports whether the current user holds exactly the given role.
func (s *Store) HasRole(role authkit.Role) bool {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()
	return s.eval.HasRole(user, role)
}

// HasPermission reports whether the current user holds the permission.
func (s *Store) HasPermission(perm string) bool {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	allowed := s.eval.HasPermission(user, perm)
	s.metrics.RecordPermissionCheck(allowed)
	if !allowed && user != nil {
		s.auditEvent(audit.Event{
			Action: audit.ActionPermissionDenied, UserID: user.ID,
			Role: string(user.Role), Result: "denied", Details: perm,
		})
	}
	return allowed
}

// Evaluator returns the permission evaluator bound to this store's table.
func (s *Store) Evaluator() *rbac.Evaluator { return s.eval }

// settleAuthenticated marks the tentative user as authenticated.
func (s *Store) settleAuthenticated() {
	s.mu.Lock()
	s.authenticated = true
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

// settleUnauthenticated resets the session, optionally clearing persisted
// credentials, and notifies subscribers.
func (s *Store) settleUnauthenticated(ctx context.Context, clear bool) {
	if clear {
		if err := s.creds.Clear(ctx); err != nil {
			s.logger.Warn("clearing credential store failed", "err", err)
		}
	}
	s.mu.Lock()
	s.user = nil
	s.tokens = authkit.TokenPair{}
	s.authenticated = false
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) recordRestore(result string, err error) {
	s.metrics.RecordRestore(result)
	ev := audit.Event{Action: audit.ActionSessionRestore, Result: result}
	if err != nil {
		ev.Error = err.Error()
	}
	s.auditEvent(ev)
}

func (s *Store) auditEvent(ev audit.Event) {
	if s.auditor != nil {
		s.auditor.Log(ev)
	}
}
