// Package redis provides a Redis-backed CredentialStore for deployments
// where the client state must survive the local host, e.g. kiosk terminals
// that share a session backend.
//
// The three entries live under independent keys namespaced by a client ID,
// matching the file store's consistency rules: a corrupted user entry is
// discarded and all three keys are deleted.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	authkit "github.com/certreg/authkit-go"
	"github.com/redis/go-redis/v9"
)

const (
	userKey    = "auth_user"
	accessKey  = "access_token"
	refreshKey = "refresh_token"
)

// Store implements authkit.CredentialStore on a Redis client.
type Store struct {
	rdb      redis.UniversalClient
	clientID string
	logger   *slog.Logger
}

// compile-time check
var _ authkit.CredentialStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger for corruption recovery events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Redis-backed store scoped to clientID. All keys are prefixed
// with "authkit:<clientID>:".
func New(rdb redis.UniversalClient, clientID string, opts ...Option) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("authkit/store/redis: redis client is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("authkit/store/redis: clientID is required")
	}

	s := &Store{rdb: rdb, clientID: clientID, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) key(entry string) string {
	return fmt.Sprintf("authkit:%s:%s", s.clientID, entry)
}

// Save writes the user snapshot and both tokens as three independent keys.
func (s *Store) Save(ctx context.Context, user *authkit.User, accessToken, refreshToken string) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("authkit/store/redis: encode user: %w", err)
	}

	if err := s.rdb.Set(ctx, s.key(userKey), data, 0).Err(); err != nil {
		return fmt.Errorf("authkit/store/redis: save user: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(accessKey), accessToken, 0).Err(); err != nil {
		return fmt.Errorf("authkit/store/redis: save access token: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(refreshKey), refreshToken, 0).Err(); err != nil {
		return fmt.Errorf("authkit/store/redis: save refresh token: %w", err)
	}
	return nil
}

// Load reads back whatever keys are present, clearing everything if the
// user entry does not parse as a valid user.
func (s *Store) Load(ctx context.Context) (authkit.Snapshot, error) {
	var snap authkit.Snapshot

	userData, err := s.get(ctx, userKey)
	if err != nil {
		return authkit.Snapshot{}, err
	}
	if userData != "" {
		var u authkit.User
		if jsonErr := json.Unmarshal([]byte(userData), &u); jsonErr != nil || !u.Role.Valid() {
			s.logger.Warn("discarding corrupted credential store",
				"client_id", s.clientID,
				"err", errors.Join(authkit.ErrStorageCorrupted, jsonErr))
			if clearErr := s.Clear(ctx); clearErr != nil {
				return authkit.Snapshot{}, clearErr
			}
			return authkit.Snapshot{}, nil
		}
		snap.User = &u
	}

	if snap.AccessToken, err = s.get(ctx, accessKey); err != nil {
		return authkit.Snapshot{}, err
	}
	if snap.RefreshToken, err = s.get(ctx, refreshKey); err != nil {
		return authkit.Snapshot{}, err
	}
	return snap, nil
}

// Clear removes all three keys. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	err := s.rdb.Del(ctx, s.key(userKey), s.key(accessKey), s.key(refreshKey)).Err()
	if err != nil {
		return fmt.Errorf("authkit/store/redis: clear: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, entry string) (string, error) {
	val, err := s.rdb.Get(ctx, s.key(entry)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("authkit/store/redis: read %s: %w", entry, err)
	}
	return val, nil
}
