// Package file provides a file-backed CredentialStore.
//
// Each of the three entries (user snapshot, access token, refresh token) is
// an independent file under the store directory, mirroring the durable
// key-value storage of the web client. Writes go through a temp file and
// rename so a single entry is never half-written; writes across entries are
// not transactional — a crash between entries is healed on the next Load.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	authkit "github.com/certreg/authkit-go"
)

// Entry file names within the store directory.
const (
	userEntry    = "auth_user.json"
	accessEntry  = "access_token"
	refreshEntry = "refresh_token"
)

// Store implements authkit.CredentialStore on a local directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

// compile-time check
var _ authkit.CredentialStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a structured logger for corruption recovery events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a file-backed store rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("authkit/store/file: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("authkit/store/file: create dir: %w", err)
	}

	s := &Store{dir: dir, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Save writes the user snapshot and both tokens as three independent entries.
func (s *Store) Save(_ context.Context, user *authkit.User, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("authkit/store/file: encode user: %w", err)
	}
	if err := s.writeEntry(userEntry, data); err != nil {
		return err
	}
	if err := s.writeEntry(accessEntry, []byte(accessToken)); err != nil {
		return err
	}
	return s.writeEntry(refreshEntry, []byte(refreshToken))
}

// Load reads back whatever entries are present. A user entry that does not
// parse as a valid user is treated as absent: all three entries are cleared
// and an empty snapshot is returned.
func (s *Store) Load(ctx context.Context) (authkit.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap authkit.Snapshot

	userData, err := s.readEntry(userEntry)
	if err != nil {
		return authkit.Snapshot{}, err
	}
	if userData != nil {
		var u authkit.User
		if jsonErr := json.Unmarshal(userData, &u); jsonErr != nil || !u.Role.Valid() {
			s.logger.Warn("discarding corrupted credential store",
				"dir", s.dir,
				"err", errors.Join(authkit.ErrStorageCorrupted, jsonErr))
			if clearErr := s.clearLocked(); clearErr != nil {
				return authkit.Snapshot{}, clearErr
			}
			return authkit.Snapshot{}, nil
		}
		snap.User = &u
	}

	access, err := s.readEntry(accessEntry)
	if err != nil {
		return authkit.Snapshot{}, err
	}
	snap.AccessToken = strings.TrimSpace(string(access))

	refresh, err := s.readEntry(refreshEntry)
	if err != nil {
		return authkit.Snapshot{}, err
	}
	snap.RefreshToken = strings.TrimSpace(string(refresh))

	return snap, nil
}

// Clear removes all three entries. Idempotent.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

func (s *Store) clearLocked() error {
	for _, name := range []string{userEntry, accessEntry, refreshEntry} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("authkit/store/file: clear %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) writeEntry(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("authkit/store/file: write %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("authkit/store/file: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("authkit/store/file: write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("authkit/store/file: write %s: %w", name, err)
	}
	return nil
}

func (s *Store) readEntry(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authkit/store/file: read %s: %w", name, err)
	}
	return data, nil
}
