package authkit

import "context"

// Backend exchanges credentials with the registry auth service.
// Implementations: exchange/ (HTTP), fake/ (testing).
//
// Every call is independent; the backend holds no session state. Login is
// the only non-idempotent operation (server-side side effects are out of
// this SDK's scope).
type Backend interface {
	// Login exchanges an email/password pair for tokens and the user record.
	// Fails with ErrInvalidCredentials on a bad email or password.
	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// Refresh exchanges a refresh token for a new access token.
	// Fails with ErrRefreshRejected if the token is expired or invalid.
	Refresh(ctx context.Context, refreshToken string) (string, error)

	// ValidateSession checks that the access token is still accepted.
	// Fails with ErrUnauthorized when it is not.
	ValidateSession(ctx context.Context, accessToken string) error

	// Logout revokes the refresh token server-side. Best-effort: callers
	// must never let a failure here block local session teardown.
	Logout(ctx context.Context, refreshToken string) error
}

// CredentialStore persists the current user snapshot and token pair across
// client restarts. Implementations: store/file, store/redis, fake/.
//
// The three entries (user, access token, refresh token) are stored
// independently; Load tolerates any subset being absent. A malformed user
// entry is treated as absent: the implementation discards it and clears all
// three entries so the store is never left partially consistent.
type CredentialStore interface {
	// Save writes the user snapshot and both tokens.
	Save(ctx context.Context, user *User, accessToken, refreshToken string) error

	// Load reads back whatever is present. A corrupted user entry yields an
	// empty snapshot after clearing the store, not an error.
	Load(ctx context.Context) (Snapshot, error)

	// Clear removes all three entries. Idempotent.
	Clear(ctx context.Context) error
}
