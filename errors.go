package authkit

import "errors"

// Error taxonomy for the session core. Backends wrap these sentinels so the
// session store can pick the recovery path without knowing the transport.
var (
	// ErrInvalidCredentials is returned by Backend.Login for a bad
	// email/password pair. Surfaced to the user; the session stays signed out.
	ErrInvalidCredentials = errors.New("authkit: invalid credentials")

	// ErrRefreshRejected is returned by Backend.Refresh when the refresh
	// token is expired or invalid. Recovered by a full local sign-out.
	ErrRefreshRejected = errors.New("authkit: refresh token rejected")

	// ErrUnauthorized is returned by Backend.ValidateSession when the access
	// token is no longer accepted. The session store attempts a refresh first.
	ErrUnauthorized = errors.New("authkit: unauthorized")

	// ErrStorageCorrupted marks an unparseable persisted user entry. Store
	// implementations recover by clearing all entries; it is never surfaced
	// to the user.
	ErrStorageCorrupted = errors.New("authkit: stored credentials corrupted")
)
