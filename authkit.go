// Package authkit provides a framework-agnostic Go SDK for the session and
// authorization core of the certificate-registry web client.
//
// The SDK defines the contracts for credential exchange against the registry
// auth service (Backend), durable client-side credential persistence
// (CredentialStore), and the role/permission model shared by every consumer.
// Concrete implementations live in subpackages and are injected where they
// are used, keeping the SDK independent of any specific transport or storage.
//
// Example usage with the HTTP auth service and a file-backed store:
//
//	backend := exchange.New("https://registry.example.gov")
//	creds, err := file.New(filepath.Join(home, ".certreg"))
//	sess := session.New(backend, creds, rbac.DefaultTable(),
//	    session.WithLogger(slog.Default()),
//	)
package authkit

import "time"

// Role is one of the seven fixed identities recognized by the registry.
// The set is a compile-time enumeration; there are no dynamic roles.
type Role string

const (
	RoleMinistryAdmin    Role = "ministry_admin"
	RoleInstitutionAdmin Role = "institution_admin"
	RoleInstitutionStaff Role = "institution_staff"
	RoleAuditor          Role = "auditor"
	RoleEmployer         Role = "employer"
	RoleStudent          Role = "student"
	RolePublic           Role = "public"
)

// Roles lists every known role in declaration order.
func Roles() []Role {
	return []Role{
		RoleMinistryAdmin,
		RoleInstitutionAdmin,
		RoleInstitutionStaff,
		RoleAuditor,
		RoleEmployer,
		RoleStudent,
		RolePublic,
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMinistryAdmin, RoleInstitutionAdmin, RoleInstitutionStaff,
		RoleAuditor, RoleEmployer, RoleStudent, RolePublic:
		return true
	}
	return false
}

// User represents an authenticated registry user.
//
// Permissions is derived from the role table at login or session restore;
// it is never taken verbatim from the server and never hand-edited. The
// server remains the authority for every real mutation — this field only
// controls what the client offers to do.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	OrganizationID   string    `json:"organizationId,omitempty"`
	OrganizationName string    `json:"organizationName,omitempty"`
	InstitutionType  string    `json:"institutionType,omitempty"`
	Permissions      []string  `json:"permissions"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the user, or nil for a nil receiver.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = append([]string(nil), u.Permissions...)
	return &c
}

// TokenPair holds the opaque bearer credentials issued at login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Credentials are the inputs to a login attempt.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the outcome of a successful credential exchange.
// User.Permissions is left unset; the session store derives it from
// the role table.
type LoginResult struct {
	User   *User
	Tokens TokenPair
}

// Snapshot is the persisted credential state read back from a
// CredentialStore. Any subset of the fields may be absent.
type Snapshot struct {
	User         *User
	AccessToken  string
	RefreshToken string
}

// Empty reports whether the snapshot holds nothing.
func (s Snapshot) Empty() bool {
	return s.User == nil && s.AccessToken == "" && s.RefreshToken == ""
}
