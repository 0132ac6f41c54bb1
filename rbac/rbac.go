// Package rbac holds the fixed role-to-permission table of the certificate
// registry and the evaluator that gates routes and navigation with it.
//
// Permission strings have the form resource:action[:scope], e.g.
// "certificates:create" or "certificates:read:own". Matching is verbatim:
// "certificates:read:own" does not satisfy a check for "certificates:read".
// Only ministry_admin holds the wildcard.
package rbac

import (
	authkit "github.com/certreg/authkit-go"
)

// Wildcard grants every permission. Held only by ministry_admin.
const Wildcard = "*"

// Table maps each role to the permissions it holds. Immutable by convention:
// it is built once and injected, never mutated at runtime.
type Table map[authkit.Role][]string

// DefaultTable returns the registry's fixed seven-role mapping.
func DefaultTable() Table {
	return Table{
		authkit.RoleMinistryAdmin: {Wildcard},
		authkit.RoleInstitutionAdmin: {
			"certificates:create",
			"certificates:read",
			"certificates:update",
			"certificates:revoke",
			"students:create",
			"students:read",
			"students:update",
			"students:delete",
			"programs:create",
			"programs:read",
			"programs:update",
			"programs:delete",
			"institutions:read:own",
			"institutions:update:own",
			"reports:read",
			"verification:read",
		},
		authkit.RoleInstitutionStaff: {
			"certificates:create",
			"certificates:read",
			"students:read",
			"programs:read",
			"verification:read",
		},
		authkit.RoleAuditor: {
			"certificates:read",
			"institutions:read",
			"programs:read",
			"reports:read",
			"audit:read",
			"verification:read",
		},
		authkit.RoleEmployer: {
			"certificates:read:public",
			"verification:read",
		},
		authkit.RoleStudent: {
			"certificates:read:own",
			"verification:read",
		},
		authkit.RolePublic: {
			"verification:read",
		},
	}
}

// Permissions returns a copy of the table entry for role. Unknown roles
// yield an empty set.
func (t Table) Permissions(role authkit.Role) []string {
	return append([]string(nil), t[role]...)
}

// Evaluator answers hasRole/hasPermission questions against an injected
// table. Both predicates are pure and total: a nil user yields false.
type Evaluator struct {
	table Table
}

// NewEvaluator creates an evaluator over the given table.
func NewEvaluator(t Table) *Evaluator {
	return &Evaluator{table: t}
}

// Table returns the injected table.
func (e *Evaluator) Table() Table { return e.table }

// HasRole reports whether the user holds exactly the given role.
// No hierarchy: ministry_admin does not "have" institution_admin.
func (e *Evaluator) HasRole(u *authkit.User, role authkit.Role) bool {
	return u != nil && u.Role == role
}

// HasPermission reports whether the user's derived permission set contains
// perm verbatim, or the wildcard.
func (e *Evaluator) HasPermission(u *authkit.User, perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == Wildcard || p == perm {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the user holds at least one of the given
// permissions. An empty list yields false.
func (e *Evaluator) HasAnyPermission(u *authkit.User, perms ...string) bool {
	for _, p := range perms {
		if e.HasPermission(u, p) {
			return true
		}
	}
	return false
}
