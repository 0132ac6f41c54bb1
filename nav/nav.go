// Package nav computes the visible navigation menu for the current user.
//
// Entries are declared once and never mutated at runtime; filtering is a
// pure function of the user and the entry list, so the menu can be rebuilt
// on every session transition.
package nav

import (
	authkit "github.com/certreg/authkit-go"
	"github.com/certreg/authkit-go/rbac"
)

// Entry is a single navigation item, tagged with the roles that may see it
// and, optionally, permissions of which at least one must be held.
type Entry struct {
	Name   string
	Target string

	// RequiredRoles gates the entry by role. RolePublic marks an entry
	// visible to visitors with no session.
	RequiredRoles []authkit.Role

	// RequiredPermissions is an any-of list: the user needs at least one.
	// Empty means no permission requirement beyond the role gate.
	RequiredPermissions []string
}

// Filter returns the sublist of entries visible to user, in declaration
// order. A nil user sees only entries whose RequiredRoles include RolePublic.
func Filter(eval *rbac.Evaluator, user *authkit.User, entries []Entry) []Entry {
	visible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !roleAllowed(user, e.RequiredRoles) {
			continue
		}
		if len(e.RequiredPermissions) > 0 && !eval.HasAnyPermission(user, e.RequiredPermissions...) {
			continue
		}
		visible = append(visible, e)
	}
	return visible
}

func roleAllowed(user *authkit.User, roles []authkit.Role) bool {
	if user == nil {
		for _, r := range roles {
			if r == authkit.RolePublic {
				return true
			}
		}
		return false
	}
	for _, r := range roles {
		if r == user.Role {
			return true
		}
	}
	return false
}

// DefaultMenu returns the registry client's static menu.
func DefaultMenu() []Entry {
	return []Entry{
		{
			Name:          "Verify Certificate",
			Target:        "/verify",
			RequiredRoles: allRolesAndPublic(),
		},
		{
			Name:   "Dashboard",
			Target: "/dashboard",
			RequiredRoles: []authkit.Role{
				authkit.RoleMinistryAdmin, authkit.RoleInstitutionAdmin,
				authkit.RoleInstitutionStaff, authkit.RoleAuditor,
			},
		},
		{
			Name:   "Certificates",
			Target: "/certificates",
			RequiredRoles: []authkit.Role{
				authkit.RoleMinistryAdmin, authkit.RoleInstitutionAdmin,
				authkit.RoleInstitutionStaff, authkit.RoleAuditor,
			},
			RequiredPermissions: []string{"certificates:read"},
		},
		{
			Name:   "Issue Certificate",
			Target: "/certificates/new",
			RequiredRoles: []authkit.Role{
				authkit.RoleMinistryAdmin, authkit.RoleInstitutionAdmin,
				authkit.RoleInstitutionStaff,
			},
			RequiredPermissions: []string{"certificates:create"},
		},
		{
			Name:   "Students",
			Target: "/students",
			RequiredRoles: []authkit.Role{
				authkit.RoleMinistryAdmin, authkit.RoleInstitutionAdmin,
				authkit.RoleInstitutionStaff,
			},
			RequiredPermissions: []string{"students:read"},
		},
		{
			Name:   "Programs",
			Target: "/programs",
			RequiredRoles: []authkit.Role{
				authkit.RoleMinistryAdmin, authkit.RoleInstitutionAdmin,
				authkit.RoleInstitutionStaff, authkit.RoleAuditor,
			},
			RequiredPermissions: []string{"programs:read"},
		},
		{
			Name:          "Institutions",
			Target:        "/institutions",
			RequiredRoles: []authkit.Role{authkit.RoleMinistryAdmin, authkit.RoleAuditor},
		},
		{
			Name:          "My Certificates",
			Target:        "/my/certificates",
			RequiredRoles: []authkit.Role{authkit.RoleStudent},
			RequiredPermissions: []string{
				"certificates:read:own",
			},
		},
		{
			Name:   "Reports",
			Target: "/reports",
			RequiredRoles: []authkit.Role{
				authkit.RoleMinistryAdmin, authkit.RoleInstitutionAdmin, authkit.RoleAuditor,
			},
			RequiredPermissions: []string{"reports:read"},
		},
		{
			Name:          "Audit Log",
			Target:        "/audit",
			RequiredRoles: []authkit.Role{authkit.RoleMinistryAdmin, authkit.RoleAuditor},
			RequiredPermissions: []string{
				"audit:read",
				// ministry_admin passes via the wildcard
			},
		},
	}
}

func allRolesAndPublic() []authkit.Role {
	return authkit.Roles()
}
