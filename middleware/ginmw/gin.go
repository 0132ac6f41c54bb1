// Package ginmw provides Gin middleware that guards routes with the
// session store.
//
// The guard evaluates in a fixed order: no session redirects to the login
// page (carrying the attempted location), a failed role check and a failed
// permission check both redirect to the unauthorized page. Role and
// permission requirements are ANDed when both are supplied.
package ginmw

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	authkit "github.com/certreg/authkit-go"
	"github.com/certreg/authkit-go/session"
)

// Context key for the authenticated user in gin.Context.
const KeyUser = "authkit_user"

// Default redirect targets.
const (
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/unauthorized"
)

// GuardConfig describes one protected route.
type GuardConfig struct {
	// Role, when set, must match the user's role exactly.
	Role authkit.Role

	// Permission, when set, must be held by the user.
	Permission string

	// LoginPath overrides DefaultLoginPath.
	LoginPath string

	// UnauthorizedPath overrides DefaultUnauthorizedPath.
	UnauthorizedPath string
}

// Protect returns middleware enforcing cfg against the session store.
//
// The attempted URL rides along to the login page as the "next" query
// parameter; sending the user back there after login is the embedding
// application's responsibility.
func Protect(store *session.Store, cfg GuardConfig) gin.HandlerFunc {
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	unauthorizedPath := cfg.UnauthorizedPath
	if unauthorizedPath == "" {
		unauthorizedPath = DefaultUnauthorizedPath
	}

	return func(c *gin.Context) {
		st := store.State()

		if !st.IsAuthenticated {
			next := url.QueryEscape(c.Request.URL.RequestURI())
			c.Redirect(http.StatusFound, loginPath+"?next="+next)
			c.Abort()
			return
		}
		if cfg.Role != "" && !store.HasRole(cfg.Role) {
			c.Redirect(http.StatusFound, unauthorizedPath)
			c.Abort()
			return
		}
		if cfg.Permission != "" && !store.HasPermission(cfg.Permission) {
			c.Redirect(http.StatusFound, unauthorizedPath)
			c.Abort()
			return
		}

		c.Set(KeyUser, st.User)
		c.Next()
	}
}

// RequireSession returns middleware that only demands an authenticated
// session.
func RequireSession(store *session.Store) gin.HandlerFunc {
	return Protect(store, GuardConfig{})
}

// RequireRole returns middleware demanding an authenticated session with
// exactly the given role.
func RequireRole(store *session.Store, role authkit.Role) gin.HandlerFunc {
	return Protect(store, GuardConfig{Role: role})
}

// RequirePermission returns middleware demanding an authenticated session
// holding the given permission.
func RequirePermission(store *session.Store, permission string) gin.HandlerFunc {
	return Protect(store, GuardConfig{Permission: permission})
}

// GetUser returns the authenticated user from the Gin context, nil outside
// a guarded route.
func GetUser(c *gin.Context) *authkit.User {
	v, _ := c.Get(KeyUser)
	u, _ := v.(*authkit.User)
	return u
}
