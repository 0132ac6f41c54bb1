// Package metrics provides Prometheus metrics for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for session operations.
type Metrics struct {
	enabled bool

	// Login metrics
	loginTotal    prometheus.Counter
	loginFailures *prometheus.CounterVec

	// Token refresh metrics
	refreshTotal     *prometheus.CounterVec
	refreshCoalesced prometheus.Counter

	// Session restore metrics
	restoreTotal *prometheus.CounterVec

	// Permission check metrics
	permissionChecks *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	m.loginTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authkit_login_total",
		Help: "Total login attempts",
	})

	m.loginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_login_failures_total",
		Help: "Total login failures",
	}, []string{"reason"})

	m.refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_token_refresh_total",
		Help: "Total token refresh attempts",
	}, []string{"result"})

	m.refreshCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authkit_token_refresh_coalesced_total",
		Help: "Refresh calls answered by an already in-flight request",
	})

	m.restoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_session_restore_total",
		Help: "Startup session restore outcomes",
	}, []string{"result"})

	m.permissionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_permission_checks_total",
		Help: "Total permission checks",
	}, []string{"result"})

	return m
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin() {
	if !m.enabled {
		return
	}
	m.loginTotal.Inc()
}

// RecordLoginFailure records a failed login.
func (m *Metrics) RecordLoginFailure(reason string) {
	if !m.enabled {
		return
	}
	m.loginFailures.WithLabelValues(reason).Inc()
}

// RecordRefresh records a token refresh outcome.
func (m *Metrics) RecordRefresh(result string) {
	if !m.enabled {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

// RecordRefreshCoalesced records a refresh call that joined an in-flight one.
func (m *Metrics) RecordRefreshCoalesced() {
	if !m.enabled {
		return
	}
	m.refreshCoalesced.Inc()
}

// RecordRestore records a startup session restore outcome.
func (m *Metrics) RecordRestore(result string) {
	if !m.enabled {
		return
	}
	m.restoreTotal.WithLabelValues(result).Inc()
}

// RecordPermissionCheck records a permission check result.
func (m *Metrics) RecordPermissionCheck(allowed bool) {
	if !m.enabled {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.permissionChecks.WithLabelValues(result).Inc()
}
