package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authkit "github.com/certreg/authkit-go"
	"github.com/certreg/authkit-go/fake"
	"github.com/certreg/authkit-go/rbac"
	"github.com/certreg/authkit-go/session"
)

func staffUser() authkit.User {
	return authkit.User{
		ID:               "u1",
		Email:            "staff@poly.edu",
		Name:             "Staff Member",
		Role:             authkit.RoleInstitutionStaff,
		OrganizationID:   "org-7",
		OrganizationName: "City Polytechnic",
		IsActive:         true,
	}
}

func newSession(t *testing.T) (*session.Store, *fake.Backend, *fake.Store) {
	t.Helper()
	backend := fake.NewBackend(fake.WithUser(staffUser(), "hunter2"))
	creds := fake.NewStore()
	s := session.New(backend, creds, rbac.DefaultTable())
	return s, backend, creds
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	s, _, creds := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	st := s.State()
	if !st.IsAuthenticated {
		t.Error("IsAuthenticated = false after login")
	}
	if st.IsLoading {
		t.Error("IsLoading = true after login settled")
	}
	if st.Err != nil {
		t.Errorf("Err = %v, want nil", st.Err)
	}
	if st.User == nil || st.User.Email != "staff@poly.edu" {
		t.Fatalf("user = %+v", st.User)
	}

	// Credentials persisted as a unit.
	snap, err := creds.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap.User == nil || snap.AccessToken == "" || snap.RefreshToken == "" {
		t.Errorf("persisted snapshot incomplete: %+v", snap)
	}
	if snap.AccessToken != s.AccessToken() {
		t.Error("persisted access token differs from live one")
	}
}

func TestLogin_DerivesPermissionsFromTable(t *testing.T) {
	s, _, _ := newSession(t)

	if err := s.Login(context.Background(), "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	want := []string{
		"certificates:create",
		"certificates:read",
		"students:read",
		"programs:read",
		"verification:read",
	}
	got := s.State().User.Permissions
	if len(got) != len(want) {
		t.Fatalf("permissions = %v, want %v", got, want)
	}
	for _, p := range want {
		if !s.HasPermission(p) {
			t.Errorf("HasPermission(%q) = false, want true", p)
		}
	}
	if s.HasPermission("certificates:revoke") {
		t.Error("HasPermission(certificates:revoke) = true for institution_staff")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s, _, creds := newSession(t)
	ctx := context.Background()

	err := s.Login(ctx, "staff@poly.edu", "wrong")
	if !errors.Is(err, authkit.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	st := s.State()
	if st.IsAuthenticated {
		t.Error("IsAuthenticated = true after failed login")
	}
	if st.IsLoading {
		t.Error("IsLoading = true after failed login settled")
	}
	if st.Err == nil {
		t.Error("Err not recorded for display")
	}

	snap, _ := creds.Load(ctx)
	if !snap.Empty() {
		t.Errorf("credential store not empty after failed login: %+v", snap)
	}
}

// --- Startup restore ---

func TestInitialize_EmptyStore(t *testing.T) {
	s, _, _ := newSession(t)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	st := s.State()
	if st.IsAuthenticated || st.User != nil {
		t.Errorf("state = %+v, want signed out", st)
	}
}

func TestInitialize_ValidAccessToken(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	u := staffUser()
	u.Permissions = rbac.DefaultTable().Permissions(u.Role)
	pair := backend.IssueSession(u.Email)
	creds.Seed(&u, pair.AccessToken, pair.RefreshToken)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	st := s.State()
	if !st.IsAuthenticated {
		t.Fatal("IsAuthenticated = false, want restored session")
	}
	if st.User.ID != u.ID || st.User.Email != u.Email || st.User.Role != u.Role {
		t.Errorf("restored user = %+v, want %+v", st.User, u)
	}
	if s.AccessToken() != pair.AccessToken {
		t.Error("access token changed during a clean restore")
	}
}

func TestInitialize_ExpiredAccessValidRefresh(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	u := staffUser()
	u.Permissions = rbac.DefaultTable().Permissions(u.Role)
	pair := backend.IssueSession(u.Email)
	creds.Seed(&u, pair.AccessToken, pair.RefreshToken)
	backend.ExpireAccessToken(pair.AccessToken)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	st := s.State()
	if !st.IsAuthenticated {
		t.Fatal("IsAuthenticated = false, want refreshed session")
	}
	if st.User.Email != u.Email {
		t.Errorf("user = %+v", st.User)
	}
	if s.AccessToken() == pair.AccessToken {
		t.Error("access token was not replaced by the refresh")
	}

	// The new access token must be persisted alongside the old user.
	snap, _ := creds.Load(ctx)
	if snap.AccessToken != s.AccessToken() {
		t.Error("refreshed access token not persisted")
	}
	if snap.User == nil || snap.User.Email != u.Email {
		t.Error("user snapshot lost during refresh")
	}
}

func TestInitialize_BothTokensInvalid(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	u := staffUser()
	pair := backend.IssueSession(u.Email)
	creds.Seed(&u, pair.AccessToken, pair.RefreshToken)
	backend.ExpireAccessToken(pair.AccessToken)
	backend.RevokeRefreshToken(pair.RefreshToken)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	st := s.State()
	if st.IsAuthenticated || st.User != nil {
		t.Errorf("state = %+v, want signed out", st)
	}
	snap, _ := creds.Load(ctx)
	if !snap.Empty() {
		t.Errorf("credential store not cleared: %+v", snap)
	}
}

func TestInitialize_ExpiredAccessNoRefresh(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	u := staffUser()
	pair := backend.IssueSession(u.Email)
	creds.Seed(&u, pair.AccessToken, "")
	backend.ExpireAccessToken(pair.AccessToken)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if st := s.State(); st.IsAuthenticated {
		t.Error("IsAuthenticated = true with no usable tokens")
	}
	snap, _ := creds.Load(ctx)
	if !snap.Empty() {
		t.Errorf("credential store not cleared: %+v", snap)
	}
}

func TestInitialize_TokenlessUserRecordSelfHeals(t *testing.T) {
	s, _, creds := newSession(t)
	ctx := context.Background()

	u := staffUser()
	creds.Seed(&u, "at-x", "rt-x")
	creds.DropAccessToken()

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if st := s.State(); st.IsAuthenticated {
		t.Error("IsAuthenticated = true from a torn write")
	}
	snap, _ := creds.Load(ctx)
	if !snap.Empty() {
		t.Errorf("torn write not healed: %+v", snap)
	}
}

func TestInitialize_CorruptedStore(t *testing.T) {
	s, _, creds := newSession(t)
	ctx := context.Background()

	u := staffUser()
	creds.Seed(&u, "at-x", "rt-x")
	creds.Corrupt()

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if st := s.State(); st.IsAuthenticated || st.Err != nil {
		t.Errorf("state = %+v, want quietly signed out", st)
	}
}

func TestInitialize_StoreReadErrorDegrades(t *testing.T) {
	s, _, creds := newSession(t)
	creds.FailLoad(errors.New("disk on fire"))

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() must degrade, got error: %v", err)
	}
	if st := s.State(); st.IsAuthenticated || st.IsLoading {
		t.Errorf("state = %+v, want settled signed out", st)
	}
}

func TestInitialize_SecondCallIsNoop(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	// Credentials appearing later must not resurrect the session.
	u := staffUser()
	pair := backend.IssueSession(u.Email)
	creds.Seed(&u, pair.AccessToken, pair.RefreshToken)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() error: %v", err)
	}
	if s.State().IsAuthenticated {
		t.Error("second Initialize() re-ran the restore")
	}
}

// --- Logout ---

func TestLogout_ClearsEverything(t *testing.T) {
	s, _, creds := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}

	st := s.State()
	if st.IsAuthenticated || st.User != nil || st.Err != nil {
		t.Errorf("state = %+v, want clean signed out", st)
	}
	snap, _ := creds.Load(ctx)
	if !snap.Empty() {
		t.Errorf("credential store not cleared: %+v", snap)
	}
	if s.AccessToken() != "" {
		t.Error("access token survived logout")
	}
}

func TestLogout_RemoteFailureStillTearsDown(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	backend.FailLogout(true)

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v (remote failure must not propagate)", err)
	}
	if s.State().IsAuthenticated {
		t.Error("IsAuthenticated = true after logout with failing remote")
	}
	snap, _ := creds.Load(ctx)
	if !snap.Empty() {
		t.Errorf("credential store not cleared: %+v", snap)
	}
}

// --- Refresh ---

func TestRefresh_UpdatesTokenAndStore(t *testing.T) {
	s, _, creds := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	old := s.AccessToken()

	newTok, err := s.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if newTok == old {
		t.Error("Refresh() returned the old token")
	}
	if s.AccessToken() != newTok {
		t.Error("live access token not updated")
	}
	snap, _ := creds.Load(ctx)
	if snap.AccessToken != newTok {
		t.Error("refreshed token not persisted")
	}
	if snap.RefreshToken == "" {
		t.Error("refresh token lost during refresh")
	}
}

func TestRefresh_RejectedForcesSignOut(t *testing.T) {
	s, backend, creds := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	snap, _ := creds.Load(ctx)
	backend.RevokeRefreshToken(snap.RefreshToken)

	_, err := s.Refresh(ctx)
	if !errors.Is(err, authkit.ErrRefreshRejected) {
		t.Fatalf("Refresh() error = %v, want ErrRefreshRejected", err)
	}
	if s.State().IsAuthenticated {
		t.Error("IsAuthenticated = true after rejected refresh")
	}
	after, _ := creds.Load(ctx)
	if !after.Empty() {
		t.Errorf("credential store not cleared: %+v", after)
	}
}

func TestRefresh_ConcurrentCallsCoalesce(t *testing.T) {
	s, backend, _ := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	before := backend.RefreshCalls()
	backend.SetRefreshDelay(150 * time.Millisecond)

	const callers = 8
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tok, err := s.Refresh(ctx)
			if err != nil {
				t.Errorf("Refresh() error: %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	close(start)
	wg.Wait()

	if got := backend.RefreshCalls() - before; got != 1 {
		t.Errorf("backend saw %d refresh round trips, want 1", got)
	}
	for i := 1; i < callers; i++ {
		if tokens[i] != tokens[0] {
			t.Errorf("caller %d got token %q, others got %q", i, tokens[i], tokens[0])
		}
	}
}

func TestRefresh_WithoutSession(t *testing.T) {
	s, _, _ := newSession(t)

	_, err := s.Refresh(context.Background())
	if !errors.Is(err, authkit.ErrRefreshRejected) {
		t.Fatalf("Refresh() without session = %v, want ErrRefreshRejected", err)
	}
}

// --- Observability of state ---

func TestSubscribe_SeesAtomicTransitions(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	var mu sync.Mutex
	var states []session.State
	unsubscribe := s.Subscribe(func(st session.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})
	defer unsubscribe()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 {
		t.Fatal("no state notifications delivered")
	}
	for _, st := range states {
		// An authenticated snapshot always carries a fully-populated user.
		if st.IsAuthenticated {
			if st.User == nil {
				t.Fatal("authenticated snapshot without user")
			}
			if len(st.User.Permissions) == 0 {
				t.Error("authenticated snapshot with empty permissions")
			}
		}
		if !st.IsAuthenticated && !st.IsLoading && st.User != nil {
			t.Error("settled signed-out snapshot still carries a user")
		}
	}
	last := states[len(states)-1]
	if last.IsAuthenticated || last.User != nil {
		t.Errorf("final state = %+v, want signed out", last)
	}
}

func TestState_ReturnsCopies(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	st := s.State()
	st.User.Permissions[0] = "mutated"
	st.User.Email = "evil@example.com"

	again := s.State()
	if again.User.Permissions[0] == "mutated" || again.User.Email == "evil@example.com" {
		t.Error("State() exposes the store's internal user")
	}
}

func TestHasRole(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	if s.HasRole(authkit.RoleInstitutionStaff) {
		t.Error("HasRole() = true while signed out")
	}
	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if !s.HasRole(authkit.RoleInstitutionStaff) {
		t.Error("HasRole(institution_staff) = false after login")
	}
	if s.HasRole(authkit.RoleEmployer) {
		t.Error("HasRole(employer) = true for a staff user")
	}
}

func TestNeedsRefresh_OpaqueToken(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	if err := s.Login(ctx, "staff@poly.edu", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	// Fake tokens are opaque strings; absence of an expiry hint must not
	// trigger refresh.
	if s.NeedsRefresh(5 * time.Minute) {
		t.Error("NeedsRefresh() = true for an opaque token")
	}
}
