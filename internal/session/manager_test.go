package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetconsole.org/internal/rbac"
)

type fakeAuthClient struct {
	loginResult   AuthResult
	loginErr      error
	refreshResult AuthResult
	refreshErr    error
	loginCalls    int
	refreshCalls  int
}

func (f *fakeAuthClient) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return AuthResult{}, f.loginErr
	}
	return f.loginResult, nil
}

func (f *fakeAuthClient) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return AuthResult{}, f.refreshErr
	}
	return f.refreshResult, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLoginBuildsCookieDirectives(t *testing.T) {
	expires := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeAuthClient{loginResult: AuthResult{
		Token:        "tok-1",
		RefreshToken: "ref-1",
		Role:         rbac.RoleAdmin,
		ExpiresAt:    expires,
	}}
	m, err := NewManager(client, WithClock(fixedClock(issued)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	rec, err := m.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	c := rec.Cookie
	if c.Name != "session" || c.Value != "tok-1" {
		t.Fatalf("unexpected cookie identity: %+v", c)
	}
	if !c.HTTPOnly || c.SameSite != "strict" || !c.Secure || c.Path != "/" {
		t.Fatalf("unexpected cookie directives: %+v", c)
	}
	if !c.Expires.Equal(expires) {
		t.Fatalf("cookie expires %v, want %v", c.Expires, expires)
	}
	if rec.RefreshCookie.Name != "session_refresh" {
		t.Fatalf("unexpected refresh cookie name: %s", rec.RefreshCookie.Name)
	}
	if !rec.IssuedAt.Equal(issued) {
		t.Fatalf("issuedAt %v, want %v", rec.IssuedAt, issued)
	}
}

func TestLoginRejectsDisallowedRole(t *testing.T) {
	client := &fakeAuthClient{loginResult: AuthResult{Token: "t", RefreshToken: "r", Role: "SuperUser"}}
	m, _ := NewManager(client)
	if _, err := m.Login(context.Background(), Credentials{}); !errors.Is(err, ErrRoleNotPermitted) {
		t.Fatalf("expected ErrRoleNotPermitted, got %v", err)
	}
	if m.ActiveSession() != nil {
		t.Fatal("failed login must not install a session")
	}
}

func TestRefreshValidations(t *testing.T) {
	client := &fakeAuthClient{
		loginResult:   AuthResult{Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour)},
		refreshResult: AuthResult{Token: "t2", RefreshToken: "r2", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(2 * time.Hour)},
	}
	m, _ := NewManager(client)

	if _, err := m.Refresh(context.Background(), "r1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}

	if _, err := m.Login(context.Background(), Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := m.Refresh(context.Background(), "wrong"); !errors.Is(err, ErrInvalidRefresh) {
		t.Fatalf("expected ErrInvalidRefresh, got %v", err)
	}

	rec, err := m.Refresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rec.Token != "t2" || rec.RefreshToken != "r2" {
		t.Fatalf("session slot not replaced: %+v", rec)
	}

	client.refreshErr = errors.New("backend says no")
	if _, err := m.Refresh(context.Background(), "r2"); err == nil {
		t.Fatal("expected collaborator error to propagate")
	}
}

func TestRequireRoleHierarchy(t *testing.T) {
	client := &fakeAuthClient{}
	m, _ := NewManager(client)

	if err := m.RequireRole(rbac.RoleAdmin, rbac.RoleAuditor); err != nil {
		t.Fatalf("admin should satisfy auditor: %v", err)
	}
	if err := m.RequireRole(rbac.RoleAdmin, rbac.RoleAdmin); err != nil {
		t.Fatalf("admin should satisfy admin: %v", err)
	}
	if err := m.RequireRole(rbac.RoleAdmin, rbac.RoleOwner); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("expected ErrInsufficientRole, got %v", err)
	}
	if err := m.RequireRole("Ghost", rbac.RoleAuditor); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if err := m.RequireRole(rbac.RoleOwner, "Ghost"); !errors.Is(err, ErrRoleNotPermitted) {
		t.Fatalf("expected ErrRoleNotPermitted for unknown required role, got %v", err)
	}
}

func TestNewManagerRequiresClient(t *testing.T) {
	if _, err := NewManager(nil); !errors.Is(err, ErrClientRequired) {
		t.Fatalf("expected ErrClientRequired, got %v", err)
	}
}
