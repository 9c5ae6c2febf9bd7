package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetconsole.org/internal/rbac"
)

// Manager owns the single active session slot. It authenticates credentials
// through the auth collaborator, validates the returned role against the
// allowed set and enforces the role hierarchy.
type Manager struct {
	client  AuthClient
	now     func() time.Time
	allowed map[rbac.Role]struct{}

	mu     sync.Mutex
	active *Record
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithAllowedRoles restricts the roles a session may carry.
func WithAllowedRoles(roles ...rbac.Role) ManagerOption {
	return func(m *Manager) {
		if len(roles) == 0 {
			return
		}
		m.allowed = make(map[rbac.Role]struct{}, len(roles))
		for _, r := range roles {
			m.allowed[r] = struct{}{}
		}
	}
}

// NewManager constructs a Manager around the auth collaborator.
func NewManager(client AuthClient, opts ...ManagerOption) (*Manager, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	m := &Manager{
		client: client,
		now:    time.Now,
		allowed: map[rbac.Role]struct{}{
			rbac.RoleOwner:   {},
			rbac.RoleAdmin:   {},
			rbac.RoleAuditor: {},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) validateRole(role rbac.Role) error {
	if _, ok := m.allowed[role]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotPermitted, role)
	}
	return nil
}

func (m *Manager) record(res AuthResult) *Record {
	return &Record{
		Token:         res.Token,
		RefreshToken:  res.RefreshToken,
		Role:          res.Role,
		ExpiresAt:     res.ExpiresAt,
		IssuedAt:      m.now(),
		Cookie:        buildCookie(CookieName, res.Token, res.ExpiresAt),
		RefreshCookie: buildCookie(RefreshCookieName, res.RefreshToken, res.ExpiresAt.Add(time.Hour)),
	}
}

// Login authenticates credentials and replaces the active session slot.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Record, error) {
	res, err := m.client.Login(ctx, creds)
	if err != nil {
		return Record{}, err
	}
	if err := m.validateRole(res.Role); err != nil {
		return Record{}, err
	}
	rec := m.record(res)
	m.mu.Lock()
	m.active = rec
	m.mu.Unlock()
	return *rec, nil
}

// Refresh exchanges the refresh token for a new session. The supplied token
// must match the stored one.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Record, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return Record{}, ErrNoActiveSession
	}
	if refreshToken != active.RefreshToken {
		return Record{}, ErrInvalidRefresh
	}
	res, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		return Record{}, err
	}
	if err := m.validateRole(res.Role); err != nil {
		return Record{}, err
	}
	rec := m.record(res)
	m.mu.Lock()
	m.active = rec
	m.mu.Unlock()
	return *rec, nil
}

// ClearActive drops the active session slot.
func (m *Manager) ClearActive() {
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

// ActiveSession returns a copy of the current session, or nil when signed out.
func (m *Manager) ActiveSession() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	rec := *m.active
	return &rec
}

// RequireRole succeeds when the granted role ranks at least as high as the
// required one. Unknown roles fail distinctly from insufficient ones.
func (m *Manager) RequireRole(granted, required rbac.Role) error {
	if err := m.validateRole(required); err != nil {
		return err
	}
	grantedLevel, err := rbac.Rank(granted)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownRole, granted)
	}
	requiredLevel, err := rbac.Rank(required)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownRole, required)
	}
	if grantedLevel < requiredLevel {
		return fmt.Errorf("%w: role %s cannot perform %s action", ErrInsufficientRole, granted, required)
	}
	return nil
}
