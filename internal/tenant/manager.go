package tenant

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleetconsole.org/internal/ids"
	"fleetconsole.org/internal/rbac"
)

const defaultReseller = "selfhost"

var (
	ErrNotFound        = errors.New("tenant: not found")
	ErrUserNotFound    = errors.New("tenant: user not assigned")
	ErrDuplicateName   = errors.New("tenant: name already exists for reseller")
	ErrInvalidInput    = errors.New("tenant: invalid input")
	ErrUnsupportedRole = errors.New("tenant: unsupported role")
)

// User identifies an operator within a tenant roster.
type User struct {
	ID    string
	Email string
}

// Member is a roster entry: a user at a role.
type Member struct {
	User
	Role rbac.Role
}

// Summary is the read-only projection of a tenant.
type Summary struct {
	ID         string
	Name       string
	ResellerID string
	Owner      User
	CreatedAt  time.Time
}

// Input describes a tenant to create.
type Input struct {
	Name       string
	ResellerID string
	Owner      *User
}

type record struct {
	id         string
	name       string
	resellerID string
	owner      User
	users      map[string]Member
	createdAt  time.Time
}

// Manager owns the tenant hierarchy: rosters, ownership and per-reseller name
// uniqueness. Every value crossing the boundary is a copy.
type Manager struct {
	genID ids.Generator
	now   func() time.Time

	mu              sync.Mutex
	tenants         map[string]*record
	namesByReseller map[string]string
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithIDGenerator overrides generated tenant ids.
func WithIDGenerator(gen ids.Generator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.genID = gen
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs an empty tenant manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		genID:           ids.New,
		now:             time.Now,
		tenants:         make(map[string]*record),
		namesByReseller: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func resellerKey(resellerID, name string) string {
	return resellerID + "::" + strings.ToLower(name)
}

func (m *Manager) ensureTenantLocked(tenantID string) (*record, error) {
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
	}
	return t, nil
}

func summarize(t *record) Summary {
	return Summary{
		ID:         t.id,
		Name:       t.name,
		ResellerID: t.resellerID,
		Owner:      t.owner,
		CreatedAt:  t.createdAt,
	}
}

// Create registers a tenant, seeding the roster with the owner at role Owner.
// The (resellerId, lowercased name) pair must be unique.
func (m *Manager) Create(input Input) (Summary, error) {
	if input.Name == "" {
		return Summary{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	if input.Owner == nil {
		return Summary{}, fmt.Errorf("%w: owner user is required", ErrInvalidInput)
	}
	resellerID := input.ResellerID
	if resellerID == "" {
		resellerID = defaultReseller
	}
	key := resellerKey(resellerID, input.Name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.namesByReseller[key]; exists {
		return Summary{}, fmt.Errorf("%w: tenant %s already exists for reseller %s", ErrDuplicateName, input.Name, resellerID)
	}
	owner := *input.Owner
	t := &record{
		id:         m.genID(),
		name:       input.Name,
		resellerID: resellerID,
		owner:      owner,
		users: map[string]Member{
			owner.ID: {User: owner, Role: rbac.RoleOwner},
		},
		createdAt: m.now(),
	}
	m.tenants[t.id] = t
	m.namesByReseller[key] = t.id
	return summarize(t), nil
}

// AssignUser upserts the user into the roster at the given role and returns
// the full roster. Upsert is idempotent by user id. Role Owner is rejected:
// a tenant has exactly one Owner entry and ownership moves only through
// PromoteToOwner.
func (m *Manager) AssignUser(tenantID string, user User, role rbac.Role) ([]Member, error) {
	if !rbac.KnownRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRole, role)
	}
	if role == rbac.RoleOwner {
		return nil, fmt.Errorf("%w: ownership is transferred with PromoteToOwner", ErrUnsupportedRole)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.ensureTenantLocked(tenantID)
	if err != nil {
		return nil, err
	}
	t.users[user.ID] = Member{User: user, Role: role}
	return rosterLocked(t), nil
}

// ListUsers returns a copy of the tenant's roster.
func (m *Manager) ListUsers(tenantID string) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.ensureTenantLocked(tenantID)
	if err != nil {
		return nil, err
	}
	return rosterLocked(t), nil
}

func rosterLocked(t *record) []Member {
	out := make([]Member, 0, len(t.users))
	for _, member := range t.users {
		out = append(out, member)
	}
	return out
}

// Get returns a read-only projection of the tenant.
func (m *Manager) Get(tenantID string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.ensureTenantLocked(tenantID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(t), nil
}

// PromoteToOwner demotes the current owner's roster entry to Admin, promotes
// the target user to Owner and moves the owner pointer. Exactly one Owner
// entry exists per tenant at all times.
func (m *Manager) PromoteToOwner(tenantID, userID string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.ensureTenantLocked(tenantID)
	if err != nil {
		return Summary{}, err
	}
	target, ok := t.users[userID]
	if !ok {
		return Summary{}, fmt.Errorf("%w: user %s is not assigned to tenant %s", ErrUserNotFound, userID, tenantID)
	}
	if previous, ok := t.users[t.owner.ID]; ok {
		previous.Role = rbac.RoleAdmin
		t.users[t.owner.ID] = previous
	}
	t.owner = target.User
	target.Role = rbac.RoleOwner
	t.users[userID] = target
	return summarize(t), nil
}
