// Package console is the single entry point of the management core. Every
// operation runs behind the signed-in gate and the acting role's capability
// check, and every successful mutation appends exactly one normalized event.
package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetconsole.org/internal/device"
	"fleetconsole.org/internal/events"
	"fleetconsole.org/internal/obs"
	"fleetconsole.org/internal/policy"
	"fleetconsole.org/internal/rbac"
	"fleetconsole.org/internal/session"
	"fleetconsole.org/internal/tenant"
)

var (
	ErrCollaboratorRequired = errors.New("console: collaborator is required")
	ErrNotAuthenticated     = errors.New("console: authentication required")
	ErrOrgMismatch          = errors.New("console: policy organization mismatch")
	ErrDeviceNotFound       = errors.New("console: device not found")
)

// Console mediates all mutations to devices, policies, tenants and the event
// log for signed-in operators.
type Console struct {
	sessions *session.Store
	policies *policy.Service
	tenants  *tenant.Manager
	devices  device.Store
	log      *events.Log
	now      func() time.Time

	mu            sync.Mutex
	resellerOrder []string
	resellerIndex map[string][]string
}

// Option configures optional collaborators.
type Option func(*Console)

// WithDeviceStore substitutes the device persistence collaborator.
func WithDeviceStore(store device.Store) Option {
	return func(c *Console) {
		if store != nil {
			c.devices = store
		}
	}
}

// WithEventLog substitutes the event log.
func WithEventLog(log *events.Log) Option {
	return func(c *Console) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(c *Console) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New wires the facade. The session store, policy service and tenant manager
// are required; the device store and event log default to in-memory
// implementations.
func New(sessions *session.Store, policies *policy.Service, tenants *tenant.Manager, opts ...Option) (*Console, error) {
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store", ErrCollaboratorRequired)
	}
	if policies == nil {
		return nil, fmt.Errorf("%w: policy service", ErrCollaboratorRequired)
	}
	if tenants == nil {
		return nil, fmt.Errorf("%w: tenant manager", ErrCollaboratorRequired)
	}
	c := &Console{
		sessions:      sessions,
		policies:      policies,
		tenants:       tenants,
		devices:       device.NewMemoryStore(),
		log:           events.NewLog(),
		now:           time.Now,
		resellerIndex: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SeedDevices loads initial devices into the store. Entries without an id are
// skipped.
func (c *Console) SeedDevices(devices []device.Device) error {
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if err := c.devices.Set(d.ID, d); err != nil {
			return err
		}
	}
	return nil
}

// SeedEvents appends initial events to the log, normalized like any other.
func (c *Console) SeedEvents(records []events.Record) {
	for _, rec := range records {
		c.log.Append(rec)
	}
}

// record appends the event and mirrors it to the audit log stream.
func (c *Console) record(rec events.Record) {
	stored := c.log.Append(rec)
	obs.LogAudit(stored.Type, stored.Severity, stored.Actor, stored.Message)
}

func (c *Console) ensureSignedIn() (session.Record, error) {
	state := c.sessions.State()
	if state.Status != session.StatusAuthenticated || state.Session == nil {
		return session.Record{}, ErrNotAuthenticated
	}
	return *state.Session, nil
}

func (c *Console) ensureViewAccess() (session.Record, error) {
	sess, err := c.ensureSignedIn()
	if err != nil {
		return session.Record{}, err
	}
	if !rbac.CanViewDevices(sess.Role) {
		return session.Record{}, fmt.Errorf("%w: %s role cannot view devices", rbac.ErrCapabilityDenied, sess.Role)
	}
	return sess, nil
}

func (c *Console) ensureCapability(cap rbac.Capability) (session.Record, error) {
	sess, err := c.ensureSignedIn()
	if err != nil {
		return session.Record{}, err
	}
	if err := rbac.AssertRoleAllows(sess.Role, cap); err != nil {
		return session.Record{}, err
	}
	return sess, nil
}

func (c *Console) ensureDevice(deviceID string) (device.Device, error) {
	d, err := c.devices.Get(deviceID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return device.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return device.Device{}, err
	}
	return d, nil
}

// SignIn delegates to the session store.
func (c *Console) SignIn(ctx context.Context, creds session.Credentials) (rec session.Record, err error) {
	defer func() { obs.ObserveConsoleOp("sign_in", err) }()
	return c.sessions.SignIn(ctx, creds)
}

// RefreshSession exchanges the stored refresh token for a new session.
func (c *Console) RefreshSession(ctx context.Context) (rec session.Record, err error) {
	defer func() { obs.ObserveConsoleOp("refresh_session", err) }()
	return c.sessions.Refresh(ctx)
}

// SignOut clears the session unconditionally.
func (c *Console) SignOut() {
	c.sessions.SignOut()
	obs.ObserveConsoleOp("sign_out", nil)
}

// GetSessionState returns the observable session snapshot.
func (c *Console) GetSessionState() session.State {
	return c.sessions.State()
}

// ListDevices returns the filtered fleet for viewers.
func (c *Console) ListDevices(f device.Filters) (out []device.Device, err error) {
	defer func() { obs.ObserveConsoleOp("list_devices", err) }()
	if _, err = c.ensureViewAccess(); err != nil {
		return nil, err
	}
	list, err := c.devices.List()
	if err != nil {
		return nil, err
	}
	return device.Filter(list, f), nil
}

// GetDeviceDetail assembles the detail view for one device.
func (c *Console) GetDeviceDetail(deviceID string, f events.Filters) (view device.DetailView, err error) {
	defer func() { obs.ObserveConsoleOp("get_device_detail", err) }()
	if _, err = c.ensureViewAccess(); err != nil {
		return device.DetailView{}, err
	}
	d, err := c.ensureDevice(deviceID)
	if err != nil {
		return device.DetailView{}, err
	}
	return device.BuildDetailView(d, c.log.ForDevice(deviceID), f), nil
}

// TriggerDeviceSync stamps the device's lastSync and records the action.
func (c *Console) TriggerDeviceSync(deviceID string) (out device.Device, err error) {
	defer func() { obs.ObserveConsoleOp("trigger_device_sync", err) }()
	sess, err := c.ensureViewAccess()
	if err != nil {
		return device.Device{}, err
	}
	d, err := c.ensureDevice(deviceID)
	if err != nil {
		return device.Device{}, err
	}
	d.LastSync = c.now().UTC().Format(time.RFC3339)
	if err = c.devices.Set(deviceID, d); err != nil {
		return device.Device{}, err
	}
	c.record(events.Record{
		Type:     "device_sync",
		DeviceID: deviceID,
		OrgID:    d.OrgID,
		Severity: events.SeverityInfo,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Sync triggered for %s", d.Hostname),
	})
	return d, nil
}

// DecommissionDevice marks the device decommissioned and records a warning.
func (c *Console) DecommissionDevice(deviceID string) (out device.Device, err error) {
	defer func() { obs.ObserveConsoleOp("decommission_device", err) }()
	sess, err := c.ensureCapability(rbac.CapEditPolicies)
	if err != nil {
		return device.Device{}, err
	}
	d, err := c.ensureDevice(deviceID)
	if err != nil {
		return device.Device{}, err
	}
	d.Status = device.StatusDecommissioned
	if err = c.devices.Set(deviceID, d); err != nil {
		return device.Device{}, err
	}
	c.record(events.Record{
		Type:     "device_decommissioned",
		DeviceID: deviceID,
		OrgID:    d.OrgID,
		Severity: events.SeverityWarning,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Device %s decommissioned", d.Hostname),
	})
	return d, nil
}

// PublishPolicy creates a validated policy for the organization. The bundle's
// orgId must match the target organization.
func (c *Console) PublishPolicy(orgID string, bundle policy.Bundle) (rec policy.Record, err error) {
	defer func() { obs.ObserveConsoleOp("publish_policy", err) }()
	sess, err := c.ensureCapability(rbac.CapEditPolicies)
	if err != nil {
		return policy.Record{}, err
	}
	if bundle.OrgID != orgID {
		return policy.Record{}, fmt.Errorf("%w: bundle org %s, target org %s", ErrOrgMismatch, bundle.OrgID, orgID)
	}
	rec, err = c.policies.Create(orgID, bundle, string(sess.Role))
	if err != nil {
		return policy.Record{}, err
	}
	c.record(events.Record{
		Type:     "policy_publish",
		OrgID:    orgID,
		Severity: events.SeverityInfo,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Published policy %s v%v", rec.Name, rec.Version),
	})
	return rec, nil
}

// UpdatePolicy applies partial updates and records the change.
func (c *Console) UpdatePolicy(policyID string, updates policy.Updates) (rec policy.Record, err error) {
	defer func() { obs.ObserveConsoleOp("update_policy", err) }()
	sess, err := c.ensureCapability(rbac.CapEditPolicies)
	if err != nil {
		return policy.Record{}, err
	}
	rec, err = c.policies.Update(policyID, updates, string(sess.Role))
	if err != nil {
		return policy.Record{}, err
	}
	c.record(events.Record{
		Type:     "policy_update",
		OrgID:    rec.OrgID,
		Severity: events.SeverityInfo,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Updated policy %s", rec.Name),
	})
	return rec, nil
}

// ListPolicies returns the organization's policies for viewers.
func (c *Console) ListPolicies(orgID string) (out []policy.Record, err error) {
	defer func() { obs.ObserveConsoleOp("list_policies", err) }()
	if _, err = c.ensureViewAccess(); err != nil {
		return nil, err
	}
	return c.policies.List(orgID)
}

// ListEvents returns the filtered log, newest first.
func (c *Console) ListEvents(f events.Filters) (out []events.Record, err error) {
	defer func() { obs.ObserveConsoleOp("list_events", err) }()
	if _, err = c.ensureViewAccess(); err != nil {
		return nil, err
	}
	filtered := events.Filter(c.log.List(), f)
	sort.SliceStable(filtered, func(i, j int) bool {
		ti, _ := time.Parse(time.RFC3339, filtered[i].Timestamp)
		tj, _ := time.Parse(time.RFC3339, filtered[j].Timestamp)
		return ti.After(tj)
	})
	return filtered, nil
}

// ExportEvents serializes the filtered log in the requested format.
func (c *Console) ExportEvents(opts events.ExportOptions) (out string, err error) {
	defer func() { obs.ObserveConsoleOp("export_events", err) }()
	if _, err = c.ensureViewAccess(); err != nil {
		return "", err
	}
	return events.Export(c.log.List(), opts)
}

// CreateTenant registers a tenant, indexes it under its reseller and records
// the creation.
func (c *Console) CreateTenant(input tenant.Input) (summary tenant.Summary, err error) {
	defer func() { obs.ObserveConsoleOp("create_tenant", err) }()
	sess, err := c.ensureCapability(rbac.CapManageTenants)
	if err != nil {
		return tenant.Summary{}, err
	}
	summary, err = c.tenants.Create(input)
	if err != nil {
		return tenant.Summary{}, err
	}
	c.indexTenant(summary.ResellerID, summary.ID)
	c.record(events.Record{
		Type:     "tenant_created",
		OrgID:    summary.ID,
		Severity: events.SeverityInfo,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Tenant %s created", summary.Name),
	})
	return summary, nil
}

// AssignUserRole upserts the user into the tenant roster and records the
// change.
func (c *Console) AssignUserRole(tenantID string, user tenant.User, role rbac.Role) (roster []tenant.Member, err error) {
	defer func() { obs.ObserveConsoleOp("assign_user_role", err) }()
	sess, err := c.ensureCapability(rbac.CapManageUsers)
	if err != nil {
		return nil, err
	}
	roster, err = c.tenants.AssignUser(tenantID, user, role)
	if err != nil {
		return nil, err
	}
	c.record(events.Record{
		Type:     "user_role_change",
		OrgID:    tenantID,
		Severity: events.SeverityInfo,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Assigned %s to %s", role, user.Email),
	})
	return roster, nil
}

// ListTenantUsers returns the tenant roster.
func (c *Console) ListTenantUsers(tenantID string) (roster []tenant.Member, err error) {
	defer func() { obs.ObserveConsoleOp("list_tenant_users", err) }()
	if _, err = c.ensureCapability(rbac.CapManageUsers); err != nil {
		return nil, err
	}
	return c.tenants.ListUsers(tenantID)
}

// PromoteTenantOwner transfers ownership and records the promotion.
func (c *Console) PromoteTenantOwner(tenantID, userID string) (summary tenant.Summary, err error) {
	defer func() { obs.ObserveConsoleOp("promote_tenant_owner", err) }()
	sess, err := c.ensureCapability(rbac.CapManageTenants)
	if err != nil {
		return tenant.Summary{}, err
	}
	summary, err = c.tenants.PromoteToOwner(tenantID, userID)
	if err != nil {
		return tenant.Summary{}, err
	}
	c.indexTenant(summary.ResellerID, summary.ID)
	c.record(events.Record{
		Type:     "tenant_owner_promoted",
		OrgID:    tenantID,
		Severity: events.SeverityInfo,
		Actor:    string(sess.Role),
		Message:  fmt.Sprintf("Promoted %s to owner", userID),
	})
	return summary, nil
}

// TenantRef identifies one tenant in the hierarchy view.
type TenantRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResellerGroup lists a reseller's tenants.
type ResellerGroup struct {
	ResellerID string      `json:"resellerId"`
	Tenants    []TenantRef `json:"tenants"`
}

// GetResellerHierarchy groups tenants created through the facade by reseller,
// sorted by reseller id.
func (c *Console) GetResellerHierarchy() (groups []ResellerGroup, err error) {
	defer func() { obs.ObserveConsoleOp("get_reseller_hierarchy", err) }()
	if _, err = c.ensureCapability(rbac.CapManageTenants); err != nil {
		return nil, err
	}
	c.mu.Lock()
	order := append([]string(nil), c.resellerOrder...)
	index := make(map[string][]string, len(c.resellerIndex))
	for reseller, tenantIDs := range c.resellerIndex {
		index[reseller] = append([]string(nil), tenantIDs...)
	}
	c.mu.Unlock()

	sort.Strings(order)
	groups = make([]ResellerGroup, 0, len(order))
	for _, reseller := range order {
		group := ResellerGroup{ResellerID: reseller, Tenants: []TenantRef{}}
		for _, tenantID := range index[reseller] {
			summary, err := c.tenants.Get(tenantID)
			if err != nil {
				return nil, err
			}
			group.Tenants = append(group.Tenants, TenantRef{ID: summary.ID, Name: summary.Name})
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// Snapshot is the full console state for a signed-in operator.
type Snapshot struct {
	Devices []device.Device `json:"devices"`
	Events  []events.Record `json:"events"`
}

// GetState returns a defensive snapshot of devices and events.
func (c *Console) GetState() (snap Snapshot, err error) {
	defer func() { obs.ObserveConsoleOp("get_state", err) }()
	if _, err = c.ensureSignedIn(); err != nil {
		return Snapshot{}, err
	}
	devices, err := c.devices.List()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Devices: devices, Events: c.log.List()}, nil
}

func (c *Console) indexTenant(resellerID, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resellerIndex[resellerID]; !ok {
		c.resellerOrder = append(c.resellerOrder, resellerID)
	}
	for _, existing := range c.resellerIndex[resellerID] {
		if existing == tenantID {
			return
		}
	}
	c.resellerIndex[resellerID] = append(c.resellerIndex[resellerID], tenantID)
}
