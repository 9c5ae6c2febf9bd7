package console

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fleetconsole.org/internal/device"
	"fleetconsole.org/internal/events"
	"fleetconsole.org/internal/ids"
	"fleetconsole.org/internal/policy"
	"fleetconsole.org/internal/rbac"
	"fleetconsole.org/internal/session"
	"fleetconsole.org/internal/tenant"
)

type fakeAuthClient struct {
	role rbac.Role
}

func (f *fakeAuthClient) Login(_ context.Context, _ session.Credentials) (session.AuthResult, error) {
	return session.AuthResult{
		Token:        "token",
		RefreshToken: "refresh",
		Role:         f.role,
		ExpiresAt:    time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeAuthClient) Refresh(_ context.Context, _ string) (session.AuthResult, error) {
	return f.Login(context.Background(), session.Credentials{})
}

func fixedNow() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func newConsole(t *testing.T, role rbac.Role) *Console {
	t.Helper()
	manager, err := session.NewManager(&fakeAuthClient{role: role}, session.WithClock(fixedNow))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store, err := session.NewStore(manager, session.WithStoreClock(fixedNow))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	policies := policy.NewService(
		policy.WithIDGenerator(ids.Sequential("policy")),
		policy.WithClock(fixedNow),
	)
	tenants := tenant.NewManager(
		tenant.WithIDGenerator(ids.Sequential("tenant")),
		tenant.WithClock(fixedNow),
	)
	log := events.NewLog(events.WithIDGenerator(ids.Sequential("evt")), events.WithClock(fixedNow))
	c, err := New(store, policies, tenants, WithEventLog(log), WithClock(fixedNow))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func signIn(t *testing.T, c *Console) session.Record {
	t.Helper()
	rec, err := c.SignIn(context.Background(), session.Credentials{Email: "op@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return rec
}

func seedDevice(t *testing.T, c *Console, d device.Device) {
	t.Helper()
	if err := c.SeedDevices([]device.Device{d}); err != nil {
		t.Fatalf("SeedDevices: %v", err)
	}
}

func sampleDevice() device.Device {
	return device.Device{
		ID:       "dev-1",
		Hostname: "alpha-01",
		Model:    "Fleetbook",
		OrgID:    "org-1",
		Status:   device.StatusOnline,
		LastSeen: "2024-03-01T10:00:00Z",
	}
}

func validBundle(orgID string) policy.Bundle {
	return policy.Bundle{
		ID:      "pol-1",
		Name:    "Baseline",
		Version: "1",
		OrgID:   orgID,
		Configuration: &policy.Configuration{
			Apps: []policy.AppAssignment{
				{ID: "app-1", Target: "all"},
			},
			UpdateChannel: "stable",
			Browser:       &policy.BrowserSettings{HomepageURL: "https://intranet.example.com"},
			Network: &policy.NetworkSettings{
				WifiNetworks: []policy.WifiNetwork{{SSID: "corp", Security: "wpa2"}},
			},
			Security: &policy.SecuritySettings{DiskEncryption: true, LockAfterMinutes: 10},
		},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	if _, err := New(nil, c.policies, c.tenants); !errors.Is(err, ErrCollaboratorRequired) {
		t.Fatalf("nil session store: %v", err)
	}
	if _, err := New(c.sessions, nil, c.tenants); !errors.Is(err, ErrCollaboratorRequired) {
		t.Fatalf("nil policy service: %v", err)
	}
	if _, err := New(c.sessions, c.policies, nil); !errors.Is(err, ErrCollaboratorRequired) {
		t.Fatalf("nil tenant manager: %v", err)
	}
}

func TestOperationsRequireAuthentication(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	seedDevice(t, c, sampleDevice())

	if _, err := c.ListDevices(device.Filters{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("ListDevices: %v", err)
	}
	if _, err := c.PublishPolicy("org-1", validBundle("org-1")); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("PublishPolicy: %v", err)
	}
	if _, err := c.GetState(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("GetState: %v", err)
	}
}

func TestCapabilityGates(t *testing.T) {
	c := newConsole(t, rbac.RoleAuditor)
	seedDevice(t, c, sampleDevice())
	signIn(t, c)

	// Auditors can view but not mutate.
	if _, err := c.ListDevices(device.Filters{}); err != nil {
		t.Fatalf("auditor must view devices: %v", err)
	}
	if _, err := c.DecommissionDevice("dev-1"); !errors.Is(err, rbac.ErrCapabilityDenied) {
		t.Fatalf("DecommissionDevice: %v", err)
	}
	if _, err := c.CreateTenant(tenant.Input{}); !errors.Is(err, rbac.ErrCapabilityDenied) {
		t.Fatalf("CreateTenant: %v", err)
	}
	if _, err := c.AssignUserRole("t", tenant.User{}, rbac.RoleAdmin); !errors.Is(err, rbac.ErrCapabilityDenied) {
		t.Fatalf("AssignUserRole: %v", err)
	}

	// Admins may not manage tenants.
	admin := newConsole(t, rbac.RoleAdmin)
	signIn(t, admin)
	if _, err := admin.GetResellerHierarchy(); !errors.Is(err, rbac.ErrCapabilityDenied) {
		t.Fatalf("GetResellerHierarchy as Admin: %v", err)
	}
}

func TestTriggerDeviceSync(t *testing.T) {
	c := newConsole(t, rbac.RoleAdmin)
	seedDevice(t, c, sampleDevice())
	signIn(t, c)

	synced, err := c.TriggerDeviceSync("dev-1")
	if err != nil {
		t.Fatalf("TriggerDeviceSync: %v", err)
	}
	if synced.LastSync != "2024-03-01T12:00:00Z" {
		t.Fatalf("lastSync not stamped: %q", synced.LastSync)
	}

	log := c.log.List()
	if len(log) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(log))
	}
	evt := log[0]
	if evt.Type != "device_sync" || evt.ActionType != "device_sync" {
		t.Fatalf("event type: %+v", evt)
	}
	if evt.Actor != "Admin" || evt.Severity != events.SeverityInfo {
		t.Fatalf("event actor/severity: %+v", evt)
	}
	if !strings.Contains(evt.Message, "alpha-01") {
		t.Fatalf("event message: %q", evt.Message)
	}

	if _, err := c.TriggerDeviceSync("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("unknown device: %v", err)
	}
}

func TestDecommissionDevice(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	seedDevice(t, c, sampleDevice())
	signIn(t, c)

	d, err := c.DecommissionDevice("dev-1")
	if err != nil {
		t.Fatalf("DecommissionDevice: %v", err)
	}
	if d.Status != device.StatusDecommissioned {
		t.Fatalf("status: %q", d.Status)
	}
	log := c.log.List()
	if len(log) != 1 || log[0].Severity != events.SeverityWarning {
		t.Fatalf("decommission must record a warning event: %+v", log)
	}
}

func TestPublishPolicy(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	signIn(t, c)

	if _, err := c.PublishPolicy("org-2", validBundle("org-1")); !errors.Is(err, ErrOrgMismatch) {
		t.Fatalf("org mismatch: %v", err)
	}
	if len(c.log.List()) != 0 {
		t.Fatal("failed publish must not record an event")
	}

	rec, err := c.PublishPolicy("org-1", validBundle("org-1"))
	if err != nil {
		t.Fatalf("PublishPolicy: %v", err)
	}
	if rec.ID != "pol-1" {
		t.Fatalf("record id: %q", rec.ID)
	}
	log := c.log.List()
	if len(log) != 1 || log[0].Type != "policy_publish" || log[0].OrgID != "org-1" {
		t.Fatalf("publish event: %+v", log)
	}

	listed, err := c.ListPolicies("org-1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListPolicies: %+v %v", listed, err)
	}
}

func TestUpdatePolicy(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	signIn(t, c)
	if _, err := c.PublishPolicy("org-1", validBundle("org-1")); err != nil {
		t.Fatalf("PublishPolicy: %v", err)
	}

	version := "2"
	rec, err := c.UpdatePolicy("pol-1", policy.Updates{Version: &version})
	if err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	if rec.Version != "2" || len(rec.AuditLog) != 2 {
		t.Fatalf("update result: %+v", rec)
	}
	log := c.log.List()
	if len(log) != 2 || log[1].Type != "policy_update" {
		t.Fatalf("update event: %+v", log)
	}

	if _, err := c.UpdatePolicy("ghost", policy.Updates{Version: &version}); !errors.Is(err, policy.ErrNotFound) {
		t.Fatalf("unknown policy: %v", err)
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	c := newConsole(t, rbac.RoleAuditor)
	c.SeedEvents([]events.Record{
		{ID: "old", Type: "a", Timestamp: "2024-01-01T00:00:00Z"},
		{ID: "new", Type: "b", Timestamp: "2024-02-01T00:00:00Z"},
	})
	signIn(t, c)

	listed, err := c.ListEvents(events.Filters{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "new" || listed[1].ID != "old" {
		t.Fatalf("ordering: %+v", listed)
	}
}

func TestExportEvents(t *testing.T) {
	c := newConsole(t, rbac.RoleAuditor)
	c.SeedEvents([]events.Record{
		{Type: "a", Summary: "first", Timestamp: "2024-01-01T00:00:00Z"},
		{Type: "b", Summary: "second", Timestamp: "2024-02-01T00:00:00Z"},
	})
	signIn(t, c)

	out, err := c.ExportEvents(events.ExportOptions{Format: "csv"})
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	if got := len(strings.Split(out, "\n")); got != 3 {
		t.Fatalf("expected header plus two rows, got %d lines", got)
	}
}

func TestTenantLifecycle(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	signIn(t, c)

	owner := tenant.User{ID: "owner-id", Email: "owner@example.com"}
	first, err := c.CreateTenant(tenant.Input{Name: "Evergreen High", ResellerID: "reseller-b", Owner: &owner})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if _, err := c.CreateTenant(tenant.Input{Name: "Hillside", ResellerID: "reseller-a", Owner: &owner}); err != nil {
		t.Fatalf("CreateTenant second: %v", err)
	}

	roster, err := c.AssignUserRole(first.ID, tenant.User{ID: "u2", Email: "u2@example.com"}, rbac.RoleAdmin)
	if err != nil || len(roster) != 2 {
		t.Fatalf("AssignUserRole: %+v %v", roster, err)
	}
	listed, err := c.ListTenantUsers(first.ID)
	if err != nil || len(listed) != 2 {
		t.Fatalf("ListTenantUsers: %+v %v", listed, err)
	}

	promoted, err := c.PromoteTenantOwner(first.ID, "u2")
	if err != nil {
		t.Fatalf("PromoteTenantOwner: %v", err)
	}
	if promoted.Owner.ID != "u2" {
		t.Fatalf("owner not moved: %+v", promoted.Owner)
	}

	groups, err := c.GetResellerHierarchy()
	if err != nil {
		t.Fatalf("GetResellerHierarchy: %v", err)
	}
	if len(groups) != 2 || groups[0].ResellerID != "reseller-a" || groups[1].ResellerID != "reseller-b" {
		t.Fatalf("groups must be sorted by reseller id: %+v", groups)
	}
	if len(groups[1].Tenants) != 1 || groups[1].Tenants[0].Name != "Evergreen High" {
		t.Fatalf("tenant refs: %+v", groups[1].Tenants)
	}

	// create, assign, promote: one event each.
	types := make([]string, 0)
	for _, evt := range c.log.List() {
		types = append(types, evt.Type)
	}
	want := []string{"tenant_created", "tenant_created", "user_role_change", "tenant_owner_promoted"}
	if len(types) != len(want) {
		t.Fatalf("event trail: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event trail: %v", types)
		}
	}
}

func TestGetDeviceDetail(t *testing.T) {
	c := newConsole(t, rbac.RoleAuditor)
	seedDevice(t, c, sampleDevice())
	c.SeedEvents([]events.Record{
		{DeviceID: "dev-1", Type: "sync", Summary: "synced", Timestamp: "2024-02-01T00:00:00Z"},
		{DeviceID: "dev-2", Type: "sync", Summary: "other", Timestamp: "2024-02-01T00:00:00Z"},
	})
	signIn(t, c)

	view, err := c.GetDeviceDetail("dev-1", events.Filters{})
	if err != nil {
		t.Fatalf("GetDeviceDetail: %v", err)
	}
	if view.ID != "dev-1" || view.Timeline.Count != 1 {
		t.Fatalf("detail view: %+v", view)
	}
	if _, err := c.GetDeviceDetail("ghost", events.Filters{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("unknown device: %v", err)
	}
}

func TestGetStateSnapshotIsolation(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	seedDevice(t, c, sampleDevice())
	c.SeedEvents([]events.Record{{Type: "a", Timestamp: "2024-01-01T00:00:00Z"}})
	signIn(t, c)

	snap, err := c.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(snap.Devices) != 1 || len(snap.Events) != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
	snap.Devices[0].Hostname = "mutated"
	snap.Events[0].Type = "mutated"

	again, _ := c.GetState()
	if again.Devices[0].Hostname != "alpha-01" || again.Events[0].Type != "a" {
		t.Fatal("snapshot must be a defensive copy")
	}
}

func TestSignOutBlocksFurtherCalls(t *testing.T) {
	c := newConsole(t, rbac.RoleOwner)
	seedDevice(t, c, sampleDevice())
	signIn(t, c)
	c.SignOut()

	if st := c.GetSessionState(); st.Status != session.StatusSignedOut {
		t.Fatalf("status after sign-out: %+v", st)
	}
	if _, err := c.ListDevices(device.Filters{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("ListDevices after sign-out: %v", err)
	}
}
