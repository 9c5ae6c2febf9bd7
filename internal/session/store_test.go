package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetconsole.org/internal/rbac"
)

type manualTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (t *manualTimer) fire() {
	t.fired = true
	t.fn()
}

// manualScheduler captures timers instead of arming real ones.
type manualScheduler struct {
	timers []*manualTimer
}

func (m *manualScheduler) schedule(delay time.Duration, fn func()) func() {
	timer := &manualTimer{delay: delay, fn: fn}
	m.timers = append(m.timers, timer)
	return func() { timer.cancelled = true }
}

func (m *manualScheduler) pending() []*manualTimer {
	var out []*manualTimer
	for _, t := range m.timers {
		if !t.cancelled && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func newTestStore(t *testing.T, client *fakeAuthClient, opts ...StoreOption) *Store {
	t.Helper()
	m, err := NewManager(client)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := NewStore(m, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSignInTransitionsAndSnapshotIsolation(t *testing.T) {
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour),
	}}
	s := newTestStore(t, client)

	var states []State
	unsubscribe := s.Subscribe(func(st State) { states = append(states, st) })
	defer unsubscribe()

	if len(states) != 1 || states[0].Status != StatusSignedOut {
		t.Fatalf("expected immediate signedOut snapshot, got %+v", states)
	}

	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(states) != 2 || states[1].Status != StatusAuthenticated {
		t.Fatalf("expected authenticated transition, got %+v", states)
	}

	// Mutating a snapshot must not leak into the store.
	states[1].Session.Token = "tampered"
	if s.State().Session.Token != "t1" {
		t.Fatal("snapshot mutation leaked into store state")
	}
}

func TestSignInFailureLeavesStateUnchanged(t *testing.T) {
	client := &fakeAuthClient{loginErr: errors.New("bad credentials")}
	s := newTestStore(t, client)

	if _, err := s.SignIn(context.Background(), Credentials{}); err == nil {
		t.Fatal("expected sign-in error")
	}
	st := s.State()
	if st.Status != StatusSignedOut || st.Session != nil {
		t.Fatalf("state must be unchanged after failed sign-in: %+v", st)
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	s := newTestStore(t, &fakeAuthClient{})
	if _, err := s.Refresh(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestRefreshFailureEntersErrorStatePreservingSession(t *testing.T) {
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour),
	}}
	s := newTestStore(t, client)
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	client.refreshErr = errors.New("refresh rejected")
	if _, err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error to propagate")
	}
	st := s.State()
	if st.Status != StatusError {
		t.Fatalf("expected error status, got %s", st.Status)
	}
	if st.Session == nil || st.Session.Token != "t1" {
		t.Fatal("last-known session payload must be preserved in error state")
	}
	if st.Err == nil {
		t.Fatal("error must remain visible via State()")
	}
}

func TestAutoRefreshSchedulingDelay(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin,
		ExpiresAt: base.Add(5 * time.Minute),
	}}
	sched := &manualScheduler{}
	s := newTestStore(t, client,
		WithAutoRefresh(time.Minute),
		WithStoreClock(fixedClock(base)),
		WithSchedule(sched.schedule),
	)

	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	pending := sched.pending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", len(pending))
	}
	// delay = max(window, expiresAt-now-window) = max(1m, 5m-1m) = 4m
	if pending[0].delay != 4*time.Minute {
		t.Fatalf("delay %v, want 4m", pending[0].delay)
	}
}

func TestAutoRefreshMinimumDelay(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin,
		ExpiresAt: base.Add(90 * time.Second),
	}}
	sched := &manualScheduler{}
	s := newTestStore(t, client,
		WithAutoRefresh(time.Minute),
		WithStoreClock(fixedClock(base)),
		WithSchedule(sched.schedule),
	)
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	// expiresAt-now-window = 30s, below the window floor.
	if got := sched.pending()[0].delay; got != time.Minute {
		t.Fatalf("delay %v, want the 1m window floor", got)
	}
}

func TestScheduledRefreshReschedulesAndSinglePendingTimer(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeAuthClient{
		loginResult: AuthResult{
			Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: base.Add(5 * time.Minute),
		},
		refreshResult: AuthResult{
			Token: "t2", RefreshToken: "r2", Role: rbac.RoleAdmin, ExpiresAt: base.Add(10 * time.Minute),
		},
	}
	sched := &manualScheduler{}
	s := newTestStore(t, client,
		WithAutoRefresh(time.Minute),
		WithStoreClock(fixedClock(base)),
		WithSchedule(sched.schedule),
	)
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	// Fire the scheduled refresh.
	sched.pending()[0].fire()

	if client.refreshCalls != 1 {
		t.Fatalf("expected one refresh call, got %d", client.refreshCalls)
	}
	pending := sched.pending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending timer after refresh, got %d", len(pending))
	}
	if s.State().Session.Token != "t2" {
		t.Fatal("refreshed record not installed")
	}
}

func TestScheduledRefreshFailureIsSwallowed(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: base.Add(5 * time.Minute),
	}}
	sched := &manualScheduler{}
	s := newTestStore(t, client,
		WithAutoRefresh(time.Minute),
		WithStoreClock(fixedClock(base)),
		WithSchedule(sched.schedule),
	)
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	client.refreshErr = errors.New("expired upstream")
	sched.pending()[0].fire() // failure is terminal for this cycle

	st := s.State()
	if st.Status != StatusError || st.Err == nil {
		t.Fatalf("expected error state after failed scheduled refresh, got %+v", st)
	}
	if len(sched.pending()) != 0 {
		t.Fatal("failed cycle must not reschedule")
	}
}

func TestSignOutCancelsTimerAndClearsState(t *testing.T) {
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour),
	}}
	sched := &manualScheduler{}
	s := newTestStore(t, client, WithAutoRefresh(time.Minute), WithSchedule(sched.schedule))
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	s.SignOut()

	if len(sched.pending()) != 0 {
		t.Fatal("sign-out must cancel the pending refresh timer")
	}
	st := s.State()
	if st.Status != StatusSignedOut || st.Session != nil || st.Err != nil {
		t.Fatalf("unexpected state after sign-out: %+v", st)
	}
}

func TestCanAccess(t *testing.T) {
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour),
	}}
	s := newTestStore(t, client)

	if s.CanAccess(rbac.RoleAuditor) {
		t.Fatal("signed-out store must deny access")
	}
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !s.CanAccess(rbac.RoleAuditor) {
		t.Fatal("admin session should satisfy auditor")
	}
	if s.CanAccess(rbac.RoleOwner) {
		t.Fatal("admin session must not satisfy owner")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	client := &fakeAuthClient{loginResult: AuthResult{
		Token: "t1", RefreshToken: "r1", Role: rbac.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour),
	}}
	s := newTestStore(t, client)

	var calls int
	unsubscribe := s.Subscribe(func(State) { calls++ })
	unsubscribe()
	if _, err := s.SignIn(context.Background(), Credentials{}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only the initial snapshot, got %d calls", calls)
	}
}
