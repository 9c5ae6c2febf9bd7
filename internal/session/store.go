package session

import (
	"context"
	"sync"
	"time"

	"fleetconsole.org/internal/rbac"
)

// Status is the observable session lifecycle state.
type Status string

const (
	StatusSignedOut     Status = "signedOut"
	StatusAuthenticated Status = "authenticated"
	StatusError         Status = "error"
)

// State is the snapshot handed to subscribers. The Session field is a copy;
// mutating it never affects the store.
type State struct {
	Status  Status
	Session *Record
	Err     error
}

// Listener receives state snapshots.
type Listener func(State)

// Schedule arms a timer that runs fn after delay and returns a cancel func.
type Schedule func(delay time.Duration, fn func()) (cancel func())

func defaultSchedule(delay time.Duration, fn func()) func() {
	t := time.AfterFunc(delay, fn)
	return func() { t.Stop() }
}

// Store is an observable wrapper around Manager. It owns the signed-in state
// machine and, when enabled, schedules proactive refreshes ahead of expiry.
type Store struct {
	manager       *Manager
	autoRefresh   bool
	refreshWindow time.Duration
	now           func() time.Time
	schedule      Schedule

	mu           sync.Mutex
	status       Status
	session      *Record
	err          error
	listeners    map[int]Listener
	nextListener int
	cancelTimer  func()
}

// StoreOption configures Store behavior.
type StoreOption func(*Store)

// WithAutoRefresh enables scheduled refresh with the given lead window.
func WithAutoRefresh(window time.Duration) StoreOption {
	return func(s *Store) {
		s.autoRefresh = true
		if window > 0 {
			s.refreshWindow = window
		}
	}
}

// WithStoreClock overrides the store's time source.
func WithStoreClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSchedule overrides the timer implementation (useful for tests).
func WithSchedule(fn Schedule) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.schedule = fn
		}
	}
}

// NewStore wraps the manager in an observable store.
func NewStore(manager *Manager, opts ...StoreOption) (*Store, error) {
	if manager == nil {
		return nil, ErrClientRequired
	}
	s := &Store{
		manager:       manager,
		refreshWindow: time.Minute,
		now:           time.Now,
		schedule:      defaultSchedule,
		status:        StatusSignedOut,
		listeners:     make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) snapshotLocked() State {
	st := State{Status: s.status, Err: s.err}
	if s.session != nil {
		rec := *s.session
		st.Session = &rec
	}
	return st
}

// emitLocked notifies every listener with a fresh snapshot. Callers hold the
// mutex; listeners are invoked after copying them out so a listener may
// unsubscribe without deadlock.
func (s *Store) emitLocked() {
	snapshot := s.snapshotLocked()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
	s.mu.Lock()
}

func (s *Store) cancelTimerLocked() {
	if s.cancelTimer != nil {
		s.cancelTimer()
		s.cancelTimer = nil
	}
}

// scheduleRefreshLocked arms the next refresh. At most one timer is pending;
// the previous one is always cancelled first.
func (s *Store) scheduleRefreshLocked(rec Record) {
	s.cancelTimerLocked()
	expiresAt := rec.ExpiresAt
	delay := expiresAt.Sub(s.now()) - s.refreshWindow
	if delay < s.refreshWindow {
		delay = s.refreshWindow
	}
	s.cancelTimer = s.schedule(delay, func() {
		// State already reflects a failure; swallow it so the timer
		// callback never surfaces an unobserved error.
		_, _ = s.Refresh(context.Background())
	})
}

// SignIn authenticates and enters the authenticated state. On failure the
// store state is unchanged and the error propagates.
func (s *Store) SignIn(ctx context.Context, creds Credentials) (Record, error) {
	rec, err := s.manager.Login(ctx, creds)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	s.cancelTimerLocked()
	if s.autoRefresh {
		s.scheduleRefreshLocked(rec)
	}
	copied := rec
	s.session = &copied
	s.status = StatusAuthenticated
	s.err = nil
	s.emitLocked()
	s.mu.Unlock()
	return rec, nil
}

// Refresh exchanges the stored refresh token for a new session. On failure the
// store enters the error state while preserving the last-known session.
func (s *Store) Refresh(ctx context.Context) (Record, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return Record{}, ErrNoActiveSession
	}
	token := s.session.RefreshToken
	s.mu.Unlock()

	rec, err := s.manager.Refresh(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = StatusError
		s.err = err
		s.emitLocked()
		return Record{}, err
	}
	s.cancelTimerLocked()
	if s.autoRefresh {
		s.scheduleRefreshLocked(rec)
	}
	copied := rec
	s.session = &copied
	s.status = StatusAuthenticated
	s.err = nil
	s.emitLocked()
	return rec, nil
}

// SignOut cancels any pending refresh and clears the session unconditionally.
func (s *Store) SignOut() {
	s.mu.Lock()
	s.cancelTimerLocked()
	s.manager.ClearActive()
	s.session = nil
	s.status = StatusSignedOut
	s.err = nil
	s.emitLocked()
	s.mu.Unlock()
}

// Subscribe registers a listener. It receives the current snapshot immediately
// and then every subsequent transition. The returned func unsubscribes.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	fn(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CanAccess reports whether the signed-in role satisfies the required role,
// swallowing hierarchy errors into false.
func (s *Store) CanAccess(role rbac.Role) bool {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return false
	}
	return s.manager.RequireRole(sess.Role, role) == nil
}
