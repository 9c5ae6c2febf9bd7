package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetconsole.org/internal/ids"
)

var (
	ErrNotFound   = errors.New("policy: not found")
	ErrValidation = errors.New("policy: bundle failed validation")
)

// ValidationError carries the aggregated field errors from the validator.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "policy: bundle failed validation: " + strings.Join(e.Errors, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Service provides versioned CRUD over policy bundles with an append-only
// audit trail per record.
type Service struct {
	store Store
	genID ids.Generator
	now   func() time.Time

	mu       sync.Mutex
	orgIndex map[string][]string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithStore substitutes the persistence collaborator.
func WithStore(store Store) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithIDGenerator overrides generated policy ids.
func WithIDGenerator(gen ids.Generator) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.genID = gen
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the policy service with an in-memory store by default.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		store:    NewMemoryStore(),
		genID:    uuid.NewString,
		now:      time.Now,
		orgIndex: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) resolveID(bundle Bundle) string {
	if strings.TrimSpace(bundle.ID) != "" {
		return bundle.ID
	}
	return s.genID()
}

// Create validates and stores a new policy record, stamping it with a seeded
// audit log and indexing it under its organization.
func (s *Service) Create(orgID string, bundle Bundle, actor string) (Record, error) {
	if actor == "" {
		actor = "system"
	}
	candidate := cloneBundle(bundle)
	candidate.ID = s.resolveID(bundle)

	if result := Validate(candidate); !result.Valid {
		return Record{}, &ValidationError{Errors: result.Errors}
	}

	now := s.now()
	if candidate.Signature == nil {
		candidate.Signature = &Signature{Status: "unsigned"}
	}
	rec := Record{
		Bundle:    candidate,
		CreatedAt: now,
		UpdatedAt: now,
		AuditLog: []AuditEntry{
			{Timestamp: now, Actor: actor, Action: "create"},
		},
	}
	if err := s.store.Set(rec.ID, rec); err != nil {
		return Record{}, err
	}

	// Re-publishing an existing id replaces the record; the index entry must
	// stay unique or List would return the policy twice.
	s.mu.Lock()
	if !slices.Contains(s.orgIndex[orgID], rec.ID) {
		s.orgIndex[orgID] = append(s.orgIndex[orgID], rec.ID)
	}
	s.mu.Unlock()

	return cloneRecord(rec), nil
}

// Update merges the partial updates onto the current record, re-validates the
// merged bundle and appends one audit entry naming the changed fields.
// CreatedAt and prior audit entries are immutable.
func (s *Service) Update(id string, updates Updates, actor string) (Record, error) {
	if actor == "" {
		actor = "system"
	}
	ok, err := s.store.Has(id)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("%w: policy %s", ErrNotFound, id)
	}
	current, err := s.store.Get(id)
	if err != nil {
		return Record{}, err
	}

	merged := cloneRecord(current)
	var changes []string
	if updates.Name != nil {
		merged.Name = *updates.Name
		changes = append(changes, "name")
	}
	if updates.Version != nil {
		merged.Version = *updates.Version
		changes = append(changes, "version")
	}
	if updates.OrgID != nil {
		merged.OrgID = *updates.OrgID
		changes = append(changes, "orgId")
	}
	if updates.Configuration != nil {
		merged.Configuration = cloneBundle(Bundle{Configuration: updates.Configuration}).Configuration
		changes = append(changes, "configuration")
	}
	if updates.Signature != nil {
		sig := *updates.Signature
		merged.Signature = &sig
		changes = append(changes, "signature")
	}

	if result := Validate(merged.Bundle); !result.Valid {
		return Record{}, &ValidationError{Errors: result.Errors}
	}

	now := s.now()
	merged.UpdatedAt = now
	merged.AuditLog = append(merged.AuditLog, AuditEntry{
		Timestamp: now,
		Actor:     actor,
		Action:    "update",
		Changes:   changes,
	})
	if err := s.store.Set(id, merged); err != nil {
		return Record{}, err
	}
	return cloneRecord(merged), nil
}

// Get returns a copy of one policy record.
func (s *Service) Get(id string) (Record, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, fmt.Errorf("%w: policy %s", ErrNotFound, id)
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns copies of the organization's records in insertion order.
func (s *Service) List(orgID string) ([]Record, error) {
	s.mu.Lock()
	idsForOrg := append([]string(nil), s.orgIndex[orgID]...)
	s.mu.Unlock()

	out := make([]Record, 0, len(idsForOrg))
	for _, id := range idsForOrg {
		rec, err := s.store.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
