package device

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("device: not found")

// Store abstracts device persistence so callers can swap the in-memory
// implementation for a database-backed one.
type Store interface {
	Get(id string) (Device, error)
	Set(id string, d Device) error
	Has(id string) (bool, error)
	List() ([]Device, error)
}

// MemoryStore keeps devices in process memory. Values are deep-copied on the
// way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]Device
	order   []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]Device)}
}

func (s *MemoryStore) Get(id string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Set(id string, d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		s.order = append(s.order, id)
	}
	s.devices[id] = d.Clone()
	return nil
}

func (s *MemoryStore) Has(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[id]
	return ok, nil
}

// List returns every device in insertion order.
func (s *MemoryStore) List() ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id].Clone())
	}
	return out, nil
}
