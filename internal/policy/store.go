package policy

import "sync"

// Store is the persistence collaborator for policy records. The default is an
// in-memory map; a durable implementation can be substituted without touching
// business rules.
type Store interface {
	Get(id string) (Record, error)
	Set(id string, rec Record) error
	Has(id string) (bool, error)
}

// MemoryStore keeps records in a mutex-guarded map. Values are deep-copied at
// the boundary in both directions.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Set(id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Has(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func cloneBundle(b Bundle) Bundle {
	out := b
	if b.Configuration != nil {
		cfg := *b.Configuration
		if b.Configuration.Apps != nil {
			cfg.Apps = make([]AppAssignment, len(b.Configuration.Apps))
			for i, app := range b.Configuration.Apps {
				cfg.Apps[i] = app
				if app.GroupIDs != nil {
					cfg.Apps[i].GroupIDs = append([]string(nil), app.GroupIDs...)
				}
			}
		}
		if b.Configuration.Browser != nil {
			browser := *b.Configuration.Browser
			cfg.Browser = &browser
		}
		if b.Configuration.Network != nil {
			network := *b.Configuration.Network
			network.WifiNetworks = append([]WifiNetwork(nil), b.Configuration.Network.WifiNetworks...)
			cfg.Network = &network
		}
		if b.Configuration.Security != nil {
			security := *b.Configuration.Security
			cfg.Security = &security
		}
		out.Configuration = &cfg
	}
	if b.Signature != nil {
		sig := *b.Signature
		out.Signature = &sig
	}
	return out
}

func cloneRecord(r Record) Record {
	out := r
	out.Bundle = cloneBundle(r.Bundle)
	out.AuditLog = make([]AuditEntry, len(r.AuditLog))
	for i, entry := range r.AuditLog {
		out.AuditLog[i] = entry
		if entry.Changes != nil {
			out.AuditLog[i].Changes = append([]string(nil), entry.Changes...)
		}
	}
	return out
}
