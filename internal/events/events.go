// Package events owns the append-only audit/event log: normalization at the
// ingestion boundary, filtering and export.
package events

import (
	"sync"
	"time"

	"fleetconsole.org/internal/ids"
)

// Severity levels recognised by the log.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Record is one normalized event. Type/Message are canonical; ActionType and
// Summary are legacy aliases kept in sync at ingestion so consumers using
// either convention see consistent data.
type Record struct {
	ID         string `json:"id"`
	OrgID      string `json:"orgId,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	Type       string `json:"type"`
	ActionType string `json:"actionType"`
	Severity   string `json:"severity"`
	Actor      string `json:"actor"`
	Message    string `json:"message"`
	Summary    string `json:"summary"`
	Timestamp  string `json:"timestamp"`
}

// Log is the append-only event store.
type Log struct {
	genID ids.Generator
	now   func() time.Time

	mu      sync.RWMutex
	records []Record
}

// LogOption configures the log.
type LogOption func(*Log)

// WithIDGenerator overrides generated event ids.
func WithIDGenerator(gen ids.Generator) LogOption {
	return func(l *Log) {
		if gen != nil {
			l.genID = gen
		}
	}
}

// WithClock overrides the time source used for missing timestamps.
func WithClock(fn func() time.Time) LogOption {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog constructs an empty event log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		genID: ids.New,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Normalize unifies the alias fields into the canonical schema and coerces the
// timestamp to RFC3339, falling back to the clock when missing or unparseable.
func (l *Log) Normalize(event Record) Record {
	out := event

	if out.Type == "" {
		out.Type = out.ActionType
	}
	if out.Type == "" {
		out.Type = SeverityInfo
	}
	if out.ActionType == "" {
		out.ActionType = out.Type
	}
	if out.Message == "" {
		out.Message = out.Summary
	}
	if out.Summary == "" {
		out.Summary = out.Message
	}
	if out.Severity == "" {
		out.Severity = SeverityInfo
	}
	if out.Actor == "" {
		out.Actor = "system"
	}
	if out.ID == "" {
		out.ID = l.genID()
	}
	if ts, err := time.Parse(time.RFC3339, out.Timestamp); err == nil {
		out.Timestamp = ts.UTC().Format(time.RFC3339)
	} else {
		out.Timestamp = l.now().UTC().Format(time.RFC3339)
	}
	return out
}

// Append normalizes and stores the event, returning the stored record.
func (l *Log) Append(event Record) Record {
	normalized := l.Normalize(event)
	l.mu.Lock()
	l.records = append(l.records, normalized)
	l.mu.Unlock()
	return normalized
}

// List returns a copy of every stored record in insertion order.
func (l *Log) List() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// ForDevice returns the stored records for one device.
func (l *Log) ForDevice(deviceID string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, rec := range l.records {
		if rec.DeviceID == deviceID {
			out = append(out, rec)
		}
	}
	return out
}
