package events

import (
	"strings"
	"time"
)

// Filters are ANDed together; nil/empty dimensions match everything.
type Filters struct {
	OrgIDs      []string
	DeviceIDs   []string
	ActionTypes []string
	Severities  []string
	Actors      []string
	Actor       string
	Start       *time.Time
	End         *time.Time
	Search      string
}

// Filter applies every provided dimension to the records and returns the
// survivors in input order.
func Filter(records []Record, f Filters) []Record {
	orgSet := toSet(f.OrgIDs)
	deviceSet := toSet(f.DeviceIDs)
	actionSet := toSet(f.ActionTypes)
	severitySet := toSet(f.Severities)
	actorSet := toSet(f.Actors)
	search := NormalizeSearch(f.Search)

	var out []Record
	for _, rec := range records {
		if orgSet != nil && !orgSet[rec.OrgID] {
			continue
		}
		if deviceSet != nil && !deviceSet[rec.DeviceID] {
			continue
		}
		if actionSet != nil && !actionSet[rec.ActionType] {
			continue
		}
		if severitySet != nil && !severitySet[rec.Severity] {
			continue
		}
		if actorSet != nil && !actorSet[rec.Actor] {
			continue
		}
		if f.Actor != "" && f.Actor != rec.Actor {
			continue
		}
		if !WithinRange(rec.Timestamp, f.Start, f.End) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.Message), search) &&
			!strings.Contains(strings.ToLower(rec.Actor), search) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func toSet(values []string) map[string]bool {
	if values == nil {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// NormalizeSearch trims and lowercases a free-text query. Whitespace-only
// queries match everything.
func NormalizeSearch(search string) string {
	return strings.ToLower(strings.TrimSpace(search))
}

// WithinRange tests an RFC3339 timestamp against an inclusive range. A
// malformed timestamp never matches when a bound is set.
func WithinRange(timestamp string, start, end *time.Time) bool {
	if start == nil && end == nil {
		return true
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return false
	}
	if start != nil && ts.Before(*start) {
		return false
	}
	if end != nil && ts.After(*end) {
		return false
	}
	return true
}
