package device

import (
	"strings"
	"time"
)

// Filters are ANDed together; nil/empty dimensions match everything. Search
// matches hostname and model, trimmed and case-insensitive.
type Filters struct {
	OrgIDs         []string
	Statuses       []string
	Search         string
	LastSeenAfter  *time.Time
	LastSeenBefore *time.Time
}

// Filter applies every provided dimension and returns the survivors in input
// order. A device whose lastSeen does not parse is always excluded.
func Filter(devices []Device, f Filters) []Device {
	orgSet := toSet(f.OrgIDs)
	statusSet := toSet(f.Statuses)
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var out []Device
	for _, d := range devices {
		if orgSet != nil && !orgSet[d.OrgID] {
			continue
		}
		if statusSet != nil && !statusSet[d.Status] {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(d.Hostname), search) &&
			!strings.Contains(strings.ToLower(d.Model), search) {
			continue
		}
		if !lastSeenInRange(d.LastSeen, f.LastSeenAfter, f.LastSeenBefore) {
			continue
		}
		out = append(out, d)
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

func lastSeenInRange(lastSeen string, after, before *time.Time) bool {
	ts, err := ParseTimestamp(lastSeen)
	if err != nil {
		return false
	}
	if after != nil && ts.Before(*after) {
		return false
	}
	if before != nil && ts.After(*before) {
		return false
	}
	return true
}
