package device

import (
	"math"
	"sort"
	"time"

	"fleetconsole.org/internal/events"
)

// Battery status bands, derived from the battery percentage.
const (
	BatteryHealthy  = "healthy"
	BatteryModerate = "moderate"
	BatteryLow      = "low"
	BatteryCritical = "critical"
	BatteryUnknown  = "unknown"
)

// Banner levels escalate, never de-escalate.
const (
	BannerInfo     = "info"
	BannerWarning  = "warning"
	BannerCritical = "critical"
)

const timelineCap = 50

// HealthView is telemetry converted to percentages for display.
type HealthView struct {
	Battery       *int     `json:"battery"`
	DiskFree      *int     `json:"diskFree"`
	TemperatureC  *float64 `json:"temperatureC"`
	BatteryStatus string   `json:"batteryStatus"`
}

// StatusBanner summarises conditions needing operator attention.
type StatusBanner struct {
	Level    string   `json:"level"`
	Messages []string `json:"messages"`
}

// TimelineItem is one event rendered on the device timeline.
type TimelineItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// Timeline is the device's recent event history, newest first.
type Timeline struct {
	Count int            `json:"count"`
	Items []TimelineItem `json:"items"`
}

// Summary is the identifying header of the detail view.
type Summary struct {
	Hostname      string     `json:"hostname"`
	Model         string     `json:"model"`
	OSVersion     string     `json:"osVersion"`
	PolicyVersion string     `json:"policyVersion"`
	LastSync      *time.Time `json:"lastSync"`
}

// Actions flags what the operator may do from the detail page.
type Actions struct {
	CanTriggerSync  bool `json:"canTriggerSync"`
	CanDecommission bool `json:"canDecommission"`
}

// DetailView is the assembled single-device page model.
type DetailView struct {
	ID            string       `json:"id"`
	Summary       Summary      `json:"summary"`
	InstalledApps []App        `json:"installedApps"`
	UpdateStatus  UpdateStatus `json:"updateStatus"`
	Health        HealthView   `json:"health"`
	StatusBanner  StatusBanner `json:"statusBanner"`
	Timeline      Timeline     `json:"timeline"`
	Actions       Actions      `json:"actions"`
}

// BuildDetailView assembles the detail page for one device from its record
// and the event log, applying any extra event filters on top of the device
// scope.
func BuildDetailView(d Device, log []events.Record, extra events.Filters) DetailView {
	scoped := extra
	scoped.DeviceIDs = []string{d.ID}
	filtered := events.Filter(log, scoped)

	health := HealthView{
		Battery:      toPercentage(d.Health.Battery),
		DiskFree:     toPercentage(d.Health.DiskFree),
		TemperatureC: cloneFloat(d.Health.TemperatureC),
	}
	health.BatteryStatus = batteryStatus(health.Battery)

	apps := make([]App, len(d.InstalledApps))
	copy(apps, d.InstalledApps)

	update := d.UpdateStatus
	if update.Channel == "" {
		update.Channel = "stable"
	}
	if update.State == "" {
		update.State = UpdateStateUnknown
	}

	return DetailView{
		ID: d.ID,
		Summary: Summary{
			Hostname:      d.Hostname,
			Model:         d.Model,
			OSVersion:     d.OSVersion,
			PolicyVersion: d.PolicyVersion,
			LastSync:      parseOptional(d.LastSync),
		},
		InstalledApps: apps,
		UpdateStatus:  update,
		Health:        health,
		StatusBanner:  buildStatusBanner(d, health, update),
		Timeline:      buildTimeline(filtered),
		Actions: Actions{
			CanTriggerSync:  true,
			CanDecommission: true,
		},
	}
}

// toPercentage converts a [0,1] ratio to a rounded whole percentage.
func toPercentage(v *float64) *int {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	p := int(math.Round(*v * 100))
	return &p
}

func batteryStatus(percent *int) string {
	switch {
	case percent == nil:
		return BatteryUnknown
	case *percent >= 60:
		return BatteryHealthy
	case *percent >= 40:
		return BatteryModerate
	case *percent >= 20:
		return BatteryLow
	default:
		return BatteryCritical
	}
}

func buildStatusBanner(d Device, health HealthView, update UpdateStatus) StatusBanner {
	banner := StatusBanner{Level: BannerInfo, Messages: []string{}}

	if health.Battery != nil && *health.Battery < 30 {
		banner.Level = BannerWarning
		banner.Messages = append(banner.Messages, "Device battery is below 30%.")
	}
	if health.Battery != nil && *health.Battery < 20 {
		banner.Level = BannerCritical
		banner.Messages = append(banner.Messages, "Device battery is critically low.")
	}
	if health.DiskFree != nil && *health.DiskFree < 15 {
		banner.Level = BannerCritical
		banner.Messages = append(banner.Messages, "Available disk space is critically low.")
	}
	if d.Health.TemperatureC != nil && *d.Health.TemperatureC > 70 {
		banner.Level = BannerCritical
		banner.Messages = append(banner.Messages, "Device temperature exceeds safe limits.")
	}
	if update.State == UpdateStateUpdateAvailable {
		if banner.Level != BannerCritical {
			banner.Level = BannerWarning
		}
		banner.Messages = append(banner.Messages, "An OS update is ready to install.")
	}
	return banner
}

// buildTimeline caps the filtered events, then orders newest first.
func buildTimeline(filtered []events.Record) Timeline {
	capped := filtered
	if len(capped) > timelineCap {
		capped = capped[:timelineCap]
	}
	items := make([]TimelineItem, 0, len(capped))
	for _, rec := range capped {
		var ts time.Time
		if parsed, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			ts = parsed
		}
		items = append(items, TimelineItem{
			ID:        rec.ID,
			Type:      rec.Type,
			Severity:  rec.Severity,
			Timestamp: ts,
			Summary:   rec.Summary,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return Timeline{Count: len(filtered), Items: items}
}

func parseOptional(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &ts
}
