// Package device holds the managed-device model, the fleet filters and the
// detail view assembled for a single device.
package device

import "time"

// Device statuses reported by the fleet.
const (
	StatusOnline         = "online"
	StatusOffline        = "offline"
	StatusDecommissioned = "decommissioned"
)

// Update states.
const (
	UpdateStateUpToDate        = "up_to_date"
	UpdateStateUpdateAvailable = "update_available"
	UpdateStateUnknown         = "unknown"
)

// Health carries raw telemetry ratios in [0,1]; nil means not reported.
type Health struct {
	Battery      *float64 `json:"battery,omitempty"`
	DiskFree     *float64 `json:"diskFree,omitempty"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
}

// App is one installed application.
type App struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Publisher string `json:"publisher,omitempty"`
}

// UpdateStatus is the OS update channel and state.
type UpdateStatus struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
}

// Device is one enrolled device.
type Device struct {
	ID            string       `json:"id"`
	Hostname      string       `json:"hostname"`
	Model         string       `json:"model"`
	OSVersion     string       `json:"osVersion"`
	PolicyVersion string       `json:"policyVersion"`
	OrgID         string       `json:"orgId"`
	Status        string       `json:"status"`
	LastSeen      string       `json:"lastSeen"`
	LastSync      string       `json:"lastSync,omitempty"`
	Health        Health       `json:"health"`
	InstalledApps []App        `json:"installedApps,omitempty"`
	UpdateStatus  UpdateStatus `json:"updateStatus"`
}

// Clone returns a deep copy.
func (d Device) Clone() Device {
	out := d
	out.Health = Health{
		Battery:      cloneFloat(d.Health.Battery),
		DiskFree:     cloneFloat(d.Health.DiskFree),
		TemperatureC: cloneFloat(d.Health.TemperatureC),
	}
	if d.InstalledApps != nil {
		out.InstalledApps = make([]App, len(d.InstalledApps))
		copy(out.InstalledApps, d.InstalledApps)
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ParseTimestamp parses a device timestamp, RFC3339.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
