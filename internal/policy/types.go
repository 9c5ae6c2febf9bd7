package policy

import "time"

// AppAssignment targets an app at all devices or a set of device groups.
type AppAssignment struct {
	ID       string   `json:"id"`
	Target   string   `json:"target"` // "all" or "group"
	GroupIDs []string `json:"groupIds,omitempty"`
}

// BrowserSettings configures the managed browser.
type BrowserSettings struct {
	HomepageURL string `json:"homepageUrl"`
	AllowPopups bool   `json:"allowPopups"`
}

// WifiNetwork is a provisioned Wi-Fi entry.
type WifiNetwork struct {
	SSID     string `json:"ssid"`
	Security string `json:"security"` // "wpa2" or "wpa3"
}

// NetworkSettings configures device networking.
type NetworkSettings struct {
	WifiNetworks []WifiNetwork `json:"wifiNetworks"`
}

// SecuritySettings configures device security posture.
type SecuritySettings struct {
	DiskEncryption   bool    `json:"diskEncryption"`
	LockAfterMinutes float64 `json:"lockAfterMinutes"`
}

// Configuration is the policy payload applied to devices.
type Configuration struct {
	Apps          []AppAssignment   `json:"apps"`
	UpdateChannel string            `json:"updateChannel"` // stable, beta, dev
	Browser       *BrowserSettings  `json:"browser"`
	Network       *NetworkSettings  `json:"network"`
	Security      *SecuritySettings `json:"security"`
}

// Signature records whether the bundle has been signed. The console records
// the status but never produces signatures itself.
type Signature struct {
	Status string `json:"status"` // "signed" or "unsigned"
	Signer string `json:"signer,omitempty"`
}

// Bundle is a versioned, organization-scoped configuration document.
type Bundle struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	OrgID         string         `json:"orgId"`
	Configuration *Configuration `json:"configuration"`
	Signature     *Signature     `json:"signature,omitempty"`
}

// AuditEntry is one append-only audit trail item. Prior entries are never
// rewritten.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Changes   []string  `json:"changes,omitempty"`
}

// Record is a stored policy with its audit trail.
type Record struct {
	Bundle
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	AuditLog  []AuditEntry `json:"auditLog"`
}

// Updates is a partial bundle merge for Update. Nil fields are left untouched;
// non-nil field names are recorded in the audit entry's Changes.
type Updates struct {
	Name          *string        `json:"name,omitempty"`
	Version       *string        `json:"version,omitempty"`
	OrgID         *string        `json:"orgId,omitempty"`
	Configuration *Configuration `json:"configuration,omitempty"`
	Signature     *Signature     `json:"signature,omitempty"`
}
