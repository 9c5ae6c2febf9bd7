package policy

import (
	"fmt"
	"math"
	"strings"
)

// Result aggregates every violation found in a bundle; validation never fails
// fast so callers see the complete list.
type Result struct {
	Valid  bool
	Errors []string
}

var supportedUpdateChannels = map[string]struct{}{
	"stable": {},
	"beta":   {},
	"dev":    {},
}

// Validate checks the structural rules of a policy bundle and collects one
// human-readable message per violation, each naming its field path.
func Validate(bundle Bundle) Result {
	var errs []string

	required := []struct {
		name  string
		value string
	}{
		{"id", bundle.ID},
		{"name", bundle.Name},
		{"version", bundle.Version},
		{"orgId", bundle.OrgID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Sprintf("%s is required and must be a non-empty string", f.name))
		}
	}

	if bundle.Configuration == nil {
		errs = append(errs, "configuration is required")
	} else {
		errs = validateConfiguration(*bundle.Configuration, errs)
	}

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}
	return Result{Valid: true}
}

func validateConfiguration(cfg Configuration, errs []string) []string {
	if len(cfg.Apps) == 0 {
		errs = append(errs, "configuration.apps must contain at least one app assignment")
	} else {
		for i, assignment := range cfg.Apps {
			if strings.TrimSpace(assignment.ID) == "" {
				errs = append(errs, fmt.Sprintf("apps[%d].id must be a non-empty string", i))
			}
			if assignment.Target != "all" && assignment.Target != "group" {
				errs = append(errs, fmt.Sprintf(`apps[%d].target must be either "all" or "group"`, i))
			}
			if assignment.Target == "group" && len(assignment.GroupIDs) == 0 {
				errs = append(errs, fmt.Sprintf("apps[%d].groupIds must be provided for group targets", i))
			}
		}
	}

	if _, ok := supportedUpdateChannels[cfg.UpdateChannel]; !ok {
		errs = append(errs, "configuration.updateChannel must be stable, beta, or dev")
	}

	errs = validateBrowser(cfg.Browser, errs)
	errs = validateNetwork(cfg.Network, errs)
	errs = validateSecurity(cfg.Security, errs)
	return errs
}

func validateBrowser(browser *BrowserSettings, errs []string) []string {
	if browser == nil {
		return append(errs, "browser configuration is required")
	}
	if strings.TrimSpace(browser.HomepageURL) == "" {
		errs = append(errs, "browser.homepageUrl must be a non-empty string")
	}
	return errs
}

func validateNetwork(network *NetworkSettings, errs []string) []string {
	if network == nil {
		return append(errs, "network configuration is required")
	}
	if len(network.WifiNetworks) == 0 {
		return append(errs, "network.wifiNetworks must contain at least one network")
	}
	for i, wifi := range network.WifiNetworks {
		if strings.TrimSpace(wifi.SSID) == "" {
			errs = append(errs, fmt.Sprintf("network.wifiNetworks[%d].ssid must be a non-empty string", i))
		}
		if wifi.Security != "wpa2" && wifi.Security != "wpa3" {
			errs = append(errs, fmt.Sprintf("network.wifiNetworks[%d].security must be wpa2 or wpa3", i))
		}
	}
	return errs
}

func validateSecurity(security *SecuritySettings, errs []string) []string {
	if security == nil {
		return append(errs, "security configuration is required")
	}
	m := security.LockAfterMinutes
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		errs = append(errs, "security.lockAfterMinutes must be a positive number")
	}
	return errs
}

// IsSigned reports whether the bundle carries a signed signature status.
func IsSigned(bundle Bundle) bool {
	return bundle.Signature != nil && bundle.Signature.Status == "signed"
}
