package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleetconsole.org/internal/device"
	"fleetconsole.org/internal/events"
	"fleetconsole.org/internal/policy"
	"fleetconsole.org/internal/rbac"
	"fleetconsole.org/internal/tenant"
)

func timeParam(q url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New(name + " must be an RFC3339 timestamp")
	}
	return &ts, nil
}

func multiParam(q url.Values, name string) []string {
	values := q[name]
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func eventFilters(q url.Values) (events.Filters, error) {
	start, err := timeParam(q, "start")
	if err != nil {
		return events.Filters{}, err
	}
	end, err := timeParam(q, "end")
	if err != nil {
		return events.Filters{}, err
	}
	return events.Filters{
		OrgIDs:      multiParam(q, "orgId"),
		DeviceIDs:   multiParam(q, "deviceId"),
		ActionTypes: multiParam(q, "type"),
		Severities:  multiParam(q, "severity"),
		Actors:      multiParam(q, "actor"),
		Start:       start,
		End:         end,
		Search:      q.Get("search"),
	}, nil
}

// --- devices ---

func (a *API) handleDevicesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	after, err := timeParam(q, "lastSeenAfter")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	before, err := timeParam(q, "lastSeenBefore")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	devices, err := a.app.ListDevices(device.Filters{
		OrgIDs:         multiParam(q, "orgId"),
		Statuses:       multiParam(q, "status"),
		Search:         q.Get("search"),
		LastSeenAfter:  after,
		LastSeenBefore: before,
	})
	if err != nil {
		handleConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": devices})
}

func (a *API) handleDeviceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/devices/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/sync"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		d, err := a.app.TriggerDeviceSync(id)
		if err != nil {
			handleConsoleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}

	if id, ok := strings.CutSuffix(path, "/decommission"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		d, err := a.app.DecommissionDevice(id)
		if err != nil {
			handleConsoleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	filters, err := eventFilters(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.app.GetDeviceDetail(path, filters)
	if err != nil {
		handleConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- policies ---

type publishPolicyRequest struct {
	OrgID  string        `json:"orgId"`
	Bundle policy.Bundle `json:"bundle"`
}

func (a *API) handlePoliciesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orgID := strings.TrimSpace(r.URL.Query().Get("orgId"))
		if orgID == "" {
			writeError(w, r, http.StatusBadRequest, "orgId is required")
			return
		}
		records, err := a.app.ListPolicies(orgID)
		if err != nil {
			handleConsoleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records})
	case http.MethodPost:
		var req publishPolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := a.app.PublishPolicy(req.OrgID, req.Bundle)
		if err != nil {
			handleConsoleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/policies/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "policy not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}

	var updates policy.Updates
	if err := decodeJSON(w, r, &updates); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.app.UpdatePolicy(id, updates)
	if err != nil {
		handleConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- events ---

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	filters, err := eventFilters(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.app.ListEvents(filters)
	if err != nil {
		handleConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (a *API) handleEventsExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	filters, err := eventFilters(q)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	format := strings.TrimSpace(q.Get("format"))
	out, err := a.app.ExportEvents(events.ExportOptions{Format: format, Filter: filters})
	if err != nil {
		if errors.Is(err, events.ErrUnsupportedFormat) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		handleConsoleError(w, r, err)
		return
	}
	if format == "json" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

// --- tenants ---

type createTenantRequest struct {
	Name       string       `json:"name"`
	ResellerID string       `json:"resellerId"`
	Owner      *tenant.User `json:"owner"`
}

type assignUserRequest struct {
	User tenant.User `json:"user"`
	Role rbac.Role   `json:"role"`
}

type promoteOwnerRequest struct {
	UserID string `json:"userId"`
}

func (a *API) handleTenantsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := a.app.CreateTenant(tenant.Input{
		Name:       req.Name,
		ResellerID: req.ResellerID,
		Owner:      req.Owner,
	})
	if err != nil {
		handleConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")

	if id, ok := strings.CutSuffix(path, "/users"); ok {
		switch r.Method {
		case http.MethodGet:
			roster, err := a.app.ListTenantUsers(id)
			if err != nil {
				handleConsoleError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": roster})
		case http.MethodPost:
			var req assignUserRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			roster, err := a.app.AssignUserRole(id, req.User, req.Role)
			if err != nil {
				handleConsoleError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": roster})
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/owner"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req promoteOwnerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		summary, err := a.app.PromoteTenantOwner(id, req.UserID)
		if err != nil {
			handleConsoleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) handleResellers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	groups, err := a.app.GetResellerHierarchy()
	if err != nil {
		handleConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": groups})
}
