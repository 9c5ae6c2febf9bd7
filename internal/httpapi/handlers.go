// Package httpapi exposes the console over HTTP. Handlers are thin: decode,
// delegate to the facade, map errors to status codes.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetconsole.org/internal/console"
	"fleetconsole.org/internal/obs"
	"fleetconsole.org/internal/policy"
	"fleetconsole.org/internal/rbac"
	"fleetconsole.org/internal/tenant"
)

// ReadyProbe reports readiness, pinging the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the console facade.
type API struct {
	mux        *http.ServeMux
	app        *console.Console
	readyProbe ReadyProbe
	version    string
}

func New(app *console.Console, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		app:        app,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/session", a.handleSession)

	a.mux.HandleFunc("/v1/devices", a.handleDevicesCollection)
	a.mux.HandleFunc("/v1/devices/", a.handleDeviceResource)

	a.mux.HandleFunc("/v1/policies", a.handlePoliciesCollection)
	a.mux.HandleFunc("/v1/policies/", a.handlePolicyResource)

	a.mux.HandleFunc("/v1/events", a.handleEvents)
	a.mux.HandleFunc("/v1/events/export", a.handleEventsExport)

	a.mux.HandleFunc("/v1/tenants", a.handleTenantsCollection)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantResource)
	a.mux.HandleFunc("/v1/resellers", a.handleResellers)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with the middleware stack.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fleetconsole-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleConsoleError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *policy.ValidationError
	switch {
	case errors.Is(err, console.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, rbac.ErrCapabilityDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, console.ErrDeviceNotFound),
		errors.Is(err, policy.ErrNotFound),
		errors.Is(err, tenant.ErrNotFound),
		errors.Is(err, tenant.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrDuplicateName):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "bundle failed validation",
			"errors": validation.Errors,
		})
	case errors.Is(err, console.ErrOrgMismatch),
		errors.Is(err, tenant.ErrInvalidInput),
		errors.Is(err, tenant.ErrUnsupportedRole),
		errors.Is(err, rbac.ErrUnknownRole):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
