package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"fleetconsole.org/internal/authn"
	"fleetconsole.org/internal/rbac"
	"fleetconsole.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Role      rbac.Role `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
	IssuedAt  time.Time `json:"issuedAt"`
}

func httpCookie(c session.Cookie) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
		Path:     c.Path,
		Expires:  c.Expires,
		SameSite: http.SameSiteStrictMode,
	}
}

func expireCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteStrictMode,
	}
}

func setSessionCookies(w http.ResponseWriter, rec session.Record) {
	http.SetCookie(w, httpCookie(rec.Cookie))
	http.SetCookie(w, httpCookie(rec.RefreshCookie))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	rec, err := a.app.SignIn(r.Context(), session.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, authn.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, session.ErrRoleNotPermitted):
			writeError(w, r, http.StatusForbidden, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "sign-in failed")
		}
		return
	}

	setSessionCookies(w, rec)
	writeJSON(w, http.StatusOK, sessionResponse{
		Role:      rec.Role,
		ExpiresAt: rec.ExpiresAt,
		IssuedAt:  rec.IssuedAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	rec, err := a.app.RefreshSession(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoActiveSession),
			errors.Is(err, session.ErrInvalidRefresh),
			errors.Is(err, authn.ErrInvalidToken):
			writeError(w, r, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	setSessionCookies(w, rec)
	writeJSON(w, http.StatusOK, sessionResponse{
		Role:      rec.Role,
		ExpiresAt: rec.ExpiresAt,
		IssuedAt:  rec.IssuedAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	a.app.SignOut()
	http.SetCookie(w, expireCookie(session.CookieName))
	http.SetCookie(w, expireCookie(session.RefreshCookieName))
	writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	state := a.app.GetSessionState()
	payload := map[string]any{"status": string(state.Status)}
	if state.Session != nil {
		payload["role"] = state.Session.Role
		payload["expiresAt"] = state.Session.ExpiresAt
	}
	if state.Err != nil {
		payload["error"] = state.Err.Error()
	}
	writeJSON(w, http.StatusOK, payload)
}
