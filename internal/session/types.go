package session

import (
	"context"
	"time"

	"fleetconsole.org/internal/rbac"
)

// Credentials identify an operator at sign-in.
type Credentials struct {
	Email    string
	Password string
}

// AuthResult is the shape returned by the auth collaborator.
type AuthResult struct {
	Token        string
	RefreshToken string
	Role         rbac.Role
	ExpiresAt    time.Time
}

// AuthClient is the external authentication collaborator.
type AuthClient interface {
	Login(ctx context.Context, creds Credentials) (AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (AuthResult, error)
}

// Cookie carries the directives the web boundary must set for the session.
type Cookie struct {
	Name     string
	Value    string
	HTTPOnly bool
	SameSite string
	Secure   bool
	Path     string
	Expires  time.Time
}

// Record is the session state handed out by the manager. Values crossing this
// boundary are copies; mutating a Record never affects the manager.
type Record struct {
	Token         string
	RefreshToken  string
	Role          rbac.Role
	ExpiresAt     time.Time
	IssuedAt      time.Time
	Cookie        Cookie
	RefreshCookie Cookie
}

const (
	// CookieName is the access-token cookie per the session persistence contract.
	CookieName = "session"
	// RefreshCookieName holds the refresh token.
	RefreshCookieName = "session_refresh"
)

func buildCookie(name, value string, expires time.Time) Cookie {
	return Cookie{
		Name:     name,
		Value:    value,
		HTTPOnly: true,
		SameSite: "strict",
		Secure:   true,
		Path:     "/",
		Expires:  expires,
	}
}
