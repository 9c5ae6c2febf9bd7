package session

import "errors"

var (
	ErrClientRequired   = errors.New("session: auth client with login and refresh is required")
	ErrRoleNotPermitted = errors.New("session: role is not permitted")
	ErrNoActiveSession  = errors.New("session: no active session")
	ErrInvalidRefresh   = errors.New("session: invalid refresh token")
	ErrUnknownRole      = errors.New("session: unknown role")
	ErrInsufficientRole = errors.New("session: insufficient role")
)
