// Package authn is a local authentication backend implementing the console's
// auth collaborator interface. It keeps an in-memory operator directory with
// bcrypt password hashes, signs HS256 access tokens and rotates opaque
// refresh tokens.
package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fleetconsole.org/internal/ids"
	"fleetconsole.org/internal/rbac"
	"fleetconsole.org/internal/session"
)

const defaultIssuer = "fleetconsole"

var (
	ErrInvalidCredentials = errors.New("authn: invalid credentials")
	ErrInvalidToken       = errors.New("authn: invalid or expired refresh token")
	ErrSecretRequired     = errors.New("authn: signing secret is required")
	ErrUserExists         = errors.New("authn: user already exists")
)

type user struct {
	ID           string
	Email        string
	PasswordHash string
	Role         rbac.Role
	TenantID     string
}

type refreshRecord struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
}

// Service issues and refreshes sessions against the local directory.
type Service struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	users   map[string]*user // keyed by lowercased email
	refresh map[string]*refreshRecord
}

var _ session.AuthClient = (*Service)(nil)

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// NewService constructs the backend with the given HS256 signing secret.
func NewService(secret string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	s := &Service{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  30 * time.Minute,
		refreshTTL: 24 * time.Hour,
		now:        time.Now,
		users:      make(map[string]*user),
		refresh:    make(map[string]*refreshRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds an operator to the directory.
func (s *Service) Register(email, password string, role rbac.Role, tenantID string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidCredentials)
	}
	if !rbac.KnownRole(role) {
		return fmt.Errorf("%w: %s", rbac.ErrUnknownRole, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, email)
	}
	s.users[email] = &user{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		TenantID:     tenantID,
	}
	return nil
}

// Login verifies credentials and mints a fresh token pair.
func (s *Service) Login(ctx context.Context, creds session.Credentials) (session.AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(creds.Email))
	s.mu.Lock()
	u, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		return session.AuthResult{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)); err != nil {
		return session.AuthResult{}, ErrInvalidCredentials
	}
	return s.mint(u)
}

// Refresh rotates the refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session.AuthResult, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return session.AuthResult{}, ErrInvalidToken
	}
	s.mu.Lock()
	rec, ok := s.refresh[tokenID]
	if !ok || rec.Revoked || s.now().After(rec.ExpiresAt) {
		s.mu.Unlock()
		return session.AuthResult{}, ErrInvalidToken
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		rec.Revoked = true
		s.mu.Unlock()
		return session.AuthResult{}, ErrInvalidToken
	}
	rec.Revoked = true
	var u *user
	for _, candidate := range s.users {
		if candidate.ID == rec.UserID {
			u = candidate
			break
		}
	}
	s.mu.Unlock()
	if u == nil {
		return session.AuthResult{}, ErrInvalidToken
	}
	return s.mint(u)
}

func (s *Service) mint(u *user) (session.AuthResult, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)

	claims := jwt.MapClaims{
		"iss":    s.issuer,
		"sub":    u.ID,
		"email":  u.Email,
		"role":   string(u.Role),
		"tenant": u.TenantID,
		"iat":    now.Unix(),
		"exp":    expiresAt.Unix(),
		"jti":    uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return session.AuthResult{}, fmt.Errorf("sign token: %w", err)
	}

	refreshToken, rec, err := s.generateRefreshToken(u.ID, now)
	if err != nil {
		return session.AuthResult{}, err
	}
	s.mu.Lock()
	s.refresh[strings.SplitN(refreshToken, ".", 2)[0]] = rec
	s.mu.Unlock()

	return session.AuthResult{
		Token:        signed,
		RefreshToken: refreshToken,
		Role:         u.Role,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken verifies an access token and returns its subject and role.
func (s *Service) ParseToken(token string) (subject string, role rbac.Role, err error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	roleStr, _ := claims["role"].(string)
	if sub == "" || !rbac.KnownRole(rbac.Role(roleStr)) {
		return "", "", ErrInvalidToken
	}
	return sub, rbac.Role(roleStr), nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *refreshRecord, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &refreshRecord{
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
