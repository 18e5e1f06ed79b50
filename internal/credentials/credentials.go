// Package credentials holds the admin credential set, issues and verifies
// JWT token pairs, and tracks refresh sessions so logout can revoke them.
package credentials

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when username/password verification fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is returned for malformed, expired, or revoked tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Set is one immutable credential configuration. Rotation publishes a whole
// new Set so in-flight requests validate against a single version.
type Set struct {
	AdminUser         string
	AdminPasswordHash string // bcrypt; preferred
	AdminPassword     string // plaintext bootstrap fallback
	JWTSecret         []byte
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// SessionStore tracks active refresh sessions by token id.
type SessionStore interface {
	Save(ctx context.Context, id, subject string, expiresAt time.Time) error
	Active(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, id string) error
}

// Store owns the active credential Set and the session registry. Reads are
// lock-free; rotation swaps the Set atomically.
type Store struct {
	set      atomic.Pointer[Set]
	sessions SessionStore
	now      func() time.Time
}

// NewStore creates a Store with the given credential set and session backend.
func NewStore(set *Set, sessions SessionStore) *Store {
	s := &Store{sessions: sessions, now: time.Now}
	s.set.Store(set)
	return s
}

// Rotate atomically replaces the active credential set.
func (s *Store) Rotate(set *Set) {
	s.set.Store(set)
}

// VerifyBasic checks an admin username/password pair in constant time.
func (s *Store) VerifyBasic(username, password string) error {
	set := s.set.Load()

	userOK := constantTimeEquals(username, set.AdminUser)

	var passOK bool
	if set.AdminPasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(set.AdminPasswordHash), []byte(password)) == nil
	} else {
		passOK = constantTimeEquals(password, set.AdminPassword)
	}

	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// IssuePair creates a signed access/refresh token pair for subject and
// registers the refresh session.
func (s *Store) IssuePair(ctx context.Context, subject string) (*TokenPair, error) {
	set := s.set.Load()
	now := s.now()

	accessExp := now.Add(set.AccessTTL)
	access, err := s.sign(set, jwt.MapClaims{
		"sub": subject,
		"typ": "access",
		"iat": now.Unix(),
		"exp": accessExp.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshExp := now.Add(set.RefreshTTL)
	sessionID := uuid.NewString()
	refresh, err := s.sign(set, jwt.MapClaims{
		"sub": subject,
		"typ": "refresh",
		"jti": sessionID,
		"iat": now.Unix(),
		"exp": refreshExp.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.sessions.Save(ctx, sessionID, subject, refreshExp); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token and returns its subject.
func (s *Store) VerifyAccess(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	if typ, _ := claims["typ"].(string); typ != "access" {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Refresh validates a refresh token, revokes its session, and issues a fresh
// pair (refresh token rotation).
func (s *Store) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != "refresh" {
		return nil, ErrInvalidToken
	}
	id, _ := claims["jti"].(string)
	sub, _ := claims["sub"].(string)
	if id == "" || sub == "" {
		return nil, ErrInvalidToken
	}

	active, err := s.sessions.Active(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !active {
		return nil, ErrInvalidToken
	}

	if err := s.sessions.Revoke(ctx, id); err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return s.IssuePair(ctx, sub)
}

// Logout revokes the session behind a refresh token. Revoking an already
// revoked session is not an error.
func (s *Store) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	id, _ := claims["jti"].(string)
	if id == "" {
		return ErrInvalidToken
	}
	if err := s.sessions.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *Store) sign(set *Set, claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(set.JWTSecret)
}

func (s *Store) parse(token string) (jwt.MapClaims, error) {
	set := s.set.Load()
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return set.JWTSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// constantTimeEquals hashes both inputs first so length differences do not
// leak through the comparison.
func constantTimeEquals(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
