package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/partyline/internal/model"
)

// Session is an authenticated user together with the backend access token.
type Session struct {
	AccessToken string     `json:"access_token"`
	User        model.User `json:"user"`
}

// ExpiresAt reads the exp claim of the access token without verifying the
// signature; only the backend holds the signing key. A zero time means the
// token carries no expiry.
func (s *Session) ExpiresAt() (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Valid reports whether the session has a user and an unexpired, well-formed token.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.User.ID == "" || s.AccessToken == "" {
		return false
	}
	exp, err := s.ExpiresAt()
	if err != nil {
		return false
	}
	return exp.IsZero() || now.Before(exp)
}
