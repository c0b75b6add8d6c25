package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
	"golang.org/x/crypto/bcrypt"
)

type account struct {
	hash   []byte
	userID string
}

// SignUp registers an account and its public user profile, then signs it in.
func (b *Backend) SignUp(_ context.Context, c gateway.Credentials) (*gateway.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	if c.Email == "" || c.Password == "" {
		return nil, errors.New("email and password are required")
	}
	email := strings.ToLower(c.Email)
	if _, ok := b.accounts[email]; ok {
		return nil, fmt.Errorf("account %q: %w", email, gateway.ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), b.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	username := c.Username
	if username == "" {
		username, _, _ = strings.Cut(email, "@")
	}
	rec, err := b.insertLocked(gateway.CollUsers, map[string]any{
		"username":     username,
		"display_name": username,
	})
	if err != nil {
		return nil, err
	}
	userID := fmt.Sprint(rec["id"])
	b.accounts[email] = &account{hash: hash, userID: userID}
	return b.issueLocked(userID)
}

// SignIn checks the password and issues a fresh access token.
func (b *Backend) SignIn(_ context.Context, c gateway.Credentials) (*gateway.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	acct, ok := b.accounts[strings.ToLower(c.Email)]
	if !ok {
		return nil, fmt.Errorf("invalid email or password: %w", gateway.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(c.Password)); err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", gateway.ErrUnauthorized)
	}
	return b.issueLocked(acct.userID)
}

// SignOut revokes the access token.
func (b *Backend) SignOut(_ context.Context, accessToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return err
	}
	claims, err := b.parseLocked(accessToken)
	if err != nil {
		return err
	}
	b.revoked[claims.ID] = true
	return nil
}

// Verify returns the user id an access token was issued to.
func (b *Backend) Verify(accessToken string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	claims, err := b.parseLocked(accessToken)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (b *Backend) parseLocked(accessToken string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnauthorized, err)
	}
	if b.revoked[claims.ID] {
		return nil, fmt.Errorf("token revoked: %w", gateway.ErrUnauthorized)
	}
	return &claims, nil
}

func (b *Backend) issueLocked(userID string) (*gateway.Session, error) {
	rec, ok := b.table(gateway.CollUsers).recs[userID]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, gateway.ErrNotFound)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}

	now := b.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &gateway.Session{AccessToken: token, User: user}, nil
}
