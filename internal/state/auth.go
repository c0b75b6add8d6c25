package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
)

// AuthStore holds the signed-in session.
type AuthStore struct {
	core
	session *gateway.Session
	now     func() time.Time
}

// NewAuthStore creates a signed-out auth store.
func NewAuthStore(deps Deps) *AuthStore {
	s := &AuthStore{now: time.Now}
	s.init("auth", deps)
	s.project = func() map[string]any {
		return map[string]any{"session": s.session}
	}
	s.restore = func(fields map[string]json.RawMessage) error {
		raw, ok := fields["session"]
		if !ok {
			return nil
		}
		var sess *gateway.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		s.session = sess
		return nil
	}
	s.clear = func() { s.session = nil }
	return s
}

// SignUp creates an account and signs it in.
func (s *AuthStore) SignUp(ctx context.Context, c gateway.Credentials) (model.User, error) {
	return s.establish(ctx, "signUp", c, s.deps.Gateway.SignUp)
}

// SignIn signs in with email and password.
func (s *AuthStore) SignIn(ctx context.Context, c gateway.Credentials) (model.User, error) {
	return s.establish(ctx, "signIn", c, s.deps.Gateway.SignIn)
}

func (s *AuthStore) establish(ctx context.Context, action string, c gateway.Credentials,
	call func(context.Context, gateway.Credentials) (*gateway.Session, error)) (model.User, error) {
	var user model.User
	err := s.run(action, func() error {
		sess, err := call(ctx, c)
		if err != nil {
			return err
		}
		s.update(func() { s.session = sess })
		user = sess.User
		return nil
	})
	if err == nil {
		s.deps.Bus.Emit(bus.KindAuthSignedIn, user)
	}
	return user, err
}

// SignOut revokes the session with the gateway and forgets it locally. A
// gateway that is unreachable or already rejects the token does not keep the
// user signed in.
func (s *AuthStore) SignOut(ctx context.Context) error {
	sess := s.Session()
	if sess == nil {
		return nil
	}
	err := s.run("signOut", func() error {
		err := s.deps.Gateway.SignOut(ctx, sess.AccessToken)
		if err != nil && !errors.Is(err, gateway.ErrUnavailable) && !errors.Is(err, gateway.ErrUnauthorized) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.Reset(ctx); err != nil {
		return err
	}
	s.deps.Bus.Emit(bus.KindAuthSignedOut, sess.User)
	return nil
}

// Session returns the current session, or nil.
func (s *AuthStore) Session() *gateway.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CurrentUser returns the signed-in user.
func (s *AuthStore) CurrentUser() (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return model.User{}, false
	}
	return s.session.User, true
}

// RequireUser returns the signed-in user, or ErrAuthenticationRequired when
// there is no session or its token has expired.
func (s *AuthStore) RequireUser() (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.Valid(s.now()) {
		return model.User{}, ErrAuthenticationRequired
	}
	return s.session.User, nil
}

// Authenticated reports whether RequireUser would succeed.
func (s *AuthStore) Authenticated() bool {
	_, err := s.RequireUser()
	return err == nil
}

// setUser refreshes the cached profile of the signed-in user.
func (s *AuthStore) setUser(u model.User) {
	s.update(func() {
		if s.session != nil && s.session.User.ID == u.ID {
			sess := *s.session
			sess.User = u
			s.session = &sess
		}
	})
}
