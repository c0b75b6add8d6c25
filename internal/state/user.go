package state

import (
	"context"

	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
)

// UserStore caches public profiles looked up by the user.
type UserStore struct {
	*Store[model.User]
	auth *AuthStore
}

// NewUserStore creates an empty user store.
func NewUserStore(deps Deps, auth *AuthStore) *UserStore {
	return &UserStore{Store: NewStore[model.User]("user", "users", deps), auth: auth}
}

// Users returns the cached profiles.
func (s *UserStore) Users() []model.User {
	return s.List()
}

// FetchUser loads one profile into the cache.
func (s *UserStore) FetchUser(ctx context.Context, id string) (model.User, error) {
	var user model.User
	err := s.run("fetchUser", func() error {
		var err error
		user, err = s.deps.Gateway.Users().Get(ctx, id)
		if err != nil {
			return err
		}
		s.Prepend(user)
		return nil
	})
	return user, err
}

// SearchUsers replaces the cache with the profiles whose username is exactly
// username.
func (s *UserStore) SearchUsers(ctx context.Context, username string) error {
	return s.run("searchUsers", func() error {
		users, err := s.deps.Gateway.Users().List(ctx, gateway.Where("username", username))
		if err != nil {
			return err
		}
		s.SetAll(users)
		return nil
	})
}

// UpdateProfile writes the signed-in user's profile. Empty fields of u keep
// their current value. The session copy is refreshed as well.
func (s *UserStore) UpdateProfile(ctx context.Context, u model.User) (model.User, error) {
	var user model.User
	err := s.run("updateProfile", func() error {
		me, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		user, err = s.deps.Gateway.Users().Update(ctx, me.ID, mergeProfile(me, u))
		if err != nil {
			return err
		}
		s.Prepend(user)
		s.auth.setUser(user)
		return nil
	})
	return user, err
}

func mergeProfile(cur, u model.User) model.User {
	if u.Username != "" {
		cur.Username = u.Username
	}
	if u.DisplayName != "" {
		cur.DisplayName = u.DisplayName
	}
	if u.AvatarURL != "" {
		cur.AvatarURL = u.AvatarURL
	}
	if u.Bio != "" {
		cur.Bio = u.Bio
	}
	return cur
}
