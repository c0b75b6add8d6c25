package state

import (
	"context"

	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
)

// FriendStore caches the current user's friendships in both directions.
type FriendStore struct {
	*Store[model.Friend]
	auth *AuthStore
}

// NewFriendStore creates an empty friend store.
func NewFriendStore(deps Deps, auth *AuthStore) *FriendStore {
	return &FriendStore{Store: NewStore[model.Friend]("friend", "friends", deps), auth: auth}
}

// Friends returns the cached friendships, newest first.
func (s *FriendStore) Friends() []model.Friend {
	return s.List()
}

// FetchFriends loads requests sent by and to the current user.
func (s *FriendStore) FetchFriends(ctx context.Context) error {
	return s.run("fetchFriends", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		friends := s.deps.Gateway.Friends()
		sent, err := friends.List(ctx, gateway.Where("user_id", user.ID))
		if err != nil {
			return err
		}
		received, err := friends.List(ctx, gateway.Where("friend_id", user.ID))
		if err != nil {
			return err
		}
		s.SetAll(append(sent, received...))
		return nil
	})
}

// AddFriend sends a pending friend request.
func (s *FriendStore) AddFriend(ctx context.Context, friendID string) (model.Friend, error) {
	var friend model.Friend
	err := s.run("addFriend", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		friend, err = s.deps.Gateway.Friends().Create(ctx, model.Friend{
			UserID:   user.ID,
			FriendID: friendID,
			Status:   model.FriendPending,
		})
		if err != nil {
			return err
		}
		s.Prepend(friend)
		return nil
	})
	return friend, err
}

// AcceptFriend accepts a pending request.
func (s *FriendStore) AcceptFriend(ctx context.Context, id string) (model.Friend, error) {
	var friend model.Friend
	err := s.run("acceptFriend", func() error {
		if _, err := s.auth.RequireUser(); err != nil {
			return err
		}
		friends := s.deps.Gateway.Friends()
		req, err := friends.Get(ctx, id)
		if err != nil {
			return err
		}
		req.Status = model.FriendAccepted
		friend, err = friends.Update(ctx, id, req)
		if err != nil {
			return err
		}
		s.Prepend(friend)
		return nil
	})
	return friend, err
}

// RemoveFriend deletes a friendship or declines a request.
func (s *FriendStore) RemoveFriend(ctx context.Context, id string) error {
	return s.run("removeFriend", func() error {
		if _, err := s.auth.RequireUser(); err != nil {
			return err
		}
		if err := s.deps.Gateway.Friends().Delete(ctx, id); err != nil {
			return err
		}
		s.Remove(id)
		return nil
	})
}
