package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/partyline/internal/offline"
)

// Stores is the set of entity stores of one profile.
type Stores struct {
	Auth      *AuthStore
	Parties   *PartyStore
	Photos    *PhotoStore
	Friends   *FriendStore
	Messages  *MessageStore
	Locations *LocationStore
	Users     *UserStore
}

var _ offline.Dispatcher = (*Stores)(nil)

// resettable is implemented by every store.
type resettable interface {
	Name() string
	Load(ctx context.Context) error
	Reset(ctx context.Context) error
}

// NewStores creates every store over the same collaborators.
func NewStores(deps Deps) *Stores {
	auth := NewAuthStore(deps)
	return &Stores{
		Auth:      auth,
		Parties:   NewPartyStore(deps, auth),
		Photos:    NewPhotoStore(deps, auth),
		Friends:   NewFriendStore(deps, auth),
		Messages:  NewMessageStore(deps, auth),
		Locations: NewLocationStore(deps, auth),
		Users:     NewUserStore(deps, auth),
	}
}

func (s *Stores) all() []resettable {
	return []resettable{s.Auth, s.Parties, s.Photos, s.Friends, s.Messages, s.Locations, s.Users}
}

func (s *Stores) entities() []resettable {
	return s.all()[1:]
}

// Load rehydrates every store from device storage.
func (s *Stores) Load(ctx context.Context) error {
	var errs []error
	for _, st := range s.all() {
		if err := st.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignOut ends the session and empties every entity store.
func (s *Stores) SignOut(ctx context.Context) error {
	if err := s.Auth.SignOut(ctx); err != nil {
		return err
	}
	var errs []error
	for _, st := range s.entities() {
		if err := st.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Authenticated reports whether a user is signed in.
func (s *Stores) Authenticated() bool {
	return s.Auth.Authenticated()
}

// Dispatch runs a queued action through the store that owns it.
func (s *Stores) Dispatch(ctx context.Context, a offline.Action) error {
	switch a := a.(type) {
	case offline.CreateParty:
		_, err := s.Parties.CreateParty(ctx, a.Party)
		return err
	case offline.JoinParty:
		return s.Parties.JoinParty(ctx, a.PartyID)
	case offline.UploadPhoto:
		_, err := s.Photos.UploadPhoto(ctx, a.PartyID, a.Path, a.Caption)
		return err
	case offline.LikePhoto:
		return s.Photos.LikePhoto(ctx, a.PhotoID)
	case offline.SendMessage:
		_, err := s.Messages.SendMessage(ctx, a.PartyID, a.Body)
		return err
	case offline.AddFriend:
		_, err := s.Friends.AddFriend(ctx, a.FriendID)
		return err
	}
	return fmt.Errorf("no handler for action %T", a)
}
