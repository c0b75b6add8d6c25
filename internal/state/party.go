package state

import (
	"context"
	"errors"

	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
	"go.uber.org/zap"
)

// PartyStore caches parties.
type PartyStore struct {
	*Store[model.Party]
	auth *AuthStore
}

// NewPartyStore creates an empty party store.
func NewPartyStore(deps Deps, auth *AuthStore) *PartyStore {
	return &PartyStore{Store: NewStore[model.Party]("party", "parties", deps), auth: auth}
}

// Parties returns the cached parties, newest first.
func (s *PartyStore) Parties() []model.Party {
	return s.List()
}

// FetchParties replaces the cache with the parties matching f.
func (s *PartyStore) FetchParties(ctx context.Context, f gateway.Filter) error {
	return s.run("fetchParties", func() error {
		parties, err := s.deps.Gateway.Parties().List(ctx, f)
		if err != nil {
			return err
		}
		s.SetAll(parties)
		return nil
	})
}

// FetchParty loads one party into the cache.
func (s *PartyStore) FetchParty(ctx context.Context, id string) (model.Party, error) {
	var party model.Party
	err := s.run("fetchParty", func() error {
		var err error
		party, err = s.deps.Gateway.Parties().Get(ctx, id)
		if err != nil {
			return err
		}
		s.Prepend(party)
		return nil
	})
	return party, err
}

// CreateParty hosts p as the current user.
func (s *PartyStore) CreateParty(ctx context.Context, p model.Party) (model.Party, error) {
	var party model.Party
	err := s.run("createParty", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		p.HostID = user.ID
		party, err = s.deps.Gateway.Parties().Create(ctx, p)
		if err != nil {
			return err
		}
		s.Prepend(party)
		return nil
	})
	return party, err
}

// UpdateParty writes p and replaces the cached copy.
func (s *PartyStore) UpdateParty(ctx context.Context, p model.Party) (model.Party, error) {
	var party model.Party
	err := s.run("updateParty", func() error {
		if _, err := s.auth.RequireUser(); err != nil {
			return err
		}
		var err error
		party, err = s.deps.Gateway.Parties().Update(ctx, p.ID, p)
		if err != nil {
			return err
		}
		s.Replace(party)
		return nil
	})
	return party, err
}

// DeleteParty removes a party.
func (s *PartyStore) DeleteParty(ctx context.Context, id string) error {
	return s.run("deleteParty", func() error {
		if _, err := s.auth.RequireUser(); err != nil {
			return err
		}
		if err := s.deps.Gateway.Parties().Delete(ctx, id); err != nil {
			return err
		}
		s.Remove(id)
		return nil
	})
}

// JoinParty records the current user as attending and refreshes the party so
// its attendee count is current. Joining a party the user already attends
// succeeds. Once the attendance exists, a failed refresh only leaves the
// cached count stale and is not reported as a failure.
func (s *PartyStore) JoinParty(ctx context.Context, partyID string) error {
	return s.run("joinParty", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		_, err = s.deps.Gateway.Attendance().Create(ctx, model.Attendance{PartyID: partyID, UserID: user.ID})
		if err != nil && !errors.Is(err, gateway.ErrConflict) {
			return err
		}
		s.refreshQuietly(ctx, partyID)
		return nil
	})
}

// LeaveParty removes the current user's attendance.
func (s *PartyStore) LeaveParty(ctx context.Context, partyID string) error {
	return s.run("leaveParty", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		attendance := s.deps.Gateway.Attendance()
		rows, err := attendance.List(ctx, gateway.Where("party_id", partyID).And("user_id", user.ID))
		if err != nil {
			return err
		}
		for _, a := range rows {
			if err := attendance.Delete(ctx, a.ID); err != nil {
				return err
			}
		}
		s.refreshQuietly(ctx, partyID)
		return nil
	})
}

// refreshQuietly reloads a party after its attendance changed. Failures are
// logged.
func (s *PartyStore) refreshQuietly(ctx context.Context, partyID string) {
	party, err := s.deps.Gateway.Parties().Get(ctx, partyID)
	if err != nil {
		s.deps.Logger.Warn("refresh party", zap.String("party_id", partyID), zap.Error(err))
		return
	}
	s.Prepend(party)
}

// Subscribe follows changes to one party, or to every party when partyID is
// empty. It returns nil when the feed cannot be registered.
func (s *PartyStore) Subscribe(ctx context.Context, partyID string, cb func(gateway.Change[model.Party])) gateway.Subscription {
	var f gateway.Filter
	if partyID != "" {
		f = gateway.Where("id", partyID)
	}
	return s.subscribe(ctx, s.deps.Gateway.Parties(), f, cb)
}
