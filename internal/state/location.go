package state

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
)

// LocationStore holds the current user's position and sharing preference,
// plus the last known positions of friends who share theirs.
type LocationStore struct {
	*Store[model.Location]
	auth *AuthStore

	current *model.Location
	sharing bool
}

// NewLocationStore creates an empty location store.
func NewLocationStore(deps Deps, auth *AuthStore) *LocationStore {
	s := &LocationStore{Store: NewStore[model.Location]("location", "locations", deps), auth: auth}

	baseProject, baseRestore, baseClear := s.project, s.restore, s.clear
	s.project = func() map[string]any {
		fields := baseProject()
		fields["current"] = s.current
		fields["sharing"] = s.sharing
		return fields
	}
	s.restore = func(fields map[string]json.RawMessage) error {
		if err := baseRestore(fields); err != nil {
			return err
		}
		if raw, ok := fields["current"]; ok {
			if err := json.Unmarshal(raw, &s.current); err != nil {
				return err
			}
		}
		if raw, ok := fields["sharing"]; ok {
			if err := json.Unmarshal(raw, &s.sharing); err != nil {
				return err
			}
		}
		return nil
	}
	s.clear = func() {
		baseClear()
		s.current = nil
		s.sharing = false
	}
	return s
}

// Current returns the last position reported by this device.
func (s *LocationStore) Current() (model.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Location{}, false
	}
	return *s.current, true
}

// Sharing reports whether the user shares their position with friends.
func (s *LocationStore) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// FriendLocations returns the cached friend positions.
func (s *LocationStore) FriendLocations() []model.Location {
	return s.List()
}

// UpdateLocation reports the user's position, creating their location row on
// first use.
func (s *LocationStore) UpdateLocation(ctx context.Context, lat, lng float64) (model.Location, error) {
	var loc model.Location
	err := s.run("updateLocation", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		loc = model.Location{
			UserID:    user.ID,
			Latitude:  lat,
			Longitude: lng,
			Sharing:   s.Sharing(),
			UpdatedAt: time.Now().UTC(),
		}
		loc, err = s.upsert(ctx, loc)
		return err
	})
	return loc, err
}

// SetSharing turns location sharing on or off. The user's row is updated when
// it exists; otherwise the preference applies to the next UpdateLocation.
func (s *LocationStore) SetSharing(ctx context.Context, sharing bool) error {
	return s.run("setSharing", func() error {
		if _, err := s.auth.RequireUser(); err != nil {
			return err
		}
		cur, ok := s.Current()
		if ok {
			cur.Sharing = sharing
			if _, err := s.upsert(ctx, cur); err != nil {
				return err
			}
		}
		s.update(func() { s.sharing = sharing })
		return nil
	})
}

func (s *LocationStore) upsert(ctx context.Context, loc model.Location) (model.Location, error) {
	locations := s.deps.Gateway.Locations()

	id := loc.ID
	if id == "" {
		f := gateway.Where("user_id", loc.UserID)
		f.Limit = 1
		rows, err := locations.List(ctx, f)
		if err != nil {
			return model.Location{}, err
		}
		if len(rows) > 0 {
			id = rows[0].ID
		}
	}

	var (
		out model.Location
		err error
	)
	if id == "" {
		out, err = locations.Create(ctx, loc)
	} else {
		loc.ID = id
		out, err = locations.Update(ctx, id, loc)
	}
	if err != nil {
		return model.Location{}, err
	}
	s.update(func() { s.current = &out })
	return out, nil
}

// FetchFriendLocations loads the positions of accepted friends who share them.
func (s *LocationStore) FetchFriendLocations(ctx context.Context) error {
	return s.run("fetchFriendLocations", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		friends, err := s.deps.Gateway.Friends().List(ctx,
			gateway.Where("user_id", user.ID).And("status", model.FriendAccepted))
		if err != nil {
			return err
		}
		var out []model.Location
		for _, fr := range friends {
			f := gateway.Where("user_id", fr.FriendID).And("sharing", strconv.FormatBool(true))
			f.Limit = 1
			locs, err := s.deps.Gateway.Locations().List(ctx, f)
			if err != nil {
				return err
			}
			out = append(out, locs...)
		}
		s.SetAll(out)
		return nil
	})
}
