package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/partyline/internal/model"
)

// Change is a decoded realtime change for one entity type.
type Change[T model.Entity] struct {
	Type EventType
	New  *T
	Old  *T
}

// ID returns the id the change applies to: the new record's for inserts and
// updates, the old record's for deletes.
func (c Change[T]) ID() string {
	if c.New != nil {
		return (*c.New).EntityID()
	}
	if c.Old != nil {
		return (*c.Old).EntityID()
	}
	return ""
}

// Collection is a typed view over one backend collection.
type Collection[T model.Entity] struct {
	backend Backend
	name    string
}

// NewCollection returns the typed view of collection name on b.
func NewCollection[T model.Entity](b Backend, name string) Collection[T] {
	return Collection[T]{backend: b, name: name}
}

// Name returns the backend collection name.
func (c Collection[T]) Name() string { return c.name }

func (c Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	rec, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s record: %w", c.name, err)
	}
	out, err := c.backend.Create(ctx, c.name, rec)
	if err != nil {
		return zero, err
	}
	return decode[T](c.name, out)
}

func (c Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	out, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return zero, err
	}
	return decode[T](c.name, out)
}

func (c Collection[T]) Update(ctx context.Context, id string, v T) (T, error) {
	var zero T
	rec, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s record: %w", c.name, err)
	}
	out, err := c.backend.Update(ctx, c.name, id, rec)
	if err != nil {
		return zero, err
	}
	return decode[T](c.name, out)
}

func (c Collection[T]) Delete(ctx context.Context, id string) error {
	return c.backend.Delete(ctx, c.name, id)
}

func (c Collection[T]) List(ctx context.Context, f Filter) ([]T, error) {
	recs, err := c.backend.List(ctx, c.name, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](c.name, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Subscribe registers h for changes of records matching f. Changes that fail
// to decode are skipped.
func (c Collection[T]) Subscribe(ctx context.Context, f Filter, h func(Change[T])) (Subscription, error) {
	return c.backend.Subscribe(ctx, c.name, f, func(raw RawChange) {
		ch := Change[T]{Type: raw.Type}
		if len(raw.New) > 0 {
			v, err := decode[T](c.name, raw.New)
			if err != nil {
				return
			}
			ch.New = &v
		}
		if len(raw.Old) > 0 {
			v, err := decode[T](c.name, raw.Old)
			if err != nil {
				return
			}
			ch.Old = &v
		}
		h(ch)
	})
}

func decode[T any](coll string, rec json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(rec, &v); err != nil {
		return v, fmt.Errorf("decode %s record: %w", coll, err)
	}
	return v, nil
}

// Gateway is the typed client view of a Backend, one collection per entity.
type Gateway struct {
	backend Backend
}

// New wraps b in a typed Gateway.
func New(b Backend) *Gateway {
	return &Gateway{backend: b}
}

func (g *Gateway) Users() Collection[model.User] {
	return NewCollection[model.User](g.backend, CollUsers)
}

func (g *Gateway) Parties() Collection[model.Party] {
	return NewCollection[model.Party](g.backend, CollParties)
}

func (g *Gateway) Attendance() Collection[model.Attendance] {
	return NewCollection[model.Attendance](g.backend, CollAttendance)
}

func (g *Gateway) Photos() Collection[model.Photo] {
	return NewCollection[model.Photo](g.backend, CollPhotos)
}

func (g *Gateway) Likes() Collection[model.Like] {
	return NewCollection[model.Like](g.backend, CollLikes)
}

func (g *Gateway) Friends() Collection[model.Friend] {
	return NewCollection[model.Friend](g.backend, CollFriends)
}

func (g *Gateway) Messages() Collection[model.Message] {
	return NewCollection[model.Message](g.backend, CollMessages)
}

func (g *Gateway) Locations() Collection[model.Location] {
	return NewCollection[model.Location](g.backend, CollLocations)
}

// Upload stores data as bucket/name and returns its public URL.
func (g *Gateway) Upload(ctx context.Context, bucket, name string, data []byte) (string, error) {
	return g.backend.Upload(ctx, bucket, name, data)
}

func (g *Gateway) SignUp(ctx context.Context, c Credentials) (*Session, error) {
	return g.backend.SignUp(ctx, c)
}

func (g *Gateway) SignIn(ctx context.Context, c Credentials) (*Session, error) {
	return g.backend.SignIn(ctx, c)
}

func (g *Gateway) SignOut(ctx context.Context, accessToken string) error {
	return g.backend.SignOut(ctx, accessToken)
}

// Ping checks that the backend is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.backend.Ping(ctx)
}
