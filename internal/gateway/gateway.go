// Package gateway defines the contract the client consumes to reach the
// backend: record CRUD on named collections, realtime change feeds, blob
// upload and authentication. The backend itself is an external collaborator;
// this package only describes it and offers a typed view over it.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the backend could not be reached.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the write collides with an existing record.
	ErrConflict = errors.New("record already exists")
	// ErrUnauthorized means the credentials or token were rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller may not change the addressed record.
	ErrForbidden = errors.New("forbidden")
)

// Collection names known to the backend.
const (
	CollUsers      = "users"
	CollParties    = "parties"
	CollAttendance = "attendance"
	CollPhotos     = "photos"
	CollLikes      = "likes"
	CollFriends    = "friends"
	CollMessages   = "messages"
	CollLocations  = "locations"
)

// BucketPhotos is the blob bucket photo uploads land in.
const BucketPhotos = "photos"

// EventType tags a realtime change.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// RawChange is a realtime change as delivered by a Backend.
// Old carries the previous record (at least its id) for UPDATE and DELETE.
type RawChange struct {
	Type EventType       `json:"type"`
	New  json.RawMessage `json:"new,omitempty"`
	Old  json.RawMessage `json:"old,omitempty"`
}

// Subscription is a registered realtime feed.
type Subscription interface {
	Close() error
	// Done is closed once the feed stops delivering, whether it was closed
	// or the transport ended it.
	Done() <-chan struct{}
}

// Credentials identify a user signing up or in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// Backend is the untyped record interface every transport implements.
// Records are JSON objects with an "id" field assigned by the backend.
type Backend interface {
	Create(ctx context.Context, coll string, rec json.RawMessage) (json.RawMessage, error)
	Get(ctx context.Context, coll, id string) (json.RawMessage, error)
	Update(ctx context.Context, coll, id string, rec json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, coll, id string) error
	List(ctx context.Context, coll string, f Filter) ([]json.RawMessage, error)
	Subscribe(ctx context.Context, coll string, f Filter, h func(RawChange)) (Subscription, error)
	Upload(ctx context.Context, bucket, name string, data []byte) (string, error)
	SignUp(ctx context.Context, c Credentials) (*Session, error)
	SignIn(ctx context.Context, c Credentials) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Ping(ctx context.Context) error
}

// Filter selects records by field equality. Values are compared in their
// string form, so numbers and booleans match their JSON text.
type Filter struct {
	Eq    map[string]string `json:"eq,omitempty"`
	Limit int               `json:"limit,omitempty"`
}

// Where returns a filter matching records whose field equals value.
func Where(field, value string) Filter {
	return Filter{Eq: map[string]string{field: value}}
}

// And returns a copy of f that additionally requires field to equal value.
func (f Filter) And(field, value string) Filter {
	eq := make(map[string]string, len(f.Eq)+1)
	for k, v := range f.Eq {
		eq[k] = v
	}
	eq[field] = value
	return Filter{Eq: eq, Limit: f.Limit}
}

// Matches reports whether the JSON record satisfies every equality in f.
func (f Filter) Matches(rec json.RawMessage) bool {
	if len(f.Eq) == 0 {
		return true
	}
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return false
	}
	for k, want := range f.Eq {
		got, ok := fields[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// RecordID extracts the "id" field of a JSON record.
func RecordID(rec json.RawMessage) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec, &head); err != nil {
		return "", fmt.Errorf("decode record id: %w", err)
	}
	return head.ID, nil
}
