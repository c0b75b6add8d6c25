// Package memory implements gateway.Backend in process. It backs the
// development gateway server and the tests of every package that talks to the
// backend.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/gateway"
	"golang.org/x/crypto/bcrypt"
)

// uniqueKeys lists, per collection, the fields that together must be unique.
var uniqueKeys = map[string][]string{
	gateway.CollAttendance: {"party_id", "user_id"},
	gateway.CollLikes:      {"photo_id", "user_id"},
	gateway.CollFriends:    {"user_id", "friend_id"},
	gateway.CollLocations:  {"user_id"},
	gateway.CollUsers:      {"username"},
}

type table struct {
	order []string
	recs  map[string]map[string]any
}

func newTable() *table {
	return &table{recs: make(map[string]map[string]any)}
}

// Backend is an in-memory gateway.Backend.
type Backend struct {
	mu        sync.Mutex
	tables    map[string]*table
	blobs     map[string][]byte
	accounts  map[string]*account
	revoked   map[string]bool
	available bool

	events     *bus.Bus
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	baseURL    string
	now        func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithSecret sets the HMAC key used to sign access tokens.
func WithSecret(secret []byte) Option {
	return func(b *Backend) { b.secret = secret }
}

// WithTokenTTL sets the lifetime of issued access tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) { b.tokenTTL = ttl }
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(b *Backend) { b.bcryptCost = cost }
}

// WithBaseURL sets the prefix of URLs returned by Upload.
func WithBaseURL(u string) Option {
	return func(b *Backend) { b.baseURL = u }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty, available backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:     make(map[string]*table),
		blobs:      make(map[string][]byte),
		accounts:   make(map[string]*account),
		revoked:    make(map[string]bool),
		available:  true,
		events:     bus.New(),
		secret:     []byte("partyline-dev-secret"),
		tokenTTL:   24 * time.Hour,
		bcryptCost: bcrypt.DefaultCost,
		baseURL:    "memory://blobs",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetAvailable toggles whether the backend answers requests. While
// unavailable every operation fails with gateway.ErrUnavailable.
func (b *Backend) SetAvailable(available bool) {
	b.mu.Lock()
	b.available = available
	b.mu.Unlock()
}

// Blob returns an uploaded object.
func (b *Backend) Blob(bucket, name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[bucket+"/"+name]
	return data, ok
}

// Ping reports gateway.ErrUnavailable while the backend is switched off.
func (b *Backend) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkAvailable()
}

func (b *Backend) checkAvailable() error {
	if !b.available {
		return gateway.ErrUnavailable
	}
	return nil
}

func (b *Backend) table(coll string) *table {
	t, ok := b.tables[coll]
	if !ok {
		t = newTable()
		b.tables[coll] = t
	}
	return t
}

func (b *Backend) Create(_ context.Context, coll string, rec json.RawMessage) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}

	fields, err := decodeFields(rec)
	if err != nil {
		return nil, err
	}
	out, err := b.insertLocked(coll, fields)
	if err != nil {
		return nil, err
	}
	b.afterInsertLocked(coll, out)
	return encodeFields(out)
}

func (b *Backend) insertLocked(coll string, fields map[string]any) (map[string]any, error) {
	t := b.table(coll)
	if b.violatesUniqueLocked(coll, fields, "") {
		return nil, fmt.Errorf("%s: %w", coll, gateway.ErrConflict)
	}
	id := uuid.NewString()
	fields["id"] = id
	if _, ok := fields["created_at"]; !ok {
		fields["created_at"] = b.now().UTC().Format(time.RFC3339Nano)
	}
	t.order = append(t.order, id)
	t.recs[id] = fields
	b.publishLocked(coll, gateway.Insert, fields, nil)
	return fields, nil
}

// violatesUniqueLocked reports whether fields collide with a stored record
// other than the one with id self.
func (b *Backend) violatesUniqueLocked(coll string, fields map[string]any, self string) bool {
	keys, ok := uniqueKeys[coll]
	if !ok {
		return false
	}
	for id, existing := range b.table(coll).recs {
		if id == self {
			continue
		}
		same := true
		for _, k := range keys {
			if fmt.Sprint(existing[k]) != fmt.Sprint(fields[k]) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// afterInsertLocked keeps denormalized counters in step, the way database
// triggers would.
func (b *Backend) afterInsertLocked(coll string, rec map[string]any) {
	switch coll {
	case gateway.CollAttendance:
		b.bumpLocked(gateway.CollParties, fmt.Sprint(rec["party_id"]), "attendees", 1)
	case gateway.CollLikes:
		b.bumpLocked(gateway.CollPhotos, fmt.Sprint(rec["photo_id"]), "likes", 1)
	}
}

func (b *Backend) afterDeleteLocked(coll string, rec map[string]any) {
	switch coll {
	case gateway.CollAttendance:
		b.bumpLocked(gateway.CollParties, fmt.Sprint(rec["party_id"]), "attendees", -1)
	case gateway.CollLikes:
		b.bumpLocked(gateway.CollPhotos, fmt.Sprint(rec["photo_id"]), "likes", -1)
	}
}

func (b *Backend) bumpLocked(coll, id, field string, delta int) {
	rec, ok := b.table(coll).recs[id]
	if !ok {
		return
	}
	old := clone(rec)
	n, _ := rec[field].(float64)
	rec[field] = max(n+float64(delta), 0)
	b.publishLocked(coll, gateway.Update, rec, old)
}

func (b *Backend) Get(_ context.Context, coll, id string) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	rec, ok := b.table(coll).recs[id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", coll, id, gateway.ErrNotFound)
	}
	return encodeFields(rec)
}

// Update merges the top-level fields of rec into the stored record. The id
// is never changed. A merge that collides with another record's unique key
// fails with ErrConflict and leaves the record untouched.
func (b *Backend) Update(_ context.Context, coll, id string, rec json.RawMessage) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	stored, ok := b.table(coll).recs[id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", coll, id, gateway.ErrNotFound)
	}
	patch, err := decodeFields(rec)
	if err != nil {
		return nil, err
	}
	merged := clone(stored)
	for k, v := range patch {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	if b.violatesUniqueLocked(coll, merged, id) {
		return nil, fmt.Errorf("%s: %w", coll, gateway.ErrConflict)
	}
	old := stored
	stored = merged
	b.table(coll).recs[id] = stored
	b.publishLocked(coll, gateway.Update, stored, old)
	return encodeFields(stored)
}

func (b *Backend) Delete(_ context.Context, coll, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return err
	}
	t := b.table(coll)
	rec, ok := t.recs[id]
	if !ok {
		return fmt.Errorf("%s %q: %w", coll, id, gateway.ErrNotFound)
	}
	delete(t.recs, id)
	t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == id })
	b.publishLocked(coll, gateway.Delete, nil, rec)
	b.afterDeleteLocked(coll, rec)
	return nil
}

// List returns matching records newest first.
func (b *Backend) List(_ context.Context, coll string, f gateway.Filter) ([]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return nil, err
	}
	t := b.table(coll)
	var out []json.RawMessage
	for i := len(t.order) - 1; i >= 0; i-- {
		raw, err := encodeFields(t.recs[t.order[i]])
		if err != nil {
			return nil, err
		}
		if !f.Matches(raw) {
			continue
		}
		out = append(out, raw)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Upload stores data and returns a URL under the configured base.
func (b *Backend) Upload(_ context.Context, bucket, name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAvailable(); err != nil {
		return "", err
	}
	b.blobs[bucket+"/"+name] = slices.Clone(data)
	return b.baseURL + "/" + bucket + "/" + name, nil
}

func decodeFields(rec json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(rec, &fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	return fields, nil
}

func encodeFields(fields map[string]any) (json.RawMessage, error) {
	if fields == nil {
		return nil, nil
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}

func clone(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
