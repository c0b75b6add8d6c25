package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
	"go.uber.org/zap"
)

// Store is an ordered cache of one entity collection. Display order is
// newest first: creations and realtime inserts go to the front.
type Store[T model.Entity] struct {
	core
	field string
	// The back of the map is the front of the display order, so prepending
	// is a plain Set.
	items *orderedmap.OrderedMap[string, T]
}

// NewStore creates an empty store persisted as {field: [...]} under
// "<name>-storage".
func NewStore[T model.Entity](name, field string, deps Deps) *Store[T] {
	s := &Store[T]{field: field, items: orderedmap.NewOrderedMap[string, T]()}
	s.init(name, deps)
	s.project = func() map[string]any {
		return map[string]any{s.field: s.listLocked()}
	}
	s.restore = func(fields map[string]json.RawMessage) error {
		raw, ok := fields[s.field]
		if !ok {
			return nil
		}
		var list []T
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("%s: %w", s.field, err)
		}
		s.setAllLocked(list)
		return nil
	}
	s.clear = func() {
		s.items = orderedmap.NewOrderedMap[string, T]()
	}
	return s
}

func (s *Store[T]) listLocked() []T {
	out := make([]T, 0, s.items.Len())
	for _, v := range s.items.AllFromBack() {
		out = append(out, v)
	}
	return out
}

func (s *Store[T]) setAllLocked(list []T) {
	s.items = orderedmap.NewOrderedMapWithCapacity[string, T](len(list))
	for i := len(list) - 1; i >= 0; i-- {
		s.items.Set(list[i].EntityID(), list[i])
	}
}

// List returns the cached entities in display order.
func (s *Store[T]) List() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Get returns the cached entity with id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Get(id)
}

// Len returns the number of cached entities.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Len()
}

// Prepend puts v at the front, or replaces it in place when already cached.
func (s *Store[T]) Prepend(v T) {
	s.update(func() { s.items.Set(v.EntityID(), v) })
}

// Replace swaps the cached entity with v's id for v. It reports false, and
// changes nothing, when no such entity is cached.
func (s *Store[T]) Replace(v T) bool {
	var ok bool
	s.update(func() {
		if ok = s.items.Has(v.EntityID()); ok {
			s.items.Set(v.EntityID(), v)
		}
	})
	return ok
}

// Remove drops the entity with id.
func (s *Store[T]) Remove(id string) {
	s.update(func() { s.items.Delete(id) })
}

// SetAll replaces the whole collection; list is in display order.
func (s *Store[T]) SetAll(list []T) {
	s.update(func() { s.setAllLocked(list) })
}

// Apply merges a realtime change: inserts are prepended unless already
// cached, updates replace the cached entity, deletes remove it. The last
// change observed wins.
func (s *Store[T]) Apply(c gateway.Change[T]) {
	switch c.Type {
	case gateway.Insert:
		if c.New == nil {
			return
		}
		s.update(func() {
			if !s.items.Has((*c.New).EntityID()) {
				s.items.Set((*c.New).EntityID(), *c.New)
			}
		})
	case gateway.Update:
		if c.New != nil {
			s.Replace(*c.New)
		}
	case gateway.Delete:
		if id := c.ID(); id != "" {
			s.Remove(id)
		}
	}
}

// State is a point-in-time copy of a store.
type State[T model.Entity] struct {
	Items   []T
	Loading bool
	Error   string
}

// Snapshot returns the current state.
func (s *Store[T]) Snapshot() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State[T]{Items: s.listLocked(), Loading: s.loading}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}

// subscribe registers with the gateway feed of coll. Each change is handed to
// cb and then applied. Registration failures are logged and yield nil.
func (s *Store[T]) subscribe(ctx context.Context, coll gateway.Collection[T], f gateway.Filter, cb func(gateway.Change[T])) gateway.Subscription {
	sub, err := coll.Subscribe(ctx, f, func(c gateway.Change[T]) {
		if cb != nil {
			cb(c)
		}
		s.Apply(c)
	})
	if err != nil {
		s.deps.Logger.Warn("subscribe failed",
			zap.String("store", s.name),
			zap.String("collection", coll.Name()),
			zap.Error(err))
		s.deps.Reporter.Report(s.name+".subscribe", err)
		return nil
	}
	return sub
}
