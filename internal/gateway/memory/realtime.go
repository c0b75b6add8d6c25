package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/matheus3301/partyline/internal/gateway"
)

func changeKind(coll string, typ gateway.EventType) string {
	return "gw." + coll + "." + string(typ)
}

func (b *Backend) publishLocked(coll string, typ gateway.EventType, newRec, oldRec map[string]any) {
	change := gateway.RawChange{Type: typ}
	if newRec != nil {
		change.New, _ = json.Marshal(newRec)
	}
	if oldRec != nil {
		change.Old, _ = json.Marshal(oldRec)
	}
	b.events.Emit(changeKind(coll, typ), change)
}

type subscription struct {
	once  sync.Once
	unsub func()
	done  chan struct{}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.unsub()
		close(s.done)
	})
	return nil
}

func (s *subscription) Done() <-chan struct{} { return s.done }

// Subscribe delivers changes to records of coll matching f, in the order they
// happened. Deletes are matched against the removed record. The feed ends when
// the subscription is closed or ctx is done.
func (b *Backend) Subscribe(ctx context.Context, coll string, f gateway.Filter, h func(gateway.RawChange)) (gateway.Subscription, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}
	ch, unsub := b.events.Subscribe("gw."+coll+".", 256)
	sub := &subscription{unsub: unsub, done: make(chan struct{})}

	go func() {
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(gateway.RawChange)
				if !ok {
					continue
				}
				rec := change.New
				if change.Type == gateway.Delete {
					rec = change.Old
				}
				if f.Matches(rec) {
					h(change)
				}
			case <-sub.done:
				return
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}()
	return sub, nil
}
