package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/connectivity"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
	"github.com/matheus3301/partyline/internal/state"
	"go.uber.org/zap"
)

const partiesFeed = "parties"

// defaultRetryDelay is how long a feed ended by the transport waits before
// it is reopened.
const defaultRetryDelay = time.Second

func chatFeed(partyID string) string {
	return "messages:" + partyID
}

// Watcher keeps cached parties and their chats fresh through realtime
// subscriptions while the profile is online and signed in. It follows the
// connectivity and auth events on the bus.
type Watcher struct {
	stores  *state.Stores
	machine *connectivity.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}

	retryDelay time.Duration

	mu   sync.Mutex
	subs map[string]gateway.Subscription
}

// NewWatcher creates a watcher for the given stores.
func NewWatcher(stores *state.Stores, m *connectivity.Machine, b *bus.Bus, logger *zap.Logger) *Watcher {
	return &Watcher{
		stores:  stores,
		machine: m,
		bus:     b,
		logger:  logger,
		subs:    make(map[string]gateway.Subscription),

		retryDelay: defaultRetryDelay,
	}
}

// Start subscribes to bus events. Feeds are opened right away when the
// profile is already online.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	ch, unsub := w.bus.Subscribe("", 256)

	if w.machine.Online() {
		w.Follow(ctx)
	}

	go func() {
		defer close(w.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				w.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the event loop and closes every feed.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.closeAll()
}

// Following returns the names of the open feeds, sorted.
func (w *Watcher) Following() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.subs))
	for name := range w.subs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (w *Watcher) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindConnectivityChanged:
		c, ok := evt.Payload.(connectivity.Change)
		if !ok {
			return
		}
		w.logger.Info("connectivity changed", zap.String("from", string(c.From)), zap.String("to", string(c.To)))
		switch c.To {
		case connectivity.Idle:
			w.Follow(ctx)
		case connectivity.Offline:
			w.closeAll()
		}
	case bus.KindAuthSignedIn:
		if w.machine.Online() {
			w.Follow(ctx)
		}
	case bus.KindAuthSignedOut:
		w.closeAll()
	case bus.KindQueueSynced:
		// Replayed creations may have added parties whose chats are not followed yet.
		if w.machine.Online() {
			w.Follow(ctx)
		}
	}
}

// Follow opens the party feed and one chat feed per cached party. Feeds that
// are already open are kept.
func (w *Watcher) Follow(ctx context.Context) {
	if !w.stores.Authenticated() {
		return
	}
	w.follow(ctx, partiesFeed, func() gateway.Subscription {
		return w.stores.Parties.Subscribe(ctx, "", func(c gateway.Change[model.Party]) {
			switch c.Type {
			case gateway.Insert:
				if c.New != nil {
					w.followChat(ctx, c.New.ID)
				}
			case gateway.Delete:
				w.unfollow(chatFeed(c.ID()))
			}
		})
	})
	for _, p := range w.stores.Parties.Parties() {
		w.followChat(ctx, p.ID)
	}
}

func (w *Watcher) followChat(ctx context.Context, partyID string) {
	w.follow(ctx, chatFeed(partyID), func() gateway.Subscription {
		return w.stores.Messages.Subscribe(ctx, partyID, nil)
	})
}

// follow opens a feed unless it is already open. open runs without the lock
// held since registering a feed may block on the network.
func (w *Watcher) follow(ctx context.Context, name string, open func() gateway.Subscription) {
	w.mu.Lock()
	_, ok := w.subs[name]
	w.mu.Unlock()
	if ok {
		return
	}

	sub := open()
	if sub == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subs[name]; ok {
		_ = sub.Close()
		return
	}
	w.subs[name] = sub
	w.logger.Debug("feed opened", zap.String("feed", name))
	go w.watchFeed(ctx, name, sub)
}

// watchFeed forgets a feed once it ends. A feed ended by the transport rather
// than by the watcher is reopened after retryDelay if still online.
func (w *Watcher) watchFeed(ctx context.Context, name string, sub gateway.Subscription) {
	select {
	case <-sub.Done():
	case <-ctx.Done():
		return
	}

	w.mu.Lock()
	cur, ok := w.subs[name]
	lost := ok && cur == sub
	if lost {
		delete(w.subs, name)
	}
	w.mu.Unlock()
	if !lost {
		return
	}

	w.logger.Info("feed ended, reopening", zap.String("feed", name))
	select {
	case <-time.After(w.retryDelay):
	case <-ctx.Done():
		return
	}
	if w.machine.Online() {
		w.Follow(ctx)
	}
}

func (w *Watcher) unfollow(name string) {
	w.mu.Lock()
	sub, ok := w.subs[name]
	delete(w.subs, name)
	w.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (w *Watcher) closeAll() {
	w.mu.Lock()
	subs := w.subs
	w.subs = make(map[string]gateway.Subscription)
	w.mu.Unlock()
	for name, sub := range subs {
		if err := sub.Close(); err != nil {
			w.logger.Debug("closing feed", zap.String("feed", name), zap.Error(err))
		}
	}
}
