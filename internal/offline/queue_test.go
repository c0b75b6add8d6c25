package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/connectivity"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/kv"
	"github.com/matheus3301/partyline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []Action
	errFor   func(Action) error
	delayFor func(Action) time.Duration
	during   func(Action)
	signedIn bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, a Action) error {
	if d.delayFor != nil {
		time.Sleep(d.delayFor(a))
	}
	if d.during != nil {
		d.during(a)
	}
	d.mu.Lock()
	d.calls = append(d.calls, a)
	d.mu.Unlock()
	if d.errFor != nil {
		return d.errFor(a)
	}
	return nil
}

func (d *fakeDispatcher) Authenticated() bool { return d.signedIn }

func (d *fakeDispatcher) Calls() []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Action(nil), d.calls...)
}

func newOnlineQueue(t *testing.T, d Dispatcher, opts Options) *Queue {
	t.Helper()
	q := NewQueue(d, opts)
	require.NoError(t, q.machine.Transition(connectivity.Idle))
	return q
}

func messages(n int) []Action {
	out := make([]Action, n)
	for i := range out {
		out[i] = SendMessage{PartyID: "p1", Body: string(rune('a' + i))}
	}
	return out
}

func TestSyncDispatchesInInsertionOrder(t *testing.T) {
	d := &fakeDispatcher{
		signedIn: true,
		// Earlier items take longer so a concurrent replay would reorder them.
		delayFor: func(a Action) time.Duration {
			return time.Duration('e'-a.(SendMessage).Body[0]) * 5 * time.Millisecond
		},
	}
	q := newOnlineQueue(t, d, Options{})

	actions := messages(5)
	for _, a := range actions {
		q.Add(context.Background(), a)
	}

	require.NoError(t, q.Sync(context.Background()))
	assert.Equal(t, actions, d.Calls())
	assert.Zero(t, q.Len())
}

func TestSyncAttemptsEachItemExactlyOnce(t *testing.T) {
	d := &fakeDispatcher{
		signedIn: true,
		errFor:   func(Action) error { return errors.New("boom") },
	}
	q := newOnlineQueue(t, d, Options{})
	for _, a := range messages(3) {
		q.Add(context.Background(), a)
	}

	err := q.Sync(context.Background())
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 3, syncErr.Failed)
	assert.Len(t, d.Calls(), 3)
}

func TestSyncOfflineIsNoop(t *testing.T) {
	store := kv.NewMemory()
	d := &fakeDispatcher{signedIn: true}
	q := NewQueue(d, Options{KV: store})
	q.Add(context.Background(), JoinParty{PartyID: "p1"})
	before, err := store.Get(context.Background(), StorageKey)
	require.NoError(t, err)

	require.NoError(t, q.Sync(context.Background()))

	assert.Empty(t, d.Calls())
	assert.Equal(t, 1, q.Len())
	after, err := store.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestSyncWithoutUserIsNoop(t *testing.T) {
	d := &fakeDispatcher{}
	q := newOnlineQueue(t, d, Options{})
	q.Add(context.Background(), LikePhoto{PhotoID: "ph1"})

	require.NoError(t, q.Sync(context.Background()))
	assert.Empty(t, d.Calls())
	assert.Equal(t, 1, q.Len())
}

func TestReconnectTriggersReplay(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connectivity.", 10)
	defer unsub()

	d := &fakeDispatcher{signedIn: true}
	q := NewQueue(d, Options{Bus: b})
	require.False(t, q.Online())

	q.Add(context.Background(), CreateParty{Party: model.Party{Title: "Rooftop"}})
	q.Add(context.Background(), JoinParty{PartyID: "p1"})

	q.SetOnline(context.Background(), true)

	assert.Len(t, d.Calls(), 2)
	assert.Zero(t, q.Len())
	assert.Equal(t, connectivity.Idle, q.State())

	var states []connectivity.State
	for len(states) < 2 {
		select {
		case evt := <-ch:
			states = append(states, evt.Payload.(connectivity.Change).To)
		case <-time.After(time.Second):
			t.Fatalf("timeout, states so far %v", states)
		}
	}
	assert.Equal(t, []connectivity.State{connectivity.Syncing, connectivity.Idle}, states)
}

func TestSetOnlineRepeatedDoesNotReplay(t *testing.T) {
	d := &fakeDispatcher{signedIn: true}
	q := newOnlineQueue(t, d, Options{})
	q.Add(context.Background(), JoinParty{PartyID: "p1"})

	q.SetOnline(context.Background(), true)
	assert.Empty(t, d.Calls())

	q.SetOnline(context.Background(), false)
	assert.Equal(t, connectivity.Offline, q.State())
	assert.Empty(t, d.Calls())
}

func TestFailedItemsStayQueuedUntilAttemptLimit(t *testing.T) {
	b := bus.New()
	dropped, unsub := b.Subscribe(bus.KindQueueDropped, 10)
	defer unsub()

	d := &fakeDispatcher{
		signedIn: true,
		errFor: func(a Action) error {
			if j, ok := a.(JoinParty); ok && j.PartyID == "deleted" {
				return gateway.ErrNotFound
			}
			return nil
		},
	}
	q := newOnlineQueue(t, d, Options{Bus: b, MaxAttempts: 2})

	ok := q.Add(context.Background(), JoinParty{PartyID: "p1"})
	bad := q.Add(context.Background(), JoinParty{PartyID: "deleted"})

	err := q.Sync(context.Background())
	require.EqualError(t, err, "1 items failed to sync")
	assert.EqualError(t, q.Err(), "1 items failed to sync")

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, bad.ID, items[0].ID)
	assert.NotEqual(t, ok.ID, items[0].ID)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Contains(t, items[0].LastError, "not found")

	require.Error(t, q.Sync(context.Background()))
	assert.Zero(t, q.Len())

	select {
	case evt := <-dropped:
		item := evt.Payload.(Item)
		assert.Equal(t, bad.ID, item.ID)
		assert.Equal(t, 2, item.Attempts)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for queue.dropped")
	}

	assert.Len(t, d.Calls(), 3)
}

func TestUnavailableFailuresDoNotCountAsAttempts(t *testing.T) {
	d := &fakeDispatcher{
		signedIn: true,
		errFor:   func(Action) error { return gateway.ErrUnavailable },
	}
	q := newOnlineQueue(t, d, Options{MaxAttempts: 1})
	q.Add(context.Background(), AddFriend{FriendID: "u2"})

	require.Error(t, q.Sync(context.Background()))
	items := q.Items()
	require.Len(t, items, 1)
	assert.Zero(t, items[0].Attempts)
}

func TestItemsAddedDuringSyncAreKept(t *testing.T) {
	var q *Queue
	var once sync.Once
	d := &fakeDispatcher{
		signedIn: true,
		during: func(Action) {
			once.Do(func() { q.Add(context.Background(), LikePhoto{PhotoID: "late"}) })
		},
	}
	q = newOnlineQueue(t, d, Options{})
	q.Add(context.Background(), LikePhoto{PhotoID: "early"})

	require.NoError(t, q.Sync(context.Background()))
	assert.Len(t, d.Calls(), 1)

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, LikePhoto{PhotoID: "late"}, items[0].Action)
}

func TestOnlyOnePassRunsAtATime(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	d := &fakeDispatcher{
		signedIn: true,
		during: func(Action) {
			once.Do(func() { close(started) })
			<-release
		},
	}
	q := newOnlineQueue(t, d, Options{})
	q.Add(context.Background(), JoinParty{PartyID: "p1"})

	done := make(chan error)
	go func() { done <- q.Sync(context.Background()) }()
	<-started

	require.NoError(t, q.Sync(context.Background()))
	close(release)
	require.NoError(t, <-done)
	assert.Len(t, d.Calls(), 1)
}

func TestQueuePersistsAcrossInstances(t *testing.T) {
	store := kv.NewMemory()
	first := NewQueue(&fakeDispatcher{}, Options{KV: store})
	added := first.Add(context.Background(), UploadPhoto{PartyID: "p1", Path: "/tmp/a.jpg", Caption: "hi"})

	second := NewQueue(&fakeDispatcher{}, Options{KV: store})
	require.NoError(t, second.Load(context.Background()))

	items := second.Items()
	require.Len(t, items, 1)
	assert.Equal(t, added.ID, items[0].ID)
	assert.Equal(t, added.Timestamp, items[0].Timestamp)
	assert.Equal(t, UploadPhoto{PartyID: "p1", Path: "/tmp/a.jpg", Caption: "hi"}, items[0].Action)

	require.NoError(t, second.Reset(context.Background()))
	_, err := store.Get(context.Background(), StorageKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestAddAssignsSortableIDsAndTimestamps(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	q := NewQueue(&fakeDispatcher{}, Options{Now: func() time.Time { return now }})

	a := q.Add(context.Background(), JoinParty{PartyID: "p1"})
	b := q.Add(context.Background(), JoinParty{PartyID: "p1"})

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 26)
	assert.Equal(t, now.UnixMilli(), a.Timestamp)
	assert.Equal(t, 2, q.Len(), "duplicate actions are both kept")
}

func TestSubmit(t *testing.T) {
	t.Run("online dispatches inline", func(t *testing.T) {
		d := &fakeDispatcher{signedIn: true}
		q := newOnlineQueue(t, d, Options{})
		queued, err := q.Submit(context.Background(), SendMessage{PartyID: "p1", Body: "hi"})
		require.NoError(t, err)
		assert.False(t, queued)
		assert.Len(t, d.Calls(), 1)
		assert.Zero(t, q.Len())
	})

	t.Run("offline queues", func(t *testing.T) {
		d := &fakeDispatcher{signedIn: true}
		q := NewQueue(d, Options{})
		queued, err := q.Submit(context.Background(), SendMessage{PartyID: "p1", Body: "hi"})
		require.NoError(t, err)
		assert.True(t, queued)
		assert.Empty(t, d.Calls())
		assert.Equal(t, 1, q.Len())
	})

	t.Run("unreachable gateway queues and goes offline", func(t *testing.T) {
		d := &fakeDispatcher{signedIn: true, errFor: func(Action) error { return gateway.ErrUnavailable }}
		q := newOnlineQueue(t, d, Options{})
		queued, err := q.Submit(context.Background(), SendMessage{PartyID: "p1", Body: "hi"})
		require.NoError(t, err)
		assert.True(t, queued)
		assert.False(t, q.Online())
		assert.Equal(t, 1, q.Len())
	})

	t.Run("other errors are returned", func(t *testing.T) {
		d := &fakeDispatcher{signedIn: true, errFor: func(Action) error { return gateway.ErrConflict }}
		q := newOnlineQueue(t, d, Options{})
		queued, err := q.Submit(context.Background(), JoinParty{PartyID: "p1"})
		assert.ErrorIs(t, err, gateway.ErrConflict)
		assert.False(t, queued)
		assert.Zero(t, q.Len())
	})
}

func TestItemJSON(t *testing.T) {
	item := Item{ID: "01H", Action: JoinParty{PartyID: "p1"}, Timestamp: 42}
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"01H","type":"joinParty","data":{"party_id":"p1"},"timestamp":42}`, string(data))

	var unknown Item
	err = json.Unmarshal([]byte(`{"id":"x","type":"deleteEverything","data":{}}`), &unknown)
	assert.ErrorContains(t, err, "unknown action type")
}
