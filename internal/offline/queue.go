package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/connectivity"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/kv"
	"github.com/matheus3301/partyline/internal/logging"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// StorageKey is the kv key the queue persists under.
const StorageKey = "offline-storage"

// DefaultMaxAttempts is how many failed replays an item survives.
const DefaultMaxAttempts = 5

// Dispatcher executes queued actions against the entity stores.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Action) error
	Authenticated() bool
}

// SyncError reports how many items failed during a replay pass.
type SyncError struct {
	Failed int
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%d items failed to sync", e.Failed)
}

// SyncResult is the payload of queue.synced events.
type SyncResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Dropped   int
}

// Options configures a Queue.
type Options struct {
	KV          kv.Store
	Bus         *bus.Bus
	Machine     *connectivity.Machine
	Logger      *zap.Logger
	Reporter    logging.Reporter
	MaxAttempts int
	Now         func() time.Time
}

// Queue is the offline action queue of one profile.
type Queue struct {
	kv          kv.Store
	bus         *bus.Bus
	machine     *connectivity.Machine
	logger      *zap.Logger
	reporter    logging.Reporter
	dispatcher  Dispatcher
	maxAttempts int
	now         func() time.Time

	mu    sync.Mutex
	items []Item
	err   error

	// pass allows a single replay pass at a time.
	pass sync.Mutex
}

// NewQueue creates an empty queue replaying through d.
func NewQueue(d Dispatcher, opts Options) *Queue {
	q := &Queue{
		kv:          opts.KV,
		bus:         opts.Bus,
		machine:     opts.Machine,
		logger:      opts.Logger,
		reporter:    opts.Reporter,
		dispatcher:  d,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
	if q.kv == nil {
		q.kv = kv.NewMemory()
	}
	if q.machine == nil {
		q.machine = connectivity.NewMachine(q.bus)
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	if q.reporter == nil {
		q.reporter = logging.NewReporter(q.logger)
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultMaxAttempts
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

type persisted struct {
	Queue []Item `json:"queue"`
}

// Load rehydrates the queue from the kv store.
func (q *Queue) Load(ctx context.Context) error {
	data, err := q.kv.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode queue: %w", err)
	}
	q.mu.Lock()
	q.items = p.Queue
	q.mu.Unlock()
	return nil
}

// saveLocked writes the queue through to the kv store. Failures are logged;
// the in-memory queue stays authoritative for this process.
func (q *Queue) saveLocked() {
	data, err := json.Marshal(persisted{Queue: q.items})
	if err == nil {
		err = q.kv.Set(context.Background(), StorageKey, data)
	}
	if err != nil {
		q.logger.Error("persist queue failed", zap.Error(err))
	}
}

// Add appends an action. Identical actions added twice both replay.
func (q *Queue) Add(_ context.Context, a Action) Item {
	item := Item{
		ID:        ulid.Make().String(),
		Action:    a,
		Timestamp: q.now().UnixMilli(),
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.saveLocked()
	q.mu.Unlock()

	q.logger.Info("action queued", zap.String("id", item.ID), zap.String("type", string(a.Type())))
	q.bus.Emit(bus.KindQueueAdded, item)
	return item
}

// Items returns a copy of the queue in insertion order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Err returns the outcome of the last replay pass.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Online reports the connectivity flag.
func (q *Queue) Online() bool {
	return q.machine.Online()
}

// State returns the connectivity state.
func (q *Queue) State() connectivity.State {
	return q.machine.Current()
}

// Reset empties the queue and forgets the last error.
func (q *Queue) Reset(ctx context.Context) error {
	q.mu.Lock()
	q.items = nil
	q.err = nil
	q.mu.Unlock()
	if err := q.kv.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	return nil
}

// SetOnline updates the connectivity flag. Going from offline to online
// replays the queue before returning.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	if online == q.machine.Online() {
		return
	}
	if !online {
		if err := q.machine.Transition(connectivity.Offline); err != nil {
			q.logger.Debug("connectivity transition", zap.Error(err))
		}
		return
	}

	to := connectivity.Idle
	if q.Len() > 0 && q.dispatcher.Authenticated() {
		to = connectivity.Syncing
	}
	if err := q.machine.Transition(to); err != nil {
		q.logger.Debug("connectivity transition", zap.Error(err))
		return
	}
	if err := q.Sync(ctx); err != nil {
		q.logger.Warn("replay after reconnect", zap.Error(err))
	}
}

// Submit dispatches a right away while online and queues it when the gateway
// is unreachable. It reports whether the action was queued.
func (q *Queue) Submit(ctx context.Context, a Action) (queued bool, err error) {
	if !q.Online() {
		q.Add(ctx, a)
		return true, nil
	}
	err = q.dispatcher.Dispatch(ctx, a)
	if errors.Is(err, gateway.ErrUnavailable) {
		q.SetOnline(ctx, false)
		q.Add(ctx, a)
		return true, nil
	}
	return false, err
}

// Sync replays the queue once. It is a no-op while offline, when the queue
// is empty, when nobody is signed in, or while another pass is running.
// Items are dispatched one at a time in insertion order and each is attempted
// exactly once. Succeeded items are removed. A failed item stays queued with
// its attempt count raised until it reaches the attempt limit, then it is
// dropped. Actions added during the pass are left for the next one.
func (q *Queue) Sync(ctx context.Context) error {
	if !q.Online() {
		return nil
	}
	if !q.pass.TryLock() {
		return nil
	}
	defer q.pass.Unlock()

	defer q.settle()

	snapshot := q.Items()
	if len(snapshot) == 0 || !q.dispatcher.Authenticated() {
		return nil
	}
	if q.machine.Current() == connectivity.Idle {
		if err := q.machine.Transition(connectivity.Syncing); err != nil {
			q.logger.Debug("connectivity transition", zap.Error(err))
		}
	}

	q.logger.Info("replaying offline queue", zap.Int("items", len(snapshot)))

	var result SyncResult
	for _, item := range snapshot {
		result.Attempted++
		err := q.dispatcher.Dispatch(ctx, item.Action)
		q.reporter.Report("queue."+string(item.Type()), err)
		if err == nil {
			result.Succeeded++
			q.remove(item.ID)
			continue
		}
		result.Failed++
		if q.recordFailure(item.ID, err) {
			result.Dropped++
		}
	}

	var syncErr error
	if result.Failed > 0 {
		syncErr = &SyncError{Failed: result.Failed}
	}
	q.mu.Lock()
	q.err = syncErr
	q.mu.Unlock()

	q.logger.Info("offline queue replayed",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("dropped", result.Dropped))
	q.bus.Emit(bus.KindQueueSynced, result)
	return syncErr
}

// settle ends the SYNCING state unless connectivity was lost meanwhile.
func (q *Queue) settle() {
	if q.machine.Current() == connectivity.Syncing {
		_ = q.machine.Transition(connectivity.Idle)
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.DeleteFunc(q.items, func(i Item) bool { return i.ID == id })
	q.saveLocked()
}

// recordFailure bumps the attempt count of the item and drops it once it
// reaches the limit. Unreachable-gateway failures do not count as attempts.
// It reports whether the item was dropped.
func (q *Queue) recordFailure(id string, cause error) bool {
	q.mu.Lock()
	idx := slices.IndexFunc(q.items, func(i Item) bool { return i.ID == id })
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	item := &q.items[idx]
	item.LastError = cause.Error()
	if !errors.Is(cause, gateway.ErrUnavailable) {
		item.Attempts++
	}
	dropped := item.Attempts >= q.maxAttempts
	snapshot := *item
	if dropped {
		q.items = slices.Delete(q.items, idx, idx+1)
	}
	q.saveLocked()
	q.mu.Unlock()

	if dropped {
		q.logger.Warn("dropping queued action",
			zap.String("id", snapshot.ID),
			zap.String("type", string(snapshot.Type())),
			zap.Int("attempts", snapshot.Attempts),
			zap.Error(cause))
		q.bus.Emit(bus.KindQueueDropped, snapshot)
	}
	return dropped
}
