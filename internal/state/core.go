// Package state holds the client-side caches of backend entities. Each store
// mirrors one slice of the backend, wraps the gateway calls that mutate it and
// writes a projection of itself through to device storage on every change.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/kv"
	"github.com/matheus3301/partyline/internal/logging"
	"go.uber.org/zap"
)

// ErrAuthenticationRequired is returned by actions that need a signed-in user
// when there is none. The gateway is not called.
var ErrAuthenticationRequired = errors.New("authentication required")

// Deps are the collaborators shared by every store.
type Deps struct {
	Gateway  *gateway.Gateway
	KV       kv.Store
	Bus      *bus.Bus
	Logger   *zap.Logger
	Reporter logging.Reporter
}

func (d Deps) withDefaults() Deps {
	if d.KV == nil {
		d.KV = kv.NewMemory()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Reporter == nil {
		d.Reporter = logging.NewReporter(d.Logger)
	}
	return d
}

// core carries the parts every store shares: loading and error flags, the
// action wrapper and write-through persistence.
type core struct {
	name string
	key  string
	deps Deps

	mu        sync.Mutex
	loading   bool
	err       error
	persisted []byte

	// Set by the concrete store. Called with mu held.
	project func() map[string]any
	restore func(map[string]json.RawMessage) error
	clear   func()
}

func (c *core) init(name string, deps Deps) {
	c.name = name
	c.key = name + "-storage"
	c.deps = deps.withDefaults()
}

// Name returns the store name.
func (c *core) Name() string { return c.name }

// Loading reports whether an action is in flight.
func (c *core) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the error of the last failed action, or nil.
func (c *core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// update applies fn under the store lock, writes the persisted projection if
// it changed and announces the change.
func (c *core) update(fn func()) {
	c.mu.Lock()
	fn()
	c.saveLocked()
	c.mu.Unlock()
	c.deps.Bus.Emit(bus.StoreChanged(c.name), nil)
}

func (c *core) saveLocked() {
	data, err := json.Marshal(c.project())
	if err != nil {
		c.deps.Logger.Error("encode store", zap.String("store", c.name), zap.Error(err))
		return
	}
	if bytes.Equal(data, c.persisted) {
		return
	}
	if err := c.deps.KV.Set(context.Background(), c.key, data); err != nil {
		c.deps.Logger.Error("persist store", zap.String("store", c.name), zap.Error(err))
		return
	}
	c.persisted = data
}

// run wraps a gateway-backed action: loading is raised and the error cleared,
// fn runs, then loading drops and a failure is kept as the store error. Every
// outcome goes to the reporter. fn merges its own result into the store.
func (c *core) run(action string, fn func() error) error {
	c.update(func() {
		c.loading = true
		c.err = nil
	})
	err := fn()
	c.update(func() {
		c.loading = false
		if err != nil {
			c.err = err
		}
	})
	c.deps.Reporter.Report(c.name+"."+action, err)
	return err
}

// Load rehydrates the store from device storage. A missing key leaves the
// store empty.
func (c *core) Load(ctx context.Context) error {
	data, err := c.deps.KV.Get(ctx, c.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", c.key, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode %s: %w", c.key, err)
	}

	c.mu.Lock()
	err = c.restore(fields)
	if err == nil {
		c.loading = false
		c.err = nil
		c.persisted = data
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("decode %s: %w", c.key, err)
	}
	c.deps.Bus.Emit(bus.StoreChanged(c.name), nil)
	return nil
}

// Reset empties the store and removes its persisted projection.
func (c *core) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.clear()
	c.loading = false
	c.err = nil
	c.persisted = nil
	err := c.deps.KV.Remove(ctx, c.key)
	c.mu.Unlock()
	c.deps.Bus.Emit(bus.StoreChanged(c.name), nil)
	if err != nil {
		return fmt.Errorf("reset %s: %w", c.key, err)
	}
	return nil
}
