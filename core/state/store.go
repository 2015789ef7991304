// Package state implements the live state store: the single authoritative
// in-memory snapshot of vehicle, driver, job and route state. Mutations to a
// given entity are serialized; mutations to different entities proceed
// independently. Reads return immutable snapshots and never block writers.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetglide/dispatchd/core/model"
)

// EntityKind tags change events with the entity collection they belong to.
type EntityKind string

const (
	KindVehicle EntityKind = "vehicle"
	KindDriver  EntityKind = "driver"
	KindJob     EntityKind = "job"
	KindRoute   EntityKind = "route"
)

// Change describes one committed mutation. Version is the entity's new
// monotonically increasing version; subscribers use it to detect gaps.
type Change struct {
	Kind    EntityKind `json:"kind"`
	ID      string     `json:"id"`
	Version uint64     `json:"version"`
	At      time.Time  `json:"at"`
}

type versioned[T any] struct {
	val     T
	version uint64
}

// entry holds one entity. Writers serialize on mu; readers load the snapshot
// pointer without taking any lock.
type entry[T any] struct {
	mu   sync.Mutex
	snap atomic.Pointer[versioned[T]]
}

type collection[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{entries: make(map[string]*entry[T])}
}

func (c *collection[T]) lookup(id string) (*entry[T], bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	return e, ok
}

func (c *collection[T]) ensure(id string) *entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry[T]{}
		c.entries[id] = e
	}
	return e
}

func (c *collection[T]) get(id string) (T, uint64, bool) {
	var zero T
	e, ok := c.lookup(id)
	if !ok {
		return zero, 0, false
	}
	v := e.snap.Load()
	if v == nil {
		return zero, 0, false
	}
	return v.val, v.version, true
}

func (c *collection[T]) list() []T {
	c.mu.RLock()
	entries := make([]*entry[T], 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		if v := e.snap.Load(); v != nil {
			out = append(out, v.val)
		}
	}
	return out
}

// Store owns all mutable fleet state. Construct one at process start and
// inject it into every component; there is no ambient global.
type Store struct {
	vehicles *collection[model.Vehicle]
	drivers  *collection[model.Driver]
	jobs     *collection[model.Job]
	routes   *collection[model.Route]

	staleAfter time.Duration
	now        func() time.Time

	halted   atomic.Bool
	haltMsg  atomic.Value // string
	onChange func(Change)
}

// Option configures a Store.
type Option func(*Store)

// WithStaleAfter overrides the telemetry freshness threshold (default 5m).
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithChangeHook registers a callback invoked after every committed
// mutation. The callback must not block.
func WithChangeHook(fn func(Change)) Option {
	return func(s *Store) { s.onChange = fn }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		vehicles:   newCollection[model.Vehicle](),
		drivers:    newCollection[model.Driver](),
		jobs:       newCollection[model.Job](),
		routes:     newCollection[model.Route](),
		staleAfter: 5 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Halt blocks all writes fleet-wide. Reads keep serving last-known state in
// degraded mode.
func (s *Store) Halt(reason string) {
	s.haltMsg.Store(reason)
	s.halted.Store(true)
}

// Halted reports whether the store refuses writes.
func (s *Store) Halted() bool { return s.halted.Load() }

func (s *Store) writeGuard() error {
	if s.halted.Load() {
		msg, _ := s.haltMsg.Load().(string)
		return model.Reject(model.ReasonStoreDegraded, "writes halted: %s", msg)
	}
	return nil
}

// mutate applies fn to the entity under its writer lock, bumps the version
// and publishes a change event. When create is false a missing entity is a
// rejection.
func mutate[T any](s *Store, c *collection[T], kind EntityKind, id string, create bool, fn func(*T) error) (T, uint64, error) {
	var zero T
	if err := s.writeGuard(); err != nil {
		return zero, 0, err
	}
	var e *entry[T]
	if create {
		e = c.ensure(id)
	} else {
		var ok bool
		e, ok = c.lookup(id)
		if !ok {
			return zero, 0, model.Reject(model.ReasonUnknownEntity, "%s %s not found", kind, id)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.snap.Load()
	var next versioned[T]
	if cur != nil {
		next = versioned[T]{val: cur.val, version: cur.version}
	} else if !create {
		return zero, 0, model.Reject(model.ReasonUnknownEntity, "%s %s not found", kind, id)
	}
	if err := fn(&next.val); err != nil {
		return zero, 0, err
	}
	next.version++
	e.snap.Store(&next)
	if s.onChange != nil {
		s.onChange(Change{Kind: kind, ID: id, Version: next.version, At: s.now()})
	}
	return next.val, next.version, nil
}
