// coordinator.go
//
// Per-identity serialized access to live document containers.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/persist"
)

// ErrLockTimeout is returned when the per-identity lock could not be
// acquired in time. It is retryable; callers should back off and retry
// rather than surface a hard failure.
var ErrLockTimeout = errors.New("timed out acquiring document lock")

// Broadcaster receives the incremental update bytes of every committed
// access window, fire-and-forget.
type Broadcaster interface {
	Publish(key string, update []byte, meta crdt.Meta)
}

// Locker is an external mutual-exclusion primitive scoped to a document
// identity, for deployments that span multiple processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Coordinator is the single entry point for mutating document containers.
// It serializes access per variant identity, lazily materializes containers
// from persisted bytes, and persists plus broadcasts after each mutation.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry

	broadcaster Broadcaster
	locker      Locker
	lockTimeout time.Duration
}

type entry struct {
	sem chan struct{}
	doc *document.Doc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker adds an external cross-process lock around each access window.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithLockTimeout bounds how long lock acquisition may block.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.lockTimeout = d }
}

// New creates a Coordinator publishing committed updates to b.
func New(b Broadcaster, opts ...Option) *Coordinator {
	c := &Coordinator{
		entries:     make(map[string]*entry),
		broadcaster: b,
		lockTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) entryFor(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		c.entries[key] = e
	}
	return e
}

// Evict waits out any in-flight access window on the identity, runs cleanup
// while the identity is still held, then drops the cached container so the
// next window reloads from persisted bytes. Used when an app instance grant
// is revoked or a document is deleted; cleanup removes the backing row,
// which must not interleave with a concurrent window writing it back.
func (c *Coordinator) Evict(ctx context.Context, key string, cleanup func() error) error {
	e := c.entryFor(key)
	if err := acquire(ctx, e.sem, c.lockTimeout); err != nil {
		return err
	}
	defer func() { <-e.sem }()

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, key)
		if err != nil {
			return err
		}
		defer release()
	}

	if cleanup != nil {
		if err := cleanup(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur == e {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

// WithDocForUpdate acquires exclusive logical access to the identity, loads
// or reuses its live container, runs fn, then persists the container's full
// state and broadcasts the incremental changes fn committed. If fn returns
// an error, or persisting fails, the container reverts to its state at the
// start of the window and nothing is broadcast.
func (c *Coordinator) WithDocForUpdate(ctx context.Context, key string, p persist.Persistor, fn func(doc *document.Doc) error) error {
	_, err := WithDocForUpdate(ctx, c, key, p, func(doc *document.Doc) (struct{}, error) {
		return struct{}{}, fn(doc)
	})
	return err
}

// WithDocForUpdate is the result-returning form of
// (*Coordinator).WithDocForUpdate.
func WithDocForUpdate[R any](ctx context.Context, c *Coordinator, key string, p persist.Persistor, fn func(doc *document.Doc) (R, error)) (R, error) {
	var zero R

	e := c.entryFor(key)
	if err := acquire(ctx, e.sem, c.lockTimeout); err != nil {
		return zero, err
	}
	defer func() { <-e.sem }()

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, key)
		if err != nil {
			return zero, err
		}
		defer release()
	}

	if e.doc == nil {
		doc, err := loadDoc(ctx, p)
		if err != nil {
			return zero, err
		}
		e.doc = doc
	}

	// collect every transaction committed during this window
	type change struct {
		update []byte
		meta   crdt.Meta
	}
	var changes []change
	unobserve := e.doc.Observe(func(update []byte, meta crdt.Meta) {
		changes = append(changes, change{update: update, meta: meta})
	})
	defer unobserve()

	prior, err := e.doc.EncodeState()
	if err != nil {
		return zero, fmt.Errorf("snapshot state: %w", err)
	}

	result, err := fn(e.doc)
	if err != nil {
		c.restore(e, key, prior)
		return zero, err
	}

	// read-only windows commit no transactions; persisting would bump the
	// state version without a state change
	if len(changes) == 0 {
		return result, nil
	}

	state, err := e.doc.EncodeState()
	if err != nil {
		c.restore(e, key, prior)
		return zero, fmt.Errorf("encode state: %w", err)
	}
	if err := p.Save(ctx, state); err != nil {
		c.restore(e, key, prior)
		return zero, fmt.Errorf("persist state: %w", err)
	}

	if c.broadcaster != nil {
		for _, ch := range changes {
			c.broadcaster.Publish(key, ch.update, ch.meta)
		}
	}
	return result, nil
}

func loadDoc(ctx context.Context, p persist.Persistor) (*document.Doc, error) {
	actor := uuid.NewString()
	state, err := p.Load(ctx)
	if errors.Is(err, persist.ErrNotFound) {
		return document.New(actor), nil
	}
	if err != nil {
		return nil, err
	}
	return document.FromState(actor, state)
}

// restore reverts the cached container to the window's starting state.
func (c *Coordinator) restore(e *entry, key string, prior []byte) {
	doc, err := document.FromState(e.doc.Actor(), prior)
	if err != nil {
		// cached container may hold partial state; drop it so the next
		// window reloads from storage
		log.Error().Err(err).Str("doc", key).Msg("failed to restore container, evicting")
		e.doc = nil
		return
	}
	e.doc = doc
}

// acquire takes the identity semaphore or fails with ErrLockTimeout.
func acquire(ctx context.Context, sem chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}
