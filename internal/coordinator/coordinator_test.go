// coordinator_test.go
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
	"testing"
	"time"

	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/persist"
)

// memPersistor keeps state bytes in memory and counts traffic.
type memPersistor struct {
	mu      sync.Mutex
	state   []byte
	loads   int
	saves   int
	saveErr error
}

func (p *memPersistor) Load(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	if p.state == nil {
		return nil, persist.ErrNotFound
	}
	return p.state, nil
}

func (p *memPersistor) Save(ctx context.Context, state []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saves++
	p.state = state
	return nil
}

type published struct {
	key  string
	meta crdt.Meta
}

// memBroadcaster records every published update.
type memBroadcaster struct {
	mu        sync.Mutex
	published []published
}

func (b *memBroadcaster) Publish(key string, update []byte, meta crdt.Meta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{key: key, meta: meta})
}

func (b *memBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func setTitle(title string) func(doc *document.Doc) error {
	return func(doc *document.Doc) error {
		_, err := doc.Transact(nil, func(tx *crdt.Txn) error {
			doc.SetTitle(tx, title)
			return nil
		})
		return err
	}
}

func readTitle(ctx context.Context, t *testing.T, c *Coordinator, key string, p persist.Persistor) string {
	t.Helper()
	title, err := WithDocForUpdate(ctx, c, key, p, func(doc *document.Doc) (string, error) {
		var out string
		doc.Read(func() { out = doc.Title() })
		return out, nil
	})
	if err != nil {
		t.Fatalf("read title: %v", err)
	}
	return title
}

func TestWithDocForUpdatePersistsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	b := &memBroadcaster{}
	c := New(b)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("First")); err != nil {
		t.Fatalf("update: %v", err)
	}

	if p.saves != 1 {
		t.Errorf("expected 1 save, got %d", p.saves)
	}
	if b.count() != 1 {
		t.Errorf("expected 1 broadcast, got %d", b.count())
	}
	if b.published[0].key != "doc-1" {
		t.Errorf("expected broadcast key doc-1, got %s", b.published[0].key)
	}
	if got := readTitle(ctx, t, c, "doc-1", p); got != "First" {
		t.Errorf("expected title First, got %q", got)
	}
}

func TestReadOnlyWindowDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	b := &memBroadcaster{}
	c := New(b)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Stable")); err != nil {
		t.Fatalf("update: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := readTitle(ctx, t, c, "doc-1", p); got != "Stable" {
			t.Fatalf("expected title Stable, got %q", got)
		}
	}

	if p.saves != 1 {
		t.Errorf("reads must not persist, saves=%d", p.saves)
	}
	if b.count() != 1 {
		t.Errorf("reads must not broadcast, published=%d", b.count())
	}
}

func TestContainerCachedAcrossWindows(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Cached")); err != nil {
		t.Fatalf("update: %v", err)
	}
	readTitle(ctx, t, c, "doc-1", p)
	readTitle(ctx, t, c, "doc-1", p)

	if p.loads != 1 {
		t.Errorf("expected a single load, got %d", p.loads)
	}
}

func TestRollbackOnCallbackError(t *testing.T) {
	ctx := context.Background()
	b := &memBroadcaster{}
	c := New(b)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Good")); err != nil {
		t.Fatalf("update: %v", err)
	}

	boom := errors.New("boom")
	err := c.WithDocForUpdate(ctx, "doc-1", p, func(doc *document.Doc) error {
		if err := setTitle("Bad")(doc); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if p.saves != 1 {
		t.Errorf("failed window must not persist, saves=%d", p.saves)
	}
	if b.count() != 1 {
		t.Errorf("failed window must not broadcast, published=%d", b.count())
	}
	if got := readTitle(ctx, t, c, "doc-1", p); got != "Good" {
		t.Errorf("expected title rolled back to Good, got %q", got)
	}
}

func TestRollbackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	b := &memBroadcaster{}
	c := New(b)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Stable")); err != nil {
		t.Fatalf("update: %v", err)
	}

	p.saveErr = errors.New("disk full")
	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Lost")); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	p.saveErr = nil

	if b.count() != 1 {
		t.Errorf("failed persist must not broadcast, published=%d", b.count())
	}
	if got := readTitle(ctx, t, c, "doc-1", p); got != "Stable" {
		t.Errorf("expected title rolled back to Stable, got %q", got)
	}
}

func TestSerializedAccess(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	p := &memPersistor{}

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithDocForUpdate(ctx, "doc-1", p, func(doc *document.Doc) error {
				var n int
				doc.Read(func() {
					fmt.Sscanf(doc.Title(), "%d", &n)
				})
				// a racing window would observe the same count here
				time.Sleep(time.Millisecond)
				_, err := doc.Transact(nil, func(tx *crdt.Txn) error {
					doc.SetTitle(tx, fmt.Sprintf("%d", n+1))
					return nil
				})
				return err
			})
			if err != nil {
				t.Errorf("worker: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := readTitle(ctx, t, c, "doc-1", p); got != fmt.Sprintf("%d", workers) {
		t.Errorf("expected counter %d, got %q", workers, got)
	}
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	c := New(nil, WithLockTimeout(50*time.Millisecond))
	p := &memPersistor{}

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.WithDocForUpdate(ctx, "doc-1", p, func(doc *document.Doc) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Never"))
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	close(release)
}

func TestIndependentKeysDoNotContend(t *testing.T) {
	ctx := context.Background()
	c := New(nil, WithLockTimeout(time.Second))
	p1 := &memPersistor{}
	p2 := &memPersistor{}

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.WithDocForUpdate(ctx, "doc-1", p1, func(doc *document.Doc) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	if err := c.WithDocForUpdate(ctx, "doc-2", p2, setTitle("Free")); err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
}

func TestEvictReloadsFromStorage(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Durable")); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Evict(ctx, "doc-1", nil); err != nil {
		t.Fatalf("evict: %v", err)
	}

	if got := readTitle(ctx, t, c, "doc-1", p); got != "Durable" {
		t.Errorf("expected reloaded title Durable, got %q", got)
	}
	if p.loads != 2 {
		t.Errorf("expected reload after evict, loads=%d", p.loads)
	}
}

func TestEvictWaitsForActiveWindow(t *testing.T) {
	ctx := context.Background()
	c := New(nil, WithLockTimeout(50*time.Millisecond))
	p := &memPersistor{}

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.WithDocForUpdate(ctx, "doc-1", p, func(doc *document.Doc) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// the identity is held; evicting must not slip through
	if err := c.Evict(ctx, "doc-1", nil); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while window active, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("window failed: %v", err)
	}

	// cleanup runs after the window finished and before the entry drops
	cleaned := false
	if err := c.Evict(ctx, "doc-1", func() error {
		cleaned = true
		return nil
	}); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if !cleaned {
		t.Error("cleanup did not run")
	}
	if p.saves != 0 {
		t.Errorf("read-only window must not persist, saves=%d", p.saves)
	}
}

func TestEvictKeepsEntryOnCleanupError(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	p := &memPersistor{}

	if err := c.WithDocForUpdate(ctx, "doc-1", p, setTitle("Sticky")); err != nil {
		t.Fatalf("update: %v", err)
	}

	boom := errors.New("row delete failed")
	if err := c.Evict(ctx, "doc-1", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected cleanup error, got %v", err)
	}

	// container stays cached; no reload happens
	if got := readTitle(ctx, t, c, "doc-1", p); got != "Sticky" {
		t.Errorf("expected cached title Sticky, got %q", got)
	}
	if p.loads != 1 {
		t.Errorf("expected no reload after failed cleanup, loads=%d", p.loads)
	}
}

func TestAppKeyDistinctPerUser(t *testing.T) {
	a := AppKey("doc-1", "app-1", "user-1")
	b := AppKey("doc-1", "app-1", "user-2")
	if a == b {
		t.Error("app keys for different users must differ")
	}
	if a == DocKey("doc-1") {
		t.Error("app key must differ from the canonical document key")
	}
}
