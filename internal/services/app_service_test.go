// app_service_test.go
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/notebase/docsync/internal/apps"
	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/models"
	"github.com/notebase/docsync/internal/persist"
)

func readInstance(t *testing.T, coord *coordinator.Coordinator, db *gorm.DB, app models.AppDocument, userID string) DocumentOverview {
	t.Helper()
	view, err := ReadDocument(context.Background(), coord,
		coordinator.AppKey(app.DocumentID, app.ID, userID),
		persist.NewAppPersistor(db, app.ID, userID))
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}
	return view
}

func publishTestApp(t *testing.T, db *gorm.DB, coord *coordinator.Coordinator) models.AppDocument {
	t.Helper()
	doc, err := CreateDocument(db, "ws-1", "Source")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	seedDocumentContent(t, db, coord, doc.ID)
	app, err := PublishApp(db, doc.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return app
}

func TestPublishAppIdempotent(t *testing.T) {
	db := testDB(t)
	coord := coordinator.New(nil)
	app := publishTestApp(t, db, coord)

	again, err := PublishApp(db, app.DocumentID)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if again.ID != app.ID {
		t.Errorf("republish created a second app: %s vs %s", again.ID, app.ID)
	}

	if _, err := GetApp(db, "missing"); !errors.Is(err, ErrAppNotFound) {
		t.Errorf("expected ErrAppNotFound, got %v", err)
	}
}

func TestGrantAppInstanceSeedsFromCanonical(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	coord := coordinator.New(nil)
	app := publishTestApp(t, db, coord)

	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	view := readInstance(t, coord, db, app, "alice")
	if view.Title != "Source" {
		t.Errorf("expected seeded title, got %q", view.Title)
	}
	if _, ok := view.Blocks["sql-1"]; !ok {
		t.Error("expected seeded block under canonical id")
	}
}

func TestGrantAppInstanceNoOpWhenGranted(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	coord := coordinator.New(nil)
	app := publishTestApp(t, db, coord)

	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// alice edits her instance
	update := encodeEdit(t, func(d *document.Doc, tx *crdt.Txn) error {
		d.SetTitle(tx, "Alice's view")
		return nil
	})
	if _, err := EditAppInstance(ctx, db, coord, app, "alice", [][]byte{update}, 0); err != nil {
		t.Fatalf("edit instance: %v", err)
	}

	// re-granting must not clobber her edits
	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if view := readInstance(t, coord, db, app, "alice"); view.Title != "Alice's view" {
		t.Errorf("regrant reset the instance, title=%q", view.Title)
	}
}

func TestEditAppInstanceVersionConflict(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	coord := coordinator.New(nil)
	app := publishTestApp(t, db, coord)

	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	update := encodeEdit(t, func(d *document.Doc, tx *crdt.Txn) error {
		d.SetTitle(tx, "stale")
		return nil
	})
	if _, err := EditAppInstance(ctx, db, coord, app, "alice", [][]byte{update}, 999); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRevokeAppInstance(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	coord := coordinator.New(nil)
	app := publishTestApp(t, db, coord)

	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := RevokeAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	var count int64
	db.Model(&models.UserAppInstance{}).
		Where("app_id = ? AND user_id = ?", app.ID, "alice").Count(&count)
	if count != 0 {
		t.Errorf("expected instance row deleted, got %d", count)
	}

	// a future grant starts from the canonical document again
	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("regrant after revoke: %v", err)
	}
	if view := readInstance(t, coord, db, app, "alice"); view.Title != "Source" {
		t.Errorf("expected fresh seed after revoke, title=%q", view.Title)
	}
}

func TestRevokeAppInstanceWaitsForWindow(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	coord := coordinator.New(nil, coordinator.WithLockTimeout(50*time.Millisecond))
	app := publishTestApp(t, db, coord)

	if err := GrantAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	key := coordinator.AppKey(app.DocumentID, app.ID, "alice")
	p := persist.NewAppPersistor(db, app.ID, "alice")

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- coord.WithDocForUpdate(ctx, key, p, func(doc *document.Doc) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// the instance identity is held; revocation must wait, not interleave
	if err := RevokeAppInstance(ctx, db, coord, app, "alice"); !errors.Is(err, coordinator.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout during active window, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("window failed: %v", err)
	}

	// once the window has committed, revocation wins and the row stays gone
	if err := RevokeAppInstance(ctx, db, coord, app, "alice"); err != nil {
		t.Fatalf("revoke after window: %v", err)
	}
	var count int64
	db.Model(&models.UserAppInstance{}).
		Where("app_id = ? AND user_id = ?", app.ID, "alice").Count(&count)
	if count != 0 {
		t.Errorf("expected instance row deleted, got %d", count)
	}
}

func TestPropagateAppState(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	coord := coordinator.New(nil)
	app := publishTestApp(t, db, coord)

	for _, user := range []string{"alice", "bob"} {
		if err := GrantAppInstance(ctx, db, coord, app, user); err != nil {
			t.Fatalf("grant %s: %v", user, err)
		}
	}

	// bob diverges locally
	update := encodeEdit(t, func(d *document.Doc, tx *crdt.Txn) error {
		d.SetTitle(tx, "Bob's scratch")
		return nil
	})
	if _, err := EditAppInstance(ctx, db, coord, app, "bob", [][]byte{update}, 0); err != nil {
		t.Fatalf("edit bob: %v", err)
	}

	// canonical moves on
	canonicalUpdate := encodeEdit(t, func(d *document.Doc, tx *crdt.Txn) error {
		d.SetTitle(tx, "Published v2")
		return nil
	})
	if _, err := EditDocument(ctx, db, coord, app.DocumentID, [][]byte{canonicalUpdate}, 0); err != nil {
		t.Fatalf("edit canonical: %v", err)
	}

	if err := PropagateAppState(ctx, db, coord, app); err != nil {
		var pe *apps.PropagationError
		if errors.As(err, &pe) {
			t.Fatalf("propagation failed for users %v", pe.FailedUserIDs())
		}
		t.Fatalf("propagate: %v", err)
	}

	for _, user := range []string{"alice", "bob"} {
		if view := readInstance(t, coord, db, app, user); view.Title != "Published v2" {
			t.Errorf("user %s: expected propagated title, got %q", user, view.Title)
		}
	}
}
