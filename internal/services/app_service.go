// app_service.go
//
// App publication and per-user app instance management.
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
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/notebase/docsync/internal/apps"
	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/models"
	"github.com/notebase/docsync/internal/persist"
)

// ErrAppNotFound is returned when a referenced app row is absent.
var ErrAppNotFound = errors.New("app not found")

// GetApp returns the app published from documentID, or ErrAppNotFound.
func GetApp(db *gorm.DB, documentID string) (models.AppDocument, error) {
	var app models.AppDocument
	err := db.Where("document_id = ?", documentID).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AppDocument{}, ErrAppNotFound
	}
	return app, err
}

// PublishApp creates (or returns the existing) app for a document. An app
// is a published face of a canonical document; its per-user instances are
// seeded lazily on first grant.
func PublishApp(db *gorm.DB, documentID string) (models.AppDocument, error) {
	app, err := GetApp(db, documentID)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, ErrAppNotFound) {
		return models.AppDocument{}, err
	}
	app = models.AppDocument{
		ID:         uuid.NewString(),
		DocumentID: documentID,
	}
	if err := db.Create(&app).Error; err != nil {
		return models.AppDocument{}, fmt.Errorf("publish app: %w", err)
	}
	return app, nil
}

// GrantAppInstance seeds a user's private instance of an app from a
// history-less snapshot of the canonical document. Re-granting an existing
// instance is a no-op.
func GrantAppInstance(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, app models.AppDocument, userID string) error {
	var count int64
	err := db.Model(&models.UserAppInstance{}).
		Where("app_id = ? AND user_id = ?", app.ID, userID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	docKey := coordinator.DocKey(app.DocumentID)
	docPersistor := persist.NewDocumentPersistor(db, app.DocumentID)

	return coord.WithDocForUpdate(ctx, docKey, docPersistor, func(canonical *document.Doc) error {
		snap, err := document.CopyWithoutHistory(canonical)
		if err != nil {
			return err
		}
		state, err := snap.EncodeState()
		if err != nil {
			return err
		}

		appKey := coordinator.AppKey(app.DocumentID, app.ID, userID)
		appPersistor := persist.NewAppPersistor(db, app.ID, userID)
		return coord.WithDocForUpdate(ctx, appKey, appPersistor, func(instance *document.Doc) error {
			_, err := instance.Transact(nil, func(tx *crdt.Txn) error {
				return instance.ReplaceState(tx, state)
			})
			return err
		})
	})
}

// EditAppInstance applies incremental update payloads to one user's app
// instance. Versioning behaves as in EditDocument.
func EditAppInstance(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, app models.AppDocument, userID string, updates [][]byte, expectedVersion uint64) (uint64, error) {
	key := coordinator.AppKey(app.DocumentID, app.ID, userID)
	p := persist.NewAppPersistor(db, app.ID, userID)
	return coordinator.WithDocForUpdate(ctx, coord, key, p, func(doc *document.Doc) (uint64, error) {
		current, err := stateVersion(db, &models.UserAppInstance{}, "app_id = ? AND user_id = ?", app.ID, userID)
		if err != nil {
			return 0, err
		}
		if expectedVersion != 0 && expectedVersion != current {
			return 0, ErrVersionConflict
		}
		for _, update := range updates {
			_, err := doc.Transact(nil, func(tx *crdt.Txn) error {
				return doc.ApplyUpdate(tx, update)
			})
			if err != nil {
				return 0, err
			}
		}
		return current + 1, nil
	})
}

// RevokeAppInstance deletes a user's instance row and evicts its cached
// container so a future grant starts clean. The delete runs while the
// instance identity is held, so an in-flight propagation cannot write the
// row back after revocation.
func RevokeAppInstance(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, app models.AppDocument, userID string) error {
	key := coordinator.AppKey(app.DocumentID, app.ID, userID)
	return coord.Evict(ctx, key, func() error {
		return db.Where("app_id = ? AND user_id = ?", app.ID, userID).
			Delete(&models.UserAppInstance{}).Error
	})
}

// PropagateAppState pushes the canonical document's current state to every
// user instance of its app. A *apps.PropagationError reports per-user
// failures; users that succeeded keep the new state.
func PropagateAppState(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, app models.AppDocument) error {
	docKey := coordinator.DocKey(app.DocumentID)
	docPersistor := persist.NewDocumentPersistor(db, app.DocumentID)

	return coord.WithDocForUpdate(ctx, docKey, docPersistor, func(canonical *document.Doc) error {
		return apps.Propagate(ctx, db, coord, canonical, app.DocumentID, app.ID)
	})
}
