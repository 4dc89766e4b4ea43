// document_service.go
//
// Document lifecycle operations: create, duplicate, restore.
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
	"gorm.io/gorm/clause"

	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/models"
	"github.com/notebase/docsync/internal/persist"
)

// ErrDocumentNotFound is returned when a referenced document row is absent.
var ErrDocumentNotFound = errors.New("document not found")

// ErrVersionConflict is returned when a mutation carries a stale state
// version. Clients refresh and retry.
var ErrVersionConflict = errors.New("E_VERSION")

// GetDocument returns a document row, or ErrDocumentNotFound.
func GetDocument(db *gorm.DB, documentID string) (models.Document, error) {
	var doc models.Document
	err := db.Where("id = ?", documentID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Document{}, ErrDocumentNotFound
	}
	return doc, err
}

// CreateDocument inserts the ownership row for a new canonical document.
// Its container materializes empty on first access.
func CreateDocument(db *gorm.DB, workspaceID, title string) (models.Document, error) {
	doc := models.Document{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Title:       title,
	}
	if err := db.Create(&doc).Error; err != nil {
		return models.Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// EditDocument applies incremental update payloads to a canonical
// document's container under its identity lock, then persists and
// broadcasts the change. A non-zero expectedVersion must match the
// persisted state version or the edit fails with ErrVersionConflict.
// Returns the state version after the edit.
func EditDocument(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, documentID string, updates [][]byte, expectedVersion uint64) (uint64, error) {
	key := coordinator.DocKey(documentID)
	p := persist.NewDocumentPersistor(db, documentID)
	return coordinator.WithDocForUpdate(ctx, coord, key, p, func(doc *document.Doc) (uint64, error) {
		current, err := stateVersion(db, &models.DocumentState{}, "document_id = ?", documentID)
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

// stateVersion reads the persisted state version for a container row.
// Missing rows read as version zero.
func stateVersion(db *gorm.DB, model any, query string, args ...any) (uint64, error) {
	var version uint64
	err := db.Model(model).Where(query, args...).
		Limit(1).Pluck("state_version", &version).Error
	return version, err
}

// DocumentStateVersion returns the persisted state version of a canonical
// document. Clients echo it back on their next edit.
func DocumentStateVersion(db *gorm.DB, documentID string) (uint64, error) {
	return stateVersion(db, &models.DocumentState{}, "document_id = ?", documentID)
}

// AppInstanceStateVersion returns the persisted state version of one user's
// app instance.
func AppInstanceStateVersion(db *gorm.DB, appID, userID string) (uint64, error) {
	return stateVersion(db, &models.UserAppInstance{}, "app_id = ? AND user_id = ?", appID, userID)
}

// DocumentOverview is the read view of a container's structure. Version is
// the persisted state version at read time; it is filled in by the caller
// since the container itself does not know its storage row.
type DocumentOverview struct {
	Title      string                            `json:"title"`
	Blocks     map[string]document.Block         `json:"blocks"`
	Layout     []document.BlockGroup             `json:"layout"`
	Dashboard  map[string]document.DashboardItem `json:"dashboard"`
	Dataframes map[string]document.Dataframe     `json:"dataframes"`
	Version    uint64                            `json:"version"`
}

// ReadDocument returns a snapshot of a document variant's container. Reads
// go through the coordinator too, so they observe only committed state.
func ReadDocument(ctx context.Context, coord *coordinator.Coordinator, key string, p persist.Persistor) (DocumentOverview, error) {
	return coordinator.WithDocForUpdate(ctx, coord, key, p, func(doc *document.Doc) (DocumentOverview, error) {
		var view DocumentOverview
		doc.Read(func() {
			view = DocumentOverview{
				Title:      doc.Title(),
				Blocks:     doc.Blocks(),
				Layout:     doc.Layout(),
				Dashboard:  doc.Dashboard(),
				Dataframes: doc.Dataframes(),
			}
		})
		return view, nil
	})
}

// DuplicateDocument copies prevDoc's container into newDoc's container end
// to end: fresh block identifiers, layout and dashboard references
// translated, datasource bindings remapped through datasourceMap when
// given. Reusable-component bindings of the copied blocks are re-bound to
// the new block identifiers with an idempotent insert inside tx, the same
// transactional scope that owns the duplication.
//
// Both containers are held under their identity locks for the whole
// operation; lock order is prev then new.
func DuplicateDocument(ctx context.Context, tx *gorm.DB, coord *coordinator.Coordinator, prevDoc, newDoc models.Document, renameTitle func(string) string, datasourceMap map[string]string) error {
	prevKey := coordinator.DocKey(prevDoc.ID)
	prevPersistor := persist.NewDocumentPersistor(tx, prevDoc.ID)

	return coord.WithDocForUpdate(ctx, prevKey, prevPersistor, func(prev *document.Doc) error {
		newKey := coordinator.DocKey(newDoc.ID)
		newPersistor := persist.NewDocumentPersistor(tx, newDoc.ID)

		return coord.WithDocForUpdate(ctx, newKey, newPersistor, func(next *document.Doc) error {
			_, err := document.Copy(prev, next, renameTitle, document.CopyOptions{
				KeepIDs:       false,
				DatasourceMap: datasourceMap,
			})
			if err != nil {
				return err
			}

			var instances []models.ReusableComponentInstance
			next.Read(func() {
				for id, block := range next.Blocks() {
					if componentID, ok := block.ComponentRef(); ok {
						instances = append(instances, models.ReusableComponentInstance{
							BlockID:     id,
							ComponentID: componentID,
							DocumentID:  newDoc.ID,
						})
					}
				}
			})
			if len(instances) > 0 {
				err := tx.Clauses(clause.OnConflict{DoNothing: true}).
					Create(&instances).Error
				if err != nil {
					return fmt.Errorf("rebind component instances: %w", err)
				}
			}
			return nil
		})
	})
}

// RestoreWithoutHistory re-seeds a document's persisted state with a fresh
// copy of its current content, dropping accumulated tombstones and
// operation history.
func RestoreWithoutHistory(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, documentID string) error {
	key := coordinator.DocKey(documentID)
	p := persist.NewDocumentPersistor(db, documentID)
	return coord.WithDocForUpdate(ctx, key, p, func(doc *document.Doc) error {
		snap, err := document.CopyWithoutHistory(doc)
		if err != nil {
			return err
		}
		state, err := snap.EncodeState()
		if err != nil {
			return err
		}
		_, err = doc.Transact(nil, func(tx *crdt.Txn) error {
			return doc.ReplaceState(tx, state)
		})
		return err
	})
}
