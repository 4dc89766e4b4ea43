// data.go
//
// Test data builders for the document sync service.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package helpers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/models"
	"github.com/notebase/docsync/internal/persist"
)

// CreateTestDocument creates a canonical document row
func CreateTestDocument(t *testing.T, db *gorm.DB, workspaceID, title string) models.Document {
	t.Helper()
	doc := models.Document{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Title:       title,
	}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	return doc
}

// SeedDocumentContent fills a document's container with a title, a SQL and
// a rich text block, a layout group holding both, a dashboard item for the
// SQL block, and a dataframe. Returns the block IDs in layout order.
func SeedDocumentContent(t *testing.T, db *gorm.DB, coord *coordinator.Coordinator, documentID, title string) []string {
	t.Helper()

	sqlBlockID := uuid.NewString()
	textBlockID := uuid.NewString()

	key := coordinator.DocKey(documentID)
	p := persist.NewDocumentPersistor(db, documentID)
	err := coord.WithDocForUpdate(context.Background(), key, p, func(doc *document.Doc) error {
		_, err := doc.Transact(nil, func(tx *crdt.Txn) error {
			doc.SetTitle(tx, title)
			if err := doc.SetBlock(tx, document.Block{
				ID:   sqlBlockID,
				Type: document.BlockTypeSQL,
				Attributes: map[string]any{
					"datasourceId": "ds-1",
					"source":       "select 1",
				},
			}); err != nil {
				return err
			}
			if err := doc.SetBlock(tx, document.Block{
				ID:   textBlockID,
				Type: document.BlockTypeRichText,
				Attributes: map[string]any{
					"content": "hello",
				},
			}); err != nil {
				return err
			}
			if err := doc.AppendGroup(tx, document.BlockGroup{
				ID: uuid.NewString(),
				Tabs: []document.Tab{
					{BlockID: sqlBlockID},
					{BlockID: textBlockID},
				},
				Current: sqlBlockID,
			}); err != nil {
				return err
			}
			if err := doc.SetDashboardItem(tx, document.DashboardItem{
				ID:      uuid.NewString(),
				BlockID: sqlBlockID,
				X:       0, Y: 0, Width: 4, Height: 2,
			}); err != nil {
				return err
			}
			return doc.SetDataframe(tx, "df_main", document.Dataframe{
				Name: "df_main",
				Columns: []document.DataframeColumn{
					{Name: "id", Type: "int64"},
				},
			})
		})
		return err
	})
	if err != nil {
		t.Fatalf("Failed to seed document content: %v", err)
	}

	return []string{sqlBlockID, textBlockID}
}
