// persist.go
//
// Pluggable load/save strategies binding document variants to storage rows.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package persist

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/notebase/docsync/internal/models"
)

// ErrNotFound is returned by Load when no state has been persisted yet for
// the bound identity.
var ErrNotFound = errors.New("persisted state not found")

// Persistor binds one document variant identity to durable storage. All
// reads and writes of a variant's state bytes go through its Persistor,
// always under the update coordinator's per-identity lock.
type Persistor interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, state []byte) error
}

// DocumentPersistor stores canonical document state in document_states.
type DocumentPersistor struct {
	db         *gorm.DB
	documentID string
}

// NewDocumentPersistor binds a persistor to a canonical document row.
func NewDocumentPersistor(db *gorm.DB, documentID string) *DocumentPersistor {
	return &DocumentPersistor{db: db, documentID: documentID}
}

// Load reads the persisted state bytes, or ErrNotFound.
func (p *DocumentPersistor) Load(ctx context.Context) ([]byte, error) {
	var row models.DocumentState
	err := p.db.WithContext(ctx).
		Where("document_id = ?", p.documentID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document state: %w", err)
	}
	return row.State, nil
}

// Save upserts the state bytes, bumping the row version under a row lock so
// a write can never silently clobber a concurrent one.
func (p *DocumentPersistor) Save(ctx context.Context, state []byte) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.DocumentState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", p.documentID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.DocumentState{
				DocumentID:   p.documentID,
				State:        state,
				StateVersion: 1,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]any{
			"state":         state,
			"state_version": row.StateVersion + 1,
		}).Error
	})
}

// AppPersistor stores one user's app instance state in user_app_instances,
// keyed by the (appId, userId) pair.
type AppPersistor struct {
	db     *gorm.DB
	appID  string
	userID string
}

// NewAppPersistor binds a persistor to a user's app instance row.
func NewAppPersistor(db *gorm.DB, appID, userID string) *AppPersistor {
	return &AppPersistor{db: db, appID: appID, userID: userID}
}

// Load reads the instance state bytes, or ErrNotFound.
func (p *AppPersistor) Load(ctx context.Context) ([]byte, error) {
	var row models.UserAppInstance
	err := p.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ?", p.appID, p.userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load app instance state: %w", err)
	}
	return row.State, nil
}

// Save upserts the instance state bytes under a row lock.
func (p *AppPersistor) Save(ctx context.Context, state []byte) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.UserAppInstance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("app_id = ? AND user_id = ?", p.appID, p.userID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.UserAppInstance{
				AppID:        p.appID,
				UserID:       p.userID,
				State:        state,
				StateVersion: 1,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]any{
			"state":         state,
			"state_version": row.StateVersion + 1,
		}).Error
	})
}
