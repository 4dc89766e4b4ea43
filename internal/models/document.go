// document.go
//
// Relational bookkeeping rows for canonical documents.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package models

import (
	"time"

	"gorm.io/gorm"
)

// Document is the ownership row for one canonical document.
type Document struct {
	ID          string `gorm:"type:char(36);primaryKey"`
	WorkspaceID string `gorm:"type:char(36);not null;index"`
	Title       string `gorm:"size:255;not null"`
	Metadata    JSON   `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// DocumentState holds the persisted replicated state bytes of a canonical
// document. It is only ever read or written through the update coordinator's
// persistor; direct access risks lost updates.
type DocumentState struct {
	DocumentID   string `gorm:"type:char(36);primaryKey"`
	State        []byte
	StateVersion uint64 `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// ReusableComponentInstance binds a block to a reusable component defined
// outside the document. Rows follow duplicated blocks to their new
// identifiers via the copy identifier map.
type ReusableComponentInstance struct {
	InstanceID  uint64 `gorm:"primaryKey;autoIncrement"`
	BlockID     string `gorm:"type:char(36);not null;index:idx_component_instance,unique"`
	ComponentID string `gorm:"type:char(36);not null;index:idx_component_instance,unique"`
	DocumentID  string `gorm:"type:char(36);not null;index:idx_component_instance,unique"`
	CreatedAt   time.Time
}

// DocumentLock is the lease row backing cross-process mutual exclusion per
// document variant identity. A lease is held by at most one owner at a time
// and expires so a crashed holder cannot wedge the document.
type DocumentLock struct {
	LockKey   string `gorm:"size:255;primaryKey"`
	Owner     string `gorm:"type:char(36);not null"`
	ExpiresAt time.Time
}

// TableName overrides the table name for Document
func (Document) TableName() string {
	return "documents"
}

// TableName overrides the table name for DocumentLock
func (DocumentLock) TableName() string {
	return "document_locks"
}

// TableName overrides the table name for DocumentState
func (DocumentState) TableName() string {
	return "document_states"
}

// TableName overrides the table name for ReusableComponentInstance
func (ReusableComponentInstance) TableName() string {
	return "reusable_component_instances"
}
