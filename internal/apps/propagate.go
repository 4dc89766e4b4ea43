// propagate.go
//
// Fan-out of canonical document state to per-user app instances.
//
// This file is part of docsync.
// docsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// docsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package apps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/hints"

	"github.com/notebase/docsync/internal/coordinator"
	"github.com/notebase/docsync/internal/crdt"
	"github.com/notebase/docsync/internal/document"
	"github.com/notebase/docsync/internal/models"
	"github.com/notebase/docsync/internal/persist"
)

// PropagationError aggregates per-user propagation failures. A failure for
// one user never blocks propagation to the others; callers get the full set
// of failed user ids so they can retry or alert.
type PropagationError struct {
	AppID  string
	Failed map[string]error
}

// Error implements the error interface.
func (e *PropagationError) Error() string {
	users := e.FailedUserIDs()
	return fmt.Sprintf("app %s: propagation failed for %d user(s): %s",
		e.AppID, len(users), strings.Join(users, ", "))
}

// FailedUserIDs returns the ids of users whose instances were not updated,
// in sorted order.
func (e *PropagationError) FailedUserIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Propagate encodes the canonical container's full state once and replaces
// every user instance of the app with it, each under that instance's own
// identity and lock. The per-user replacements run concurrently. Returns a
// *PropagationError if any user's replacement failed.
func Propagate(ctx context.Context, db *gorm.DB, coord *coordinator.Coordinator, canonical *document.Doc, documentID, appID string) error {
	state, err := canonical.EncodeState()
	if err != nil {
		return fmt.Errorf("encode canonical state: %w", err)
	}

	userIDs, err := InstanceUserIDs(ctx, db, appID)
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			key := coordinator.AppKey(documentID, appID, userID)
			p := persist.NewAppPersistor(db, appID, userID)
			err := coord.WithDocForUpdate(ctx, key, p, func(doc *document.Doc) error {
				_, err := doc.Transact(nil, func(tx *crdt.Txn) error {
					return doc.ReplaceState(tx, state)
				})
				return err
			})
			if err != nil {
				log.Error().Err(err).Str("app", appID).Str("user", userID).
					Msg("app state propagation failed for user")
				mu.Lock()
				failed[userID] = err
				mu.Unlock()
			}
		}(userID)
	}
	wg.Wait()

	if len(failed) > 0 {
		return &PropagationError{AppID: appID, Failed: failed}
	}
	return nil
}

// InstanceUserIDs lists the users currently holding an instance of the app.
func InstanceUserIDs(ctx context.Context, db *gorm.DB, appID string) ([]string, error) {
	var userIDs []string
	err := db.WithContext(ctx).
		Model(&models.UserAppInstance{}).
		Clauses(hints.CommentBefore("select", "app state propagation")).
		Where("app_id = ?", appID).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list app instances: %w", err)
	}
	return userIDs, nil
}
