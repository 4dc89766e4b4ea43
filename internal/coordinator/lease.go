package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/notebase/docsync/internal/models"
)

// LeaseLocker implements Locker with an expiring lease row per identity in
// the shared database, so at most one process holds a document at a time.
// A crashed holder's lease expires and can be claimed by the next acquirer.
type LeaseLocker struct {
	db    *gorm.DB
	owner string
	ttl   time.Duration
	poll  time.Duration
}

// NewLeaseLocker creates a lease locker with its own owner identity.
func NewLeaseLocker(db *gorm.DB, ttl time.Duration) *LeaseLocker {
	return &LeaseLocker{
		db:    db,
		owner: uuid.NewString(),
		ttl:   ttl,
		poll:  100 * time.Millisecond,
	}
}

// Acquire claims the lease for key, polling until the context expires.
// A context deadline hit while waiting surfaces as ErrLockTimeout so
// callers can distinguish contention from permanent failure.
func (l *LeaseLocker) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		ok, err := l.tryClaim(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { l.release(key) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(l.poll):
		}
	}
}

func (l *LeaseLocker) tryClaim(ctx context.Context, key string) (bool, error) {
	now := time.Now().UTC()
	row := models.DocumentLock{LockKey: key, Owner: l.owner, ExpiresAt: now.Add(l.ttl)}

	// fresh key: insert wins the lease
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("claim lease: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// existing key: take over only an expired or self-owned lease
	res = l.db.WithContext(ctx).Model(&models.DocumentLock{}).
		Where("lock_key = ? AND (owner = ? OR expires_at < ?)", key, l.owner, now).
		Updates(map[string]any{"owner": l.owner, "expires_at": now.Add(l.ttl)})
	if res.Error != nil {
		return false, fmt.Errorf("renew lease: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (l *LeaseLocker) release(key string) {
	err := l.db.Where("lock_key = ? AND owner = ?", key, l.owner).
		Delete(&models.DocumentLock{}).Error
	if err != nil {
		// the lease will expire on its own; log and move on
		log.Warn().Err(err).Str("doc", key).Msg("failed to release document lease")
	}
}
