// Package queue implements the dispatch queue between webhook ingestion and
// the execution worker. It is a database table rather than a broker: alerts
// and queue entries share the same store, visibility windows give
// at-least-once delivery, and pulls skip users with in-flight claims so one
// user's alerts process in order, one at a time.
package queue

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"algotrader/src/database"
	"algotrader/src/model"
)

// DefaultVisibility is how long a claim holds before the item becomes
// pullable again.
const DefaultVisibility = 2 * time.Minute

// DispatchQueue hands alerts from the webhook server to the worker.
type DispatchQueue struct {
	db         *gorm.DB
	visibility time.Duration
}

// NewDispatchQueue creates a queue over the main read/write database.
func NewDispatchQueue() *DispatchQueue {
	return &DispatchQueue{db: database.MainDB, visibility: DefaultVisibility}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (q *DispatchQueue) WithDB(db *gorm.DB) *DispatchQueue {
	return &DispatchQueue{db: db, visibility: q.visibility}
}

// WithVisibility overrides the claim window.
func (q *DispatchQueue) WithVisibility(d time.Duration) *DispatchQueue {
	return &DispatchQueue{db: q.db, visibility: d}
}

// Enqueue makes the alert visible to consumers. Call it only after the
// alert row is committed; an entry pointing at an uncommitted alert would
// be pulled and dropped.
func (q *DispatchQueue) Enqueue(
	ctx context.Context,
	alertID uint,
	userID uint,
) error {
	item := model.QueueItem{
		AlertID:     alertID,
		UserID:      userID,
		AvailableAt: time.Now(),
	}

	if err := q.db.WithContext(ctx).Create(&item).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"queue":    "dispatch",
			"op":       "Enqueue",
			"alert_id": alertID,
			"user_id":  userID,
		}).WithError(err).Error("Failed to enqueue alert")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"queue":    "dispatch",
		"op":       "Enqueue",
		"item_id":  item.ID,
		"alert_id": alertID,
		"user_id":  userID,
	}).Info("Alert enqueued")

	return nil
}

// Pull claims the oldest visible item whose user has no other claim in
// flight. The claim itself is an optimistic guarded UPDATE: if another
// consumer takes the candidate first, RowsAffected comes back zero and the
// pull retries with the next candidate. Returns (nil, nil) when nothing is
// pullable.
func (q *DispatchQueue) Pull(ctx context.Context) (*model.QueueItem, error) {
	now := time.Now()

	// A handful of retries absorbs claim races without spinning.
	for attempt := 0; attempt < 5; attempt++ {
		var item model.QueueItem

		err := q.db.WithContext(ctx).
			Where("available_at <= ?", now).
			Where("locked_until IS NULL OR locked_until < ?", now).
			Where(
				"user_id NOT IN (?)",
				q.db.Model(&model.QueueItem{}).
					Select("user_id").
					Where("locked_until >= ?", now),
			).
			Order("id ASC").
			First(&item).Error

		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil
			}

			logger.WithFields(map[string]interface{}{
				"queue": "dispatch",
				"op":    "Pull",
			}).WithError(err).Error("Failed to select queue candidate")

			return nil, err
		}

		until := now.Add(q.visibility)
		res := q.db.WithContext(ctx).
			Model(&model.QueueItem{}).
			Where("id = ?", item.ID).
			Where("locked_until IS NULL OR locked_until < ?", now).
			Updates(map[string]interface{}{
				"locked_until": until,
				"attempts":     gorm.Expr("attempts + 1"),
				"updated_at":   now,
			})

		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race for this item, try the next candidate.
			continue
		}

		item.LockedUntil = &until
		item.Attempts++

		logger.WithFields(map[string]interface{}{
			"queue":    "dispatch",
			"op":       "Pull",
			"item_id":  item.ID,
			"alert_id": item.AlertID,
			"user_id":  item.UserID,
			"attempts": item.Attempts,
		}).Debug("Queue item claimed")

		return &item, nil
	}

	return nil, nil
}

// Ack removes a processed item. Safe to call twice; the second delete is a
// no-op.
func (q *DispatchQueue) Ack(ctx context.Context, itemID uint) error {
	err := q.db.WithContext(ctx).
		Delete(&model.QueueItem{}, itemID).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"queue":   "dispatch",
			"op":      "Ack",
			"item_id": itemID,
		}).WithError(err).Error("Failed to ack queue item")

		return err
	}

	return nil
}

// Release returns an item to the queue immediately, for retryable failures
// that should not wait out the visibility window. The delay pushes the next
// delivery into the future for backoff.
func (q *DispatchQueue) Release(
	ctx context.Context,
	itemID uint,
	delay time.Duration,
) error {
	now := time.Now()

	err := q.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"locked_until": nil,
			"available_at": now.Add(delay),
			"updated_at":   now,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"queue":   "dispatch",
			"op":      "Release",
			"item_id": itemID,
		}).WithError(err).Error("Failed to release queue item")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"queue":   "dispatch",
		"op":      "Release",
		"item_id": itemID,
		"delay":   delay.String(),
	}).Info("Queue item released for retry")

	return nil
}

// Depth returns how many items are currently visible, for the health
// endpoint.
func (q *DispatchQueue) Depth(ctx context.Context) (int64, error) {
	now := time.Now()

	var n int64
	err := q.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("available_at <= ?", now).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Count(&n).Error

	return n, err
}
