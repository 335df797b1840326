package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"algotrader/src/database"
	"algotrader/src/model"
)

// AlertRepository handles read/write operations for alerts and their scan
// stock lists.
type AlertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new repository instance using the main
// read/write database.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *AlertRepository) WithDB(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateIdempotent inserts the alert unless one with the same external id
// already exists. Duplicate detection rides on the unique index, not on
// application-level locking, so concurrent duplicate requests serialize in
// the database: exactly one insert wins and every other caller gets the
// winner's row back with created=false.
func (r *AlertRepository) CreateIdempotent(
	ctx context.Context,
	alert *model.Alert,
) (*model.Alert, bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "AlertRepository",
		"op":          "CreateIdempotent",
		"external_id": alert.ExternalID,
		"kind":        alert.Kind,
	}).Debug("Creating alert")

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(alert)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "AlertRepository",
			"op":          "CreateIdempotent",
			"external_id": alert.ExternalID,
		}).WithError(res.Error).Error("Failed to create alert")

		return nil, false, res.Error
	}

	if res.RowsAffected == 0 {
		existing, err := r.FindByExternalID(ctx, alert.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			// The winning insert has not committed yet from our snapshot's
			// point of view; report it as a conflict with no row.
			return nil, false, gorm.ErrDuplicatedKey
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "AlertRepository",
			"op":          "CreateIdempotent",
			"external_id": alert.ExternalID,
			"alert_id":    existing.ID,
		}).Info("Duplicate alert, returning existing row")

		return existing, false, nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "AlertRepository",
		"op":          "CreateIdempotent",
		"external_id": alert.ExternalID,
		"alert_id":    alert.ID,
	}).Info("Alert created")

	return alert, true, nil
}

// FindByID fetches a single alert by its primary ID, with its stocks.
// Returns (nil, nil) if the alert is not found.
func (r *AlertRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Alert, error) {

	var alert model.Alert

	err := r.db.WithContext(ctx).
		Preload("Stocks").
		First(&alert, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "AlertRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Alert not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch alert by ID")

		return nil, err
	}

	return &alert, nil
}

// FindByExternalID fetches an alert by its idempotency key.
// Returns (nil, nil) if the alert is not found.
func (r *AlertRepository) FindByExternalID(
	ctx context.Context,
	externalID string,
) (*model.Alert, error) {

	var alert model.Alert

	err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&alert).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "AlertRepository",
			"op":          "FindByExternalID",
			"external_id": externalID,
		}).WithError(err).Error("Failed to fetch alert by external ID")

		return nil, err
	}

	return &alert, nil
}

// FindLatest returns the latest alerts ordered from newest to oldest.
func (r *AlertRepository) FindLatest(
	ctx context.Context,
	limit int,
) ([]model.Alert, error) {

	if limit <= 0 {
		limit = 50
	}

	var alerts []model.Alert

	err := r.db.WithContext(ctx).
		Preload("Stocks").
		Order("id DESC").
		Limit(limit).
		Find(&alerts).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "AlertRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest alerts")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "AlertRepository",
		"op":          "FindLatest",
		"limit":       limit,
		"rows_return": len(alerts),
	}).Debug("Latest alerts fetched")

	return alerts, nil
}

// MarkProcessing transitions an alert from received to processing. The
// guarded WHERE clause makes this the redelivery gate: only one consumer
// can win the transition, and a redelivered alert that is already
// processing or settled reports claimed=false so the caller acks without
// reprocessing.
func (r *AlertRepository) MarkProcessing(
	ctx context.Context,
	id uint,
) (bool, error) {

	res := r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ? AND status = ?", id, model.AlertStatusReceived).
		Updates(map[string]interface{}{
			"status":     model.AlertStatusProcessing,
			"updated_at": time.Now(),
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "MarkProcessing",
			"id":   id,
		}).WithError(res.Error).Error("Failed to mark alert processing")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ReleaseClaim returns a claimed alert to received, for retryable failures
// where no order exists yet. The guard restricts the release to processing;
// a settled alert stays settled.
func (r *AlertRepository) ReleaseClaim(
	ctx context.Context,
	id uint,
) (bool, error) {

	res := r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ? AND status = ?", id, model.AlertStatusProcessing).
		Updates(map[string]interface{}{
			"status":     model.AlertStatusReceived,
			"updated_at": time.Now(),
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "ReleaseClaim",
			"id":   id,
		}).WithError(res.Error).Error("Failed to release alert claim")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// MarkProcessed finalizes the alert as successfully run through the
// pipeline (which includes rejected orders: the pipeline itself completed).
// Only a processing alert can settle; an alert already failed or processed
// keeps its terminal state, so a late settlement after the stuck sweep is a
// no-op.
func (r *AlertRepository) MarkProcessed(
	ctx context.Context,
	id uint,
) error {
	now := time.Now()

	res := r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ? AND status = ?", id, model.AlertStatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.AlertStatusProcessed,
			"processed_at": now,
			"updated_at":   now,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "MarkProcessed",
			"id":   id,
		}).WithError(res.Error).Error("Failed to mark alert processed")

		return res.Error
	}

	if res.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo": "AlertRepository",
			"op":   "MarkProcessed",
			"id":   id,
		}).Info("Alert already settled, keeping its terminal state")

		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo": "AlertRepository",
		"op":   "MarkProcessed",
		"id":   id,
	}).Info("Alert processed")

	return nil
}

// MarkFailed finalizes the alert with a descriptive failure reason. Failures
// are recorded, never silently dropped. The same terminal-state guard as
// MarkProcessed applies.
func (r *AlertRepository) MarkFailed(
	ctx context.Context,
	id uint,
	reason string,
) error {
	now := time.Now()

	res := r.db.WithContext(ctx).
		Model(&model.Alert{}).
		Where("id = ? AND status = ?", id, model.AlertStatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.AlertStatusFailed,
			"failure_reason": reason,
			"processed_at":   now,
			"updated_at":     now,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "AlertRepository",
			"op":     "MarkFailed",
			"id":     id,
			"reason": reason,
		}).WithError(res.Error).Error("Failed to mark alert failed")

		return res.Error
	}

	if res.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":   "AlertRepository",
			"op":     "MarkFailed",
			"id":     id,
			"reason": reason,
		}).Info("Alert already settled, keeping its terminal state")

		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "AlertRepository",
		"op":     "MarkFailed",
		"id":     id,
		"reason": reason,
	}).Warn("Alert failed")

	return nil
}

// FindStuck returns signal alerts sitting in the given status since before
// the cutoff. The reconciliation sweep uses it to recover alerts lost
// between persistence and enqueue, or abandoned by a crashed worker.
func (r *AlertRepository) FindStuck(
	ctx context.Context,
	status string,
	cutoff time.Time,
	limit int,
) ([]model.Alert, error) {

	if limit <= 0 {
		limit = 100
	}

	var alerts []model.Alert

	err := r.db.WithContext(ctx).
		Where("kind = ? AND status = ? AND updated_at < ?", model.AlertKindSignal, status, cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&alerts).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "AlertRepository",
			"op":     "FindStuck",
			"status": status,
		}).WithError(err).Error("Failed to fetch stuck alerts")

		return nil, err
	}

	return alerts, nil
}
