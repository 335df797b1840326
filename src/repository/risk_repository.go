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

// RiskRepository stores per-user risk limits and the daily counters the
// risk gate trades against.
type RiskRepository struct {
	db *gorm.DB
}

// NewRiskRepository creates a new repository instance using the main
// read/write database.
func NewRiskRepository() *RiskRepository {
	return &RiskRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *RiskRepository) WithDB(db *gorm.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// Limits returns the user's configured risk limits, falling back to the
// defaults when the user has no row.
func (r *RiskRepository) Limits(
	ctx context.Context,
	userID uint,
) (*model.RiskLimits, error) {

	var limits model.RiskLimits

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&limits).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			defaults := model.DefaultRiskLimits(userID)
			return &defaults, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "Limits",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch risk limits")

		return nil, err
	}

	return &limits, nil
}

// Counter returns today's counter row for the user, zero-valued when the
// user has not traded yet today.
func (r *RiskRepository) Counter(
	ctx context.Context,
	userID uint,
	day string,
) (*model.RiskCounter, error) {

	var counter model.RiskCounter

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&counter).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.RiskCounter{UserID: userID, Day: day}, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "Counter",
			"user_id": userID,
			"day":     day,
		}).WithError(err).Error("Failed to fetch risk counter")

		return nil, err
	}

	return &counter, nil
}

// ensureCounterRow upserts the zero row so the guarded increments below
// always have something to update.
func (r *RiskRepository) ensureCounterRow(
	ctx context.Context,
	userID uint,
	day string,
) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).
		Create(&model.RiskCounter{UserID: userID, Day: day}).Error
}

// IncrementTradeCountIfBelow bumps today's trade count only while it is
// still below max. The guard rides in the UPDATE's WHERE clause, so two
// workers racing on the last slot cannot both win: the database applies the
// increments serially and the second one sees the count at max. Returns
// false when the limit is already spent.
func (r *RiskRepository) IncrementTradeCountIfBelow(
	ctx context.Context,
	userID uint,
	day string,
	max int,
) (bool, error) {

	if err := r.ensureCounterRow(ctx, userID, day); err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "IncrementTradeCountIfBelow",
			"user_id": userID,
			"day":     day,
		}).WithError(err).Error("Failed to ensure risk counter row")

		return false, err
	}

	res := r.db.WithContext(ctx).
		Model(&model.RiskCounter{}).
		Where("user_id = ? AND day = ? AND trade_count < ?", userID, day, max).
		Updates(map[string]interface{}{
			"trade_count": gorm.Expr("trade_count + 1"),
			"updated_at":  time.Now(),
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "IncrementTradeCountIfBelow",
			"user_id": userID,
			"day":     day,
		}).WithError(res.Error).Error("Failed to increment trade count")

		return false, res.Error
	}

	granted := res.RowsAffected == 1

	logger.WithFields(map[string]interface{}{
		"repo":    "RiskRepository",
		"op":      "IncrementTradeCountIfBelow",
		"user_id": userID,
		"day":     day,
		"max":     max,
		"granted": granted,
	}).Debug("Trade count slot requested")

	return granted, nil
}

// DecrementTradeCount releases a slot granted by IncrementTradeCountIfBelow
// when the order never reached the broker, so a burst of broker outages
// does not eat the daily budget.
func (r *RiskRepository) DecrementTradeCount(
	ctx context.Context,
	userID uint,
	day string,
) error {
	err := r.db.WithContext(ctx).
		Model(&model.RiskCounter{}).
		Where("user_id = ? AND day = ? AND trade_count > 0", userID, day).
		Updates(map[string]interface{}{
			"trade_count": gorm.Expr("trade_count - 1"),
			"updated_at":  time.Now(),
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "DecrementTradeCount",
			"user_id": userID,
			"day":     day,
		}).WithError(err).Error("Failed to decrement trade count")
	}

	return err
}

// AddRealizedLoss folds a realized loss (a positive amount) into today's
// counter. Profitable fills pass zero and leave the counter untouched.
func (r *RiskRepository) AddRealizedLoss(
	ctx context.Context,
	userID uint,
	day string,
	amount float64,
) error {
	if amount <= 0 {
		return nil
	}

	if err := r.ensureCounterRow(ctx, userID, day); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).
		Model(&model.RiskCounter{}).
		Where("user_id = ? AND day = ?", userID, day).
		Updates(map[string]interface{}{
			"realized_loss": gorm.Expr("realized_loss + ?", amount),
			"updated_at":    time.Now(),
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "RiskRepository",
			"op":      "AddRealizedLoss",
			"user_id": userID,
			"day":     day,
			"amount":  amount,
		}).WithError(err).Error("Failed to add realized loss")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "RiskRepository",
		"op":      "AddRealizedLoss",
		"user_id": userID,
		"day":     day,
		"amount":  amount,
	}).Info("Realized loss recorded")

	return nil
}
