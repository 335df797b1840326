package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"algotrader/src/database"
	"algotrader/src/model"
)

// StrategyRepository resolves which strategy handles an alert and tracks
// per-strategy execution stats.
type StrategyRepository struct {
	db *gorm.DB
}

// NewStrategyRepository creates a new repository instance using the main
// read/write database.
func NewStrategyRepository() *StrategyRepository {
	return &StrategyRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *StrategyRepository) WithDB(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// ActiveForSymbol returns the strategy that should handle an alert for the
// given user and symbol. A strategy bound to the exact symbol wins over a
// catch-all strategy with an empty symbol. Returns (nil, nil) when the user
// has no active strategy covering the symbol.
func (r *StrategyRepository) ActiveForSymbol(
	ctx context.Context,
	userID uint,
	symbol string,
) (*model.Strategy, error) {

	var strategy model.Strategy

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Where("symbol = ? OR symbol = ''", symbol).
		Order("CASE WHEN symbol = '' THEN 1 ELSE 0 END, id ASC").
		First(&strategy).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":    "StrategyRepository",
				"op":      "ActiveForSymbol",
				"user_id": userID,
				"symbol":  symbol,
			}).Info("No active strategy for symbol")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "StrategyRepository",
			"op":      "ActiveForSymbol",
			"user_id": userID,
			"symbol":  symbol,
		}).WithError(err).Error("Failed to resolve strategy")

		return nil, err
	}

	return &strategy, nil
}

// FindByID fetches a single strategy. Returns (nil, nil) if not found.
func (r *StrategyRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Strategy, error) {

	var strategy model.Strategy

	err := r.db.WithContext(ctx).First(&strategy, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch strategy")

		return nil, err
	}

	return &strategy, nil
}

// RecordExecution bumps the strategy's trade counter and execution
// timestamp after an order is handed to the broker.
func (r *StrategyRepository) RecordExecution(
	ctx context.Context,
	id uint,
) error {
	now := time.Now()

	err := r.db.WithContext(ctx).
		Model(&model.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_trades":     gorm.Expr("total_trades + 1"),
			"last_executed_at": now,
			"updated_at":       now,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "StrategyRepository",
			"op":   "RecordExecution",
			"id":   id,
		}).WithError(err).Error("Failed to record strategy execution")

		return err
	}

	return nil
}
