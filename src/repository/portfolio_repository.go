package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"algotrader/src/database"
	"algotrader/src/model"
)

// PortfolioRepository tracks per-user positions built up from order fills.
type PortfolioRepository struct {
	db *gorm.DB
}

// NewPortfolioRepository creates a new repository instance using the main
// read/write database.
func NewPortfolioRepository() *PortfolioRepository {
	return &PortfolioRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PortfolioRepository) WithDB(db *gorm.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// PositionFor returns the user's position in a symbol, zero-valued when the
// user holds nothing. The zero value is usable directly by the risk gate's
// exposure check.
func (r *PortfolioRepository) PositionFor(
	ctx context.Context,
	userID uint,
	symbol string,
) (*model.Position, error) {

	var pos model.Position

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ?", userID, symbol).
		First(&pos).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Position{UserID: userID, Symbol: symbol}, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "PortfolioRepository",
			"op":      "PositionFor",
			"user_id": userID,
			"symbol":  symbol,
		}).WithError(err).Error("Failed to fetch position")

		return nil, err
	}

	return &pos, nil
}

// ApplyFill folds an executed fill into the position and returns the loss
// it realized, positive when the fill closed quantity below its average
// entry price and zero otherwise. Buys increase quantity and re-average the
// entry price; sells reduce quantity and realize PnL against the average
// entry. The fold runs in a transaction and lands through an upsert on the
// (user, symbol) unique index.
func (r *PortfolioRepository) ApplyFill(
	ctx context.Context,
	userID uint,
	symbol string,
	side string,
	quantity int64,
	price float64,
) (realizedLoss float64, err error) {

	if quantity <= 0 {
		return 0, nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pos model.Position

		err := tx.Where("user_id = ? AND symbol = ?", userID, symbol).
			First(&pos).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			pos = model.Position{UserID: userID, Symbol: symbol}
		} else if err != nil {
			return err
		}

		qty := decimal.NewFromInt(pos.Quantity)
		avg := decimal.NewFromFloat(pos.AvgEntryPrice)
		fillQty := decimal.NewFromInt(quantity)
		fillPrice := decimal.NewFromFloat(price)

		switch side {
		case model.OrderSideBuy:
			newQty := qty.Add(fillQty)
			// Weighted average over the combined quantity.
			cost := qty.Mul(avg).Add(fillQty.Mul(fillPrice))
			pos.Quantity = newQty.IntPart()
			pos.AvgEntryPrice, _ = cost.Div(newQty).Float64()

		case model.OrderSideSell:
			closed := fillQty
			if closed.GreaterThan(qty) {
				closed = qty
			}
			pnl := fillPrice.Sub(avg).Mul(closed)
			pos.RealizedPnl, _ = decimal.NewFromFloat(pos.RealizedPnl).Add(pnl).Float64()
			if pnl.IsNegative() {
				realizedLoss, _ = pnl.Neg().Float64()
			}
			pos.Quantity = qty.Sub(fillQty).IntPart()
			if pos.Quantity <= 0 {
				pos.Quantity = 0
				pos.AvgEntryPrice = 0
			}

		default:
			return nil
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"quantity", "avg_entry_price", "realized_pnl", "updated_at",
			}),
		}).Create(&pos).Error
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PortfolioRepository",
			"op":      "ApplyFill",
			"user_id": userID,
			"symbol":  symbol,
			"side":    side,
		}).WithError(err).Error("Failed to apply fill")

		return 0, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":          "PortfolioRepository",
		"op":            "ApplyFill",
		"user_id":       userID,
		"symbol":        symbol,
		"side":          side,
		"quantity":      quantity,
		"price":         price,
		"realized_loss": realizedLoss,
	}).Info("Fill applied to position")

	return realizedLoss, nil
}
