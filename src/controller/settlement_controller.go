package controller

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"algotrader/src/connectors"
	"algotrader/src/model"
	"algotrader/src/repository"
)

type settlementOrderStore interface {
	FindByID(ctx context.Context, id uint) (*model.Order, error)
	FindByBrokerOrderID(ctx context.Context, brokerOrderID string) (*model.Order, error)
	ApplyStatusUpdate(ctx context.Context, orderID uint, update repository.StatusUpdate) (bool, *model.Order, error)
}

type settlementAlertStore interface {
	MarkProcessed(ctx context.Context, id uint) error
}

type portfolioStore interface {
	ApplyFill(ctx context.Context, userID uint, symbol, side string, quantity int64, price float64) (float64, error)
}

type lossLedger interface {
	AddRealizedLoss(ctx context.Context, userID uint, day string, amount float64) error
}

// SettlementController is the single consumer for broker order state,
// whether it arrived from a status poll or the order stream. Both paths
// feed the same state machine, so duplicated or out-of-order updates
// collapse into no-ops, and an update that settles the order also settles
// the originating alert and folds the fill into the position book.
type SettlementController struct {
	orders    settlementOrderStore
	alerts    settlementAlertStore
	portfolio portfolioStore
	losses    lossLedger
}

// NewSettlementController wires the controller over the main database
// repositories.
func NewSettlementController() *SettlementController {
	return &SettlementController{
		orders:    repository.NewOrderRepository(),
		alerts:    repository.NewAlertRepository(),
		portfolio: repository.NewPortfolioRepository(),
		losses:    repository.NewRiskRepository(),
	}
}

// ApplyBrokerState applies one observed broker state to the identified
// order. Updates for unknown orders are dropped with a warning; they
// usually belong to orders placed outside this system.
func (c *SettlementController) ApplyBrokerState(
	ctx context.Context,
	state *connectors.OrderState,
) error {

	order, err := c.orders.FindByBrokerOrderID(ctx, state.BrokerOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		logger.WithField("broker_order_id", state.BrokerOrderID).
			Warn("Broker update for unknown order, dropping")
		return nil
	}

	return c.ApplyStateToOrder(ctx, order, state)
}

// ApplyStateToOrder runs the state machine transition for a known order.
func (c *SettlementController) ApplyStateToOrder(
	ctx context.Context,
	order *model.Order,
	state *connectors.OrderState,
) error {

	previousFilled := int64(order.FilledQuantity)

	applied, _, err := c.orders.ApplyStatusUpdate(ctx, order.ID, repository.StatusUpdate{
		Status:         state.Status,
		BrokerOrderID:  state.BrokerOrderID,
		BrokerStatus:   state.BrokerStatus,
		BrokerMessage:  state.Message,
		FilledQuantity: state.FilledQuantity,
		AveragePrice:   state.AveragePrice,
		Reason:         state.Message,
	})
	if err != nil {
		return err
	}
	if !applied {
		// Stale or duplicate callback; monotonicity already holds.
		return nil
	}

	if newFill := state.FilledQuantity - previousFilled; newFill > 0 && state.AveragePrice > 0 {
		realizedLoss, err := c.portfolio.ApplyFill(
			ctx, order.UserID, order.Symbol, order.Side, newFill, state.AveragePrice)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"order_id": order.ID,
				"symbol":   order.Symbol,
			}).WithError(err).Error("Failed to fold fill into position")
		} else if realizedLoss > 0 {
			day := model.RiskDay(time.Now())
			if err := c.losses.AddRealizedLoss(ctx, order.UserID, day, realizedLoss); err != nil {
				logger.WithError(err).Error("Failed to record realized loss")
			}
		}
	}

	if model.OrderStatusSettlesAlert(state.Status) && order.AlertID != 0 {
		logger.WithFields(map[string]interface{}{
			"order_id": order.ID,
			"alert_id": order.AlertID,
			"status":   state.Status,
		}).Info("Order settled, marking alert processed")

		return c.alerts.MarkProcessed(ctx, order.AlertID)
	}

	return nil
}
