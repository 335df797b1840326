package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"algotrader/src/connectors"
	"algotrader/src/model"
	"algotrader/src/repository"
	"algotrader/src/risk"
	"algotrader/src/strategy"
)

// Stores the controller needs, kept small so tests can stub them.

type alertStore interface {
	FindByID(ctx context.Context, id uint) (*model.Alert, error)
	MarkProcessing(ctx context.Context, id uint) (bool, error)
	ReleaseClaim(ctx context.Context, id uint) (bool, error)
	MarkProcessed(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, reason string) error
}

type orderStore interface {
	CreateWithAutoLog(ctx context.Context, order *model.Order, reason string) error
	ApplyStatusUpdate(ctx context.Context, orderID uint, update repository.StatusUpdate) (bool, *model.Order, error)
}

type strategyStore interface {
	ActiveForSymbol(ctx context.Context, userID uint, symbol string) (*model.Strategy, error)
	RecordExecution(ctx context.Context, id uint) error
}

type riskGate interface {
	Check(ctx context.Context, intent *model.OrderIntent) error
	Refund(ctx context.Context, userID uint) error
}

type marketGuard interface {
	Guard(t time.Time) error
}

type brokerClient interface {
	PlaceOrder(ctx context.Context, order connectors.OrderRequest) (string, error)
	GetQuote(ctx context.Context, exchange, symbol string) (float64, error)
	GetFunds(ctx context.Context) (float64, error)
}

// AlertController runs one claimed alert through the full pipeline:
// strategy resolution, risk gating, order construction and broker
// submission. Every mutation lands in the store before the next stage runs,
// so a crash at any point leaves recoverable state rather than lost work.
type AlertController struct {
	alerts     alertStore
	orders     orderStore
	strategies strategyStore
	gate       riskGate
	market     marketGuard
	broker     brokerClient
	exceptions *repository.ExceptionRepository
	now        func() time.Time
}

// NewAlertController wires the controller over the main database
// repositories and the given broker client.
func NewAlertController(
	broker brokerClient,
	gate riskGate,
	market marketGuard,
) *AlertController {
	return &AlertController{
		alerts:     repository.NewAlertRepository(),
		orders:     repository.NewOrderRepository(),
		strategies: repository.NewStrategyRepository(),
		gate:       gate,
		market:     market,
		broker:     broker,
		exceptions: repository.NewExceptionRepository(),
		now:        time.Now,
	}
}

// ProcessAlert executes the pipeline for one queued alert. A nil return
// means the queue item can be acked: either the alert completed a stage
// transition, or it was already settled and the delivery is a duplicate. A
// non-nil return means a retryable infrastructure failure; the caller
// releases the item for redelivery.
func (c *AlertController) ProcessAlert(ctx context.Context, alertID uint) error {
	alert, err := c.alerts.FindByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert == nil {
		logger.WithField("alert_id", alertID).
			Warn("Queued alert no longer exists, dropping")
		return nil
	}

	if alert.Kind != model.AlertKindSignal {
		logger.WithFields(map[string]interface{}{
			"alert_id": alertID,
			"kind":     alert.Kind,
		}).Warn("Non-signal alert reached the dispatch queue, dropping")
		return nil
	}

	if alert.IsSettled() {
		logger.WithFields(map[string]interface{}{
			"alert_id": alertID,
			"status":   alert.Status,
		}).Info("Alert already settled, duplicate delivery ignored")
		return nil
	}

	claimed, err := c.alerts.MarkProcessing(ctx, alertID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.WithField("alert_id", alertID).
			Info("Alert claimed elsewhere, duplicate delivery ignored")
		return nil
	}

	return c.runPipeline(ctx, alert)
}

func (c *AlertController) runPipeline(ctx context.Context, alert *model.Alert) error {
	strat, err := c.strategies.ActiveForSymbol(ctx, alert.UserID, alert.Symbol)
	if err != nil {
		return c.releaseForRetry(ctx, alert.ID, err)
	}

	intent, err := c.resolveIntent(ctx, alert, strat)
	if err != nil {
		// Resolution failures are terminal: the alert fails with the
		// reason recorded, never silently dropped.
		return c.alerts.MarkFailed(ctx, alert.ID, err.Error())
	}
	if intent == nil {
		// Hold action: the pipeline completed with nothing to trade.
		logger.WithField("alert_id", alert.ID).
			Info("Alert resolved to no order, marking processed")
		return c.alerts.MarkProcessed(ctx, alert.ID)
	}

	if c.market != nil && !intent.DryRun {
		if err := c.market.Guard(c.now()); err != nil {
			return c.alerts.MarkFailed(ctx, alert.ID, err.Error())
		}
	}

	if err := c.gate.Check(ctx, intent); err != nil {
		if rej, ok := risk.IsRejection(err); ok {
			return c.alerts.MarkFailed(ctx, alert.ID, rej.Error())
		}
		return c.releaseForRetry(ctx, alert.ID, err)
	}

	order := &model.Order{
		AlertID:       alert.ID,
		UserID:        alert.UserID,
		StrategyID:    intent.StrategyID,
		ClientOrderID: uuid.NewString(),
		Symbol:        intent.Symbol,
		Exchange:      intent.Exchange,
		Side:          intent.Side,
		OrderType:     intent.OrderType,
		Quantity:      intent.Quantity,
		LimitPrice:    intent.LimitPrice,
		Status:        model.OrderStatusPending,
	}

	if err := c.orders.CreateWithAutoLog(ctx, order, "order constructed from alert"); err != nil {
		// The trade slot was consumed but nothing reached the broker.
		if rerr := c.gate.Refund(ctx, alert.UserID); rerr != nil {
			logger.WithError(rerr).Error("Failed to refund trade slot")
		}
		return c.releaseForRetry(ctx, alert.ID, err)
	}

	if intent.DryRun {
		return c.simulateFill(ctx, alert, order, intent)
	}

	return c.submitOrder(ctx, alert, order, intent)
}

// releaseForRetry puts the claim back to received before the queue item is
// released, so the redelivered item can reprocess the alert instead of
// acking it as a duplicate. Only called while no order row exists yet;
// after that point a retry would submit twice.
func (c *AlertController) releaseForRetry(ctx context.Context, alertID uint, cause error) error {
	released, err := c.alerts.ReleaseClaim(ctx, alertID)
	if err != nil {
		logger.WithField("alert_id", alertID).
			WithError(err).Error("Failed to release alert claim")
		return cause
	}
	if released {
		logger.WithFields(map[string]interface{}{
			"alert_id": alertID,
			"cause":    cause.Error(),
		}).Warn("Alert claim released for retry")
	}
	return cause
}

// resolveIntent produces the order intent, filling in the reference price
// and capital snapshot the sizing rule needs.
func (c *AlertController) resolveIntent(
	ctx context.Context,
	alert *model.Alert,
	strat *model.Strategy,
) (*model.OrderIntent, error) {

	if !alert.IsActionable() {
		return nil, nil
	}
	if strat == nil {
		return nil, fmt.Errorf("%w: %s", strategy.ErrNoActiveStrategy, alert.Symbol)
	}

	if alert.Price <= 0 && strat.SizingRule != model.SizingFixedQuantity {
		price, err := c.broker.GetQuote(ctx, alert.Exchange, alert.Symbol)
		if err != nil {
			Capture(ctx, c.exceptions, "AlertController", "controller",
				"broker.GetQuote", "error", err,
				map[string]interface{}{"alert_id": alert.ID})
			return nil, fmt.Errorf("no reference price for %s: %v", alert.Symbol, err)
		}
		alert.Price = price
	}

	capital := 0.0
	if needsCapital(strat.SizingRule) {
		funds, err := c.broker.GetFunds(ctx)
		if err != nil {
			Capture(ctx, c.exceptions, "AlertController", "controller",
				"broker.GetFunds", "error", err,
				map[string]interface{}{"alert_id": alert.ID})
			return nil, fmt.Errorf("capital snapshot unavailable: %v", err)
		}
		capital = funds
	}

	return strategy.Resolve(alert, strat, capital)
}

func needsCapital(rule string) bool {
	return rule != model.SizingFixedQuantity && rule != model.SizingFixedAmount
}

// simulateFill settles a dry-run order locally at the alert's reference
// price, without touching the broker.
func (c *AlertController) simulateFill(
	ctx context.Context,
	alert *model.Alert,
	order *model.Order,
	intent *model.OrderIntent,
) error {

	_, _, err := c.orders.ApplyStatusUpdate(ctx, order.ID, repository.StatusUpdate{
		Status: model.OrderStatusSubmitted,
		Reason: "dry run submission",
	})
	if err != nil {
		return c.alerts.MarkFailed(ctx, alert.ID,
			fmt.Sprintf("dry run settlement failed: %v", err))
	}

	_, _, err = c.orders.ApplyStatusUpdate(ctx, order.ID, repository.StatusUpdate{
		Status:         model.OrderStatusFilled,
		FilledQuantity: int64(intent.Quantity),
		AveragePrice:   intent.Price,
		Reason:         "dry run simulated fill",
	})
	if err != nil {
		return c.alerts.MarkFailed(ctx, alert.ID,
			fmt.Sprintf("dry run settlement failed: %v", err))
	}

	if err := c.strategies.RecordExecution(ctx, intent.StrategyID); err != nil {
		logger.WithError(err).Error("Failed to record strategy execution")
	}

	logger.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"price":    intent.Price,
	}).Info("Dry run order filled")

	return c.alerts.MarkProcessed(ctx, alert.ID)
}

// submitOrder hands the order to the broker. The connector already retries
// transient failures with backoff, so an error surfacing here is either a
// terminal broker rejection or an exhausted retry budget; both settle the
// order instead of being retried again at this level.
func (c *AlertController) submitOrder(
	ctx context.Context,
	alert *model.Alert,
	order *model.Order,
	intent *model.OrderIntent,
) error {

	var limitPrice float64
	if order.LimitPrice != nil {
		limitPrice = *order.LimitPrice
	}

	brokerOrderID, err := c.broker.PlaceOrder(ctx, connectors.OrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Exchange:      order.Exchange,
		Side:          order.Side,
		OrderType:     order.OrderType,
		Quantity:      int64(order.Quantity),
		LimitPrice:    limitPrice,
	})

	if err != nil {
		Capture(ctx, c.exceptions, "AlertController", "controller",
			"broker.PlaceOrder", "error", err,
			map[string]interface{}{"alert_id": alert.ID, "order_id": order.ID})

		if connectors.IsTransientBrokerError(err) {
			// The request may never have reached the broker; give the
			// trade slot back.
			if rerr := c.gate.Refund(ctx, alert.UserID); rerr != nil {
				logger.WithError(rerr).Error("Failed to refund trade slot")
			}

			reason := fmt.Sprintf("submission retries exhausted: %v", err)
			if _, _, uerr := c.orders.ApplyStatusUpdate(ctx, order.ID, repository.StatusUpdate{
				Status: model.OrderStatusError,
				Reason: reason,
			}); uerr != nil {
				logger.WithField("order_id", order.ID).
					WithError(uerr).Error("Failed to record submission error on order")
			}
			return c.alerts.MarkFailed(ctx, alert.ID, reason)
		}

		// Broker rejection, surfaced verbatim.
		reason := err.Error()
		if _, _, uerr := c.orders.ApplyStatusUpdate(ctx, order.ID, repository.StatusUpdate{
			Status: model.OrderStatusRejected,
			Reason: reason,
		}); uerr != nil {
			logger.WithField("order_id", order.ID).
				WithError(uerr).Error("Failed to record broker rejection on order")
		}
		return c.alerts.MarkFailed(ctx, alert.ID, reason)
	}

	if _, _, err := c.orders.ApplyStatusUpdate(ctx, order.ID, repository.StatusUpdate{
		Status:        model.OrderStatusSubmitted,
		BrokerOrderID: brokerOrderID,
		Reason:        "submitted to broker",
	}); err != nil {
		// The order is live at the broker; reprocessing would submit it
		// twice, so the alert settles with the write failure recorded
		// instead of going back on the queue.
		logger.WithFields(map[string]interface{}{
			"order_id":        order.ID,
			"broker_order_id": brokerOrderID,
		}).WithError(err).Error("Order accepted by broker but submission write failed")

		return c.alerts.MarkFailed(ctx, alert.ID,
			fmt.Sprintf("order %s accepted by broker but recording the submission failed: %v", brokerOrderID, err))
	}

	if err := c.strategies.RecordExecution(ctx, intent.StrategyID); err != nil {
		logger.WithError(err).Error("Failed to record strategy execution")
	}

	logger.WithFields(map[string]interface{}{
		"alert_id":        alert.ID,
		"order_id":        order.ID,
		"broker_order_id": brokerOrderID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"quantity":        order.Quantity,
	}).Info("Order submitted, awaiting reconciliation")

	// The alert stays processing until reconciliation reports a settling
	// status for the order.
	return nil
}
