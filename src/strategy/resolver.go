// Package strategy turns actionable alerts into order intents by applying
// the owning strategy's position-sizing rule.
package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"algotrader/src/model"
)

var (
	// ErrNoActiveStrategy means no active strategy covers the alert's
	// symbol; the alert fails with a descriptive reason instead of being
	// silently dropped.
	ErrNoActiveStrategy = errors.New("no active strategy for symbol")

	// ErrNoReferencePrice means sizing needed a price and the alert
	// carried none.
	ErrNoReferencePrice = errors.New("no reference price for sizing")
)

// Resolve derives the order intent for an actionable alert. Hold alerts
// resolve to no intent and no error; the pipeline marks them processed
// without an order. Sizing is deterministic given the same capital
// snapshot.
func Resolve(
	alert *model.Alert,
	strat *model.Strategy,
	capital float64,
) (*model.OrderIntent, error) {

	if !alert.IsActionable() {
		return nil, nil
	}
	if strat == nil {
		return nil, ErrNoActiveStrategy
	}

	quantity, err := sizeQuantity(strat, alert.Price, capital)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("sizing rule %q produced no quantity", strat.SizingRule)
	}

	side := model.OrderSideBuy
	if alert.Action == model.AlertActionSell {
		side = model.OrderSideSell
	}

	intent := &model.OrderIntent{
		AlertID:    alert.ID,
		UserID:     alert.UserID,
		StrategyID: strat.ID,
		Symbol:     alert.Symbol,
		Exchange:   alert.Exchange,
		Side:       side,
		OrderType:  model.OrderTypeMarket,
		Quantity:   int(quantity),
		Price:      alert.Price,
		DryRun:     strat.DryRun,
	}

	logger.WithFields(map[string]interface{}{
		"module":      "strategy",
		"op":          "Resolve",
		"alert_id":    alert.ID,
		"strategy_id": strat.ID,
		"sizing_rule": strat.SizingRule,
		"symbol":      intent.Symbol,
		"side":        intent.Side,
		"quantity":    intent.Quantity,
		"dry_run":     intent.DryRun,
	}).Info("Order intent resolved")

	return intent, nil
}

// sizeQuantity applies the strategy's position-sizing rule. Amount-based
// rules divide a notional budget by the alert price and round down to whole
// shares; an unknown rule falls back to a small fixed percentage of
// capital. Math runs on decimals so repeated float division cannot drift
// the result across runs.
func sizeQuantity(strat *model.Strategy, price, capital float64) (int64, error) {
	if strat.SizingRule == model.SizingFixedQuantity {
		return int64(strat.SizingValue), nil
	}

	if price <= 0 {
		return 0, ErrNoReferencePrice
	}

	p := decimal.NewFromFloat(price)

	var budget decimal.Decimal
	switch strat.SizingRule {
	case model.SizingFixedAmount:
		budget = decimal.NewFromFloat(strat.SizingValue)
	case model.SizingPercentOfCapital:
		budget = decimal.NewFromFloat(capital).
			Mul(decimal.NewFromFloat(strat.SizingValue)).
			Div(decimal.NewFromInt(100))
	default:
		budget = decimal.NewFromFloat(capital).
			Mul(decimal.NewFromFloat(model.DefaultCapitalPercent)).
			Div(decimal.NewFromInt(100))
	}

	quantity := budget.Div(p).Floor()

	// The strategy's own notional cap clamps before the risk gate ever
	// sees the intent.
	if strat.MaxPositionSize > 0 {
		maxQty := decimal.NewFromFloat(strat.MaxPositionSize).Div(p).Floor()
		if quantity.GreaterThan(maxQty) {
			quantity = maxQty
		}
	}

	return quantity.IntPart(), nil
}
