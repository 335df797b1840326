package strategy

import (
	"errors"
	"testing"

	"algotrader/src/model"
)

func signalAlert(action string, price float64) *model.Alert {
	return &model.Alert{
		ID:       7,
		Kind:     model.AlertKindSignal,
		UserID:   1,
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Action:   action,
		Price:    price,
	}
}

func TestResolveHoldProducesNoIntent(t *testing.T) {
	strat := &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}

	intent, err := Resolve(signalAlert(model.AlertActionHold, 100), strat, 50000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if intent != nil {
		t.Fatalf("hold must produce no intent, got %+v", intent)
	}
}

func TestResolveWithoutStrategyFails(t *testing.T) {
	_, err := Resolve(signalAlert(model.AlertActionBuy, 100), nil, 50000)
	if !errors.Is(err, ErrNoActiveStrategy) {
		t.Fatalf("expected ErrNoActiveStrategy, got %v", err)
	}
}

func TestResolveSizingRules(t *testing.T) {
	cases := []struct {
		name     string
		rule     string
		value    float64
		price    float64
		capital  float64
		quantity int
	}{
		{"fixed quantity", model.SizingFixedQuantity, 15, 2500, 100000, 15},
		{"fixed amount rounds down", model.SizingFixedAmount, 10000, 2500.50, 100000, 3},
		{"percentage of capital", model.SizingPercentOfCapital, 10, 500, 100000, 20},
		{"unknown rule defaults to one percent", "martingale", 0, 100, 100000, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			strat := &model.Strategy{
				ID:          3,
				SizingRule:  tc.rule,
				SizingValue: tc.value,
			}

			intent, err := Resolve(signalAlert(model.AlertActionBuy, tc.price), strat, tc.capital)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if intent.Quantity != tc.quantity {
				t.Errorf("expected quantity %d, got %d", tc.quantity, intent.Quantity)
			}
			if intent.Side != model.OrderSideBuy {
				t.Errorf("expected buy side, got %q", intent.Side)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	strat := &model.Strategy{ID: 3, SizingRule: model.SizingPercentOfCapital, SizingValue: 7.5}
	alert := signalAlert(model.AlertActionSell, 333.33)

	first, err := Resolve(alert, strat, 123456.78)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	for i := 0; i < 10; i++ {
		next, err := Resolve(alert, strat, 123456.78)
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if next.Quantity != first.Quantity {
			t.Fatalf("sizing drifted on run %d: %d vs %d", i, next.Quantity, first.Quantity)
		}
	}

	if first.Side != model.OrderSideSell {
		t.Errorf("expected sell side, got %q", first.Side)
	}
}

func TestResolveClampsToStrategyCap(t *testing.T) {
	strat := &model.Strategy{
		ID:              3,
		SizingRule:      model.SizingFixedAmount,
		SizingValue:     50000,
		MaxPositionSize: 10000,
	}

	intent, err := Resolve(signalAlert(model.AlertActionBuy, 1000), strat, 100000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if intent.Quantity != 10 {
		t.Errorf("expected clamp to 10 shares, got %d", intent.Quantity)
	}
}

func TestResolveMissingPriceFails(t *testing.T) {
	strat := &model.Strategy{ID: 3, SizingRule: model.SizingFixedAmount, SizingValue: 10000}

	_, err := Resolve(signalAlert(model.AlertActionBuy, 0), strat, 100000)
	if !errors.Is(err, ErrNoReferencePrice) {
		t.Fatalf("expected ErrNoReferencePrice, got %v", err)
	}
}
