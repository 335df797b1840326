package controller

// Test index:
//  1. TestProcessAlertDuplicateDelivery ignores settled alerts and lost claims.
//  2. TestProcessAlertHold settles hold alerts with no order.
//  3. TestProcessAlertNoStrategy fails the alert with a descriptive reason.
//  4. TestProcessAlertRiskRejection fails the alert and never builds an order.
//  5. TestProcessAlertSubmits walks the happy path through broker submission.
//  6. TestProcessAlertBrokerRejection surfaces the broker reason verbatim.
//  7. TestProcessAlertTransientExhaustion refunds the trade slot and fails the alert.
//  8. TestProcessAlertDryRun fills locally without touching the broker.
//  9. TestProcessAlertRetryableFailureReleasesClaim reopens the alert for redelivery.

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"algotrader/src/connectors"
	"algotrader/src/model"
	"algotrader/src/repository"
	"algotrader/src/risk"
)

type stubAlerts struct {
	alert       *model.Alert
	claimDenied bool
	processed   bool
	released    int
	failReason  string
}

func (s *stubAlerts) FindByID(_ context.Context, id uint) (*model.Alert, error) {
	if s.alert == nil || s.alert.ID != id {
		return nil, nil
	}
	a := *s.alert
	return &a, nil
}

func (s *stubAlerts) MarkProcessing(_ context.Context, _ uint) (bool, error) {
	if s.claimDenied {
		return false, nil
	}
	s.alert.Status = model.AlertStatusProcessing
	return true, nil
}

func (s *stubAlerts) ReleaseClaim(_ context.Context, _ uint) (bool, error) {
	if s.alert.Status != model.AlertStatusProcessing {
		return false, nil
	}
	s.released++
	s.alert.Status = model.AlertStatusReceived
	return true, nil
}

func (s *stubAlerts) MarkProcessed(_ context.Context, _ uint) error {
	s.processed = true
	s.alert.Status = model.AlertStatusProcessed
	return nil
}

func (s *stubAlerts) MarkFailed(_ context.Context, _ uint, reason string) error {
	s.failReason = reason
	s.alert.Status = model.AlertStatusFailed
	return nil
}

type stubOrders struct {
	created   *model.Order
	createErr error
	updates   []repository.StatusUpdate
}

func (s *stubOrders) CreateWithAutoLog(_ context.Context, order *model.Order, _ string) error {
	if s.createErr != nil {
		return s.createErr
	}
	order.ID = 99
	s.created = order
	return nil
}

func (s *stubOrders) ApplyStatusUpdate(_ context.Context, _ uint, update repository.StatusUpdate) (bool, *model.Order, error) {
	if s.created == nil {
		return false, nil, nil
	}
	if !model.CanTransitionOrderStatus(s.created.Status, update.Status) {
		return false, s.created, nil
	}
	s.created.Status = update.Status
	if update.BrokerOrderID != "" {
		s.created.BrokerOrderID = update.BrokerOrderID
	}
	s.updates = append(s.updates, update)
	return true, s.created, nil
}

type stubStrategies struct {
	strategy   *model.Strategy
	lookupErr  error
	executions int
}

func (s *stubStrategies) ActiveForSymbol(_ context.Context, _ uint, _ string) (*model.Strategy, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.strategy, nil
}

func (s *stubStrategies) RecordExecution(_ context.Context, _ uint) error {
	s.executions++
	return nil
}

type stubGate struct {
	rejection *risk.RejectionError
	checks    int
	refunds   int
}

func (s *stubGate) Check(_ context.Context, _ *model.OrderIntent) error {
	s.checks++
	if s.rejection != nil {
		return s.rejection
	}
	return nil
}

func (s *stubGate) Refund(_ context.Context, _ uint) error {
	s.refunds++
	return nil
}

type stubBroker struct {
	brokerOrderID string
	placeErr      error
	placed        []connectors.OrderRequest
	quote         float64
	funds         float64
}

func (s *stubBroker) PlaceOrder(_ context.Context, order connectors.OrderRequest) (string, error) {
	s.placed = append(s.placed, order)
	if s.placeErr != nil {
		return "", s.placeErr
	}
	return s.brokerOrderID, nil
}

func (s *stubBroker) GetQuote(_ context.Context, _, _ string) (float64, error) {
	return s.quote, nil
}

func (s *stubBroker) GetFunds(_ context.Context) (float64, error) {
	return s.funds, nil
}

func signalFixture(action string) *model.Alert {
	return &model.Alert{
		ID:       5,
		Kind:     model.AlertKindSignal,
		UserID:   1,
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Action:   action,
		Price:    2500,
		Quantity: 10,
		Status:   model.AlertStatusReceived,
	}
}

func newTestController(
	alerts *stubAlerts,
	orders *stubOrders,
	strategies *stubStrategies,
	gate *stubGate,
	broker *stubBroker,
) *AlertController {
	return &AlertController{
		alerts:     alerts,
		orders:     orders,
		strategies: strategies,
		gate:       gate,
		broker:     broker,
		now:        time.Now,
	}
}

func TestProcessAlertDuplicateDelivery(t *testing.T) {
	t.Run("already settled", func(t *testing.T) {
		alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
		alerts.alert.Status = model.AlertStatusProcessed
		orders := &stubOrders{}
		ctrl := newTestController(alerts, orders, &stubStrategies{}, &stubGate{}, &stubBroker{})

		if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
			t.Fatalf("process: %v", err)
		}
		if orders.created != nil {
			t.Error("settled alert must not produce an order")
		}
	})

	t.Run("claim lost", func(t *testing.T) {
		alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy), claimDenied: true}
		orders := &stubOrders{}
		ctrl := newTestController(alerts, orders, &stubStrategies{}, &stubGate{}, &stubBroker{})

		if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
			t.Fatalf("process: %v", err)
		}
		if orders.created != nil {
			t.Error("lost claim must not produce an order")
		}
	})
}

func TestProcessAlertHold(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionHold)}
	orders := &stubOrders{}
	strategies := &stubStrategies{strategy: &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}}
	ctrl := newTestController(alerts, orders, strategies, &stubGate{}, &stubBroker{})

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !alerts.processed {
		t.Error("hold alert must be marked processed")
	}
	if orders.created != nil {
		t.Error("hold alert must not produce an order")
	}
}

func TestProcessAlertNoStrategy(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
	ctrl := newTestController(alerts, &stubOrders{}, &stubStrategies{}, &stubGate{}, &stubBroker{})

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}
	if alerts.failReason == "" {
		t.Fatal("alert must fail with a reason")
	}
	if !strings.Contains(alerts.failReason, "no active strategy") {
		t.Errorf("unexpected failure reason: %s", alerts.failReason)
	}
}

func TestProcessAlertRiskRejection(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
	orders := &stubOrders{}
	strategies := &stubStrategies{strategy: &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}}
	gate := &stubGate{rejection: &risk.RejectionError{
		Code:   risk.ReasonDailyTradeLimitReached,
		Detail: "daily trade limit 50 reached",
	}}
	ctrl := newTestController(alerts, orders, strategies, gate, &stubBroker{})

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(alerts.failReason, risk.ReasonDailyTradeLimitReached) {
		t.Errorf("rejection code missing from reason: %s", alerts.failReason)
	}
	if orders.created != nil {
		t.Error("rejected intent must not produce an order")
	}
}

func TestProcessAlertSubmits(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
	orders := &stubOrders{}
	strategies := &stubStrategies{strategy: &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}}
	broker := &stubBroker{brokerOrderID: "24081200001"}
	ctrl := newTestController(alerts, orders, strategies, &stubGate{}, broker)

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}

	if orders.created == nil {
		t.Fatal("expected an order")
	}
	if orders.created.Status != model.OrderStatusSubmitted {
		t.Errorf("expected submitted, got %s", orders.created.Status)
	}
	if orders.created.BrokerOrderID != "24081200001" {
		t.Errorf("broker order id not recorded: %q", orders.created.BrokerOrderID)
	}
	if orders.created.ClientOrderID == "" {
		t.Error("client order id must be set")
	}
	if len(broker.placed) != 1 || broker.placed[0].Quantity != 10 {
		t.Errorf("unexpected broker submission: %+v", broker.placed)
	}
	if strategies.executions != 1 {
		t.Errorf("expected one recorded execution, got %d", strategies.executions)
	}
	if alerts.alert.Status != model.AlertStatusProcessing {
		t.Errorf("alert must stay processing until reconciliation, got %s", alerts.alert.Status)
	}
}

func TestProcessAlertBrokerRejection(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
	orders := &stubOrders{}
	strategies := &stubStrategies{strategy: &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}}
	gate := &stubGate{}
	broker := &stubBroker{placeErr: &connectors.BrokerError{Code: -1093, Message: "insufficient funds"}}
	ctrl := newTestController(alerts, orders, strategies, gate, broker)

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}
	if orders.created.Status != model.OrderStatusRejected {
		t.Errorf("expected rejected order, got %s", orders.created.Status)
	}
	if !strings.Contains(alerts.failReason, "insufficient funds") {
		t.Errorf("broker reason not surfaced verbatim: %s", alerts.failReason)
	}
	if gate.refunds != 0 {
		t.Error("terminal rejection must not refund the trade slot")
	}
}

func TestProcessAlertTransientExhaustion(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
	orders := &stubOrders{}
	strategies := &stubStrategies{strategy: &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}}
	gate := &stubGate{}
	broker := &stubBroker{placeErr: &connectors.BrokerError{HTTPStatus: 503, Message: "upstream down", Transient: true}}
	ctrl := newTestController(alerts, orders, strategies, gate, broker)

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}
	if orders.created.Status != model.OrderStatusError {
		t.Errorf("expected error status, got %s", orders.created.Status)
	}
	if gate.refunds != 1 {
		t.Errorf("expected one slot refund, got %d", gate.refunds)
	}
	if !strings.Contains(alerts.failReason, "retries exhausted") {
		t.Errorf("unexpected failure reason: %s", alerts.failReason)
	}
}

func TestProcessAlertDryRun(t *testing.T) {
	alerts := &stubAlerts{alert: signalFixture(model.AlertActionSell)}
	orders := &stubOrders{}
	strategies := &stubStrategies{strategy: &model.Strategy{
		ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10, DryRun: true,
	}}
	broker := &stubBroker{}
	ctrl := newTestController(alerts, orders, strategies, &stubGate{}, broker)

	if err := ctrl.ProcessAlert(context.Background(), 5); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(broker.placed) != 0 {
		t.Error("dry run must not reach the broker")
	}
	if orders.created.Status != model.OrderStatusFilled {
		t.Errorf("expected simulated fill, got %s", orders.created.Status)
	}
	fill := orders.updates[len(orders.updates)-1]
	if fill.FilledQuantity != 10 || fill.AveragePrice != 2500 {
		t.Errorf("simulated fill must carry the intent quantity and price: %+v", fill)
	}
	if !alerts.processed {
		t.Error("dry run alert must settle immediately")
	}
}

func TestProcessAlertRetryableFailureReleasesClaim(t *testing.T) {
	t.Run("strategy lookup fails", func(t *testing.T) {
		alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
		strategies := &stubStrategies{lookupErr: errors.New("database down")}
		ctrl := newTestController(alerts, &stubOrders{}, strategies, &stubGate{}, &stubBroker{})

		err := ctrl.ProcessAlert(context.Background(), 5)
		if err == nil {
			t.Fatal("expected the lookup error to surface")
		}
		if alerts.released != 1 {
			t.Errorf("claim must be released for retry, released=%d", alerts.released)
		}
		if alerts.alert.Status != model.AlertStatusReceived {
			t.Errorf("alert must go back to received, got %s", alerts.alert.Status)
		}
		if alerts.failReason != "" {
			t.Errorf("retryable failure must not settle the alert: %q", alerts.failReason)
		}
	})

	t.Run("order create fails", func(t *testing.T) {
		alerts := &stubAlerts{alert: signalFixture(model.AlertActionBuy)}
		orders := &stubOrders{createErr: errors.New("connection reset")}
		strategies := &stubStrategies{strategy: &model.Strategy{ID: 3, SizingRule: model.SizingFixedQuantity, SizingValue: 10}}
		gate := &stubGate{}
		ctrl := newTestController(alerts, orders, strategies, gate, &stubBroker{})

		err := ctrl.ProcessAlert(context.Background(), 5)
		if err == nil {
			t.Fatal("expected the create error to surface")
		}
		if gate.refunds != 1 {
			t.Errorf("consumed trade slot must be refunded, refunds=%d", gate.refunds)
		}
		if alerts.released != 1 {
			t.Errorf("claim must be released for retry, released=%d", alerts.released)
		}
		if alerts.alert.Status != model.AlertStatusReceived {
			t.Errorf("alert must go back to received, got %s", alerts.alert.Status)
		}
	})
}
