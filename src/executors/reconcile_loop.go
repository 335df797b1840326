package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"algotrader/src/connectors"
	"algotrader/src/controller"
	"algotrader/src/model"
	"algotrader/src/queue"
	"algotrader/src/repository"
)

// ReconcileLoop keeps local state converging on broker state. It runs three
// activities until ctx is cancelled:
//
//   - polling open orders against the broker and feeding the results into
//     the settlement controller;
//   - consuming the broker's order stream, which feeds the same controller
//     so pushed and polled updates share one state machine;
//   - sweeping stuck alerts, failing abandoned processing and re-enqueueing
//     received alerts that never made it into the queue.
func ReconcileLoop(ctx context.Context, broker *connectors.FyersClient, stream *connectors.OrderStream) error {
	config := GetConfig()

	orderRepo := repository.NewOrderRepository()
	alertRepo := repository.NewAlertRepository()
	dispatch := queue.NewDispatchQueue()
	settlement := controller.NewSettlementController()

	updates := make(chan *connectors.OrderState, 64)
	if config.OrderStreamOn && stream != nil {
		go stream.Run(ctx, updates)
	}

	pollTicker := time.NewTicker(config.ReconcilePeriod)
	defer pollTicker.Stop()

	sweepTicker := time.NewTicker(config.StuckSweepPeriod)
	defer sweepTicker.Stop()

	logger.WithFields(map[string]interface{}{
		"reconcile_period": config.ReconcilePeriod.String(),
		"sweep_period":     config.StuckSweepPeriod.String(),
		"order_stream":     config.OrderStreamOn,
	}).Info("Reconciliation loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciliation loop stopped")
			return nil

		case state := <-updates:
			if err := settlement.ApplyBrokerState(ctx, state); err != nil {
				logger.WithField("broker_order_id", state.BrokerOrderID).
					WithError(err).Error("Failed to apply streamed order update")
			}

		case <-pollTicker.C:
			pollOpenOrders(ctx, broker, orderRepo, settlement)

		case <-sweepTicker.C:
			sweepStuckAlerts(ctx, alertRepo, orderRepo, dispatch, config)
		}
	}
}

func pollOpenOrders(
	ctx context.Context,
	broker *connectors.FyersClient,
	orderRepo *repository.OrderRepository,
	settlement *controller.SettlementController,
) {
	orders, err := orderRepo.FindOpen(ctx, 50)
	if err != nil {
		logger.WithError(err).Error("Failed to list open orders")
		return
	}

	for i := range orders {
		order := &orders[i]

		state, err := broker.GetOrderStatus(ctx, order.BrokerOrderID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"order_id":        order.ID,
				"broker_order_id": order.BrokerOrderID,
			}).WithError(err).Warn("Order status poll failed")
			continue
		}

		if err := settlement.ApplyStateToOrder(ctx, order, state); err != nil {
			logger.WithField("order_id", order.ID).
				WithError(err).Error("Failed to apply polled order state")
			continue
		}

		if err := orderRepo.TouchLastChecked(ctx, order.ID); err != nil {
			logger.WithError(err).Debug("Failed to touch order check time")
		}
	}
}

// sweepStuckAlerts recovers alerts the pipeline lost track of. An alert
// stuck in processing past the timeout with no order is abandoned by a
// crashed worker; it fails with the timeout recorded. One whose order is
// still live at the broker stays processing: reconciliation owns it. One
// whose order already reached a settling status had its settlement write
// lost, so the sweep settles it now. An alert stuck in received was
// persisted but never enqueued (a crash between commit and enqueue); it
// goes back on the queue, where the processing claim dedups any double
// delivery.
func sweepStuckAlerts(
	ctx context.Context,
	alertRepo *repository.AlertRepository,
	orderRepo *repository.OrderRepository,
	dispatch *queue.DispatchQueue,
	config Config,
) {
	now := time.Now()

	stuck, err := alertRepo.FindStuck(ctx, model.AlertStatusProcessing, now.Add(-config.ProcessingTimeout), 100)
	if err != nil {
		logger.WithError(err).Error("Failed to list stuck processing alerts")
	} else {
		for i := range stuck {
			alert := &stuck[i]

			orders, err := orderRepo.FindByAlertID(ctx, alert.ID)
			if err != nil {
				logger.WithField("alert_id", alert.ID).
					WithError(err).Error("Failed to inspect orders for stuck alert")
				continue
			}

			settled, awaiting := false, false
			for j := range orders {
				if model.OrderStatusSettlesAlert(orders[j].Status) {
					settled = true
				}
				if orders[j].BrokerOrderID != "" && !model.OrderStatusFinal(orders[j].Status) {
					awaiting = true
				}
			}

			switch {
			case settled:
				logger.WithField("alert_id", alert.ID).
					Warn("Alert has a settled order but never settled, marking processed")
				if err := alertRepo.MarkProcessed(ctx, alert.ID); err != nil {
					logger.WithError(err).Error("Failed to settle stuck alert")
				}

			case awaiting:
				logger.WithFields(map[string]interface{}{
					"alert_id":   alert.ID,
					"updated_at": alert.UpdatedAt,
				}).Debug("Alert awaiting reconciliation of a live order, skipping")

			default:
				logger.WithFields(map[string]interface{}{
					"alert_id":   alert.ID,
					"updated_at": alert.UpdatedAt,
				}).Warn("Alert stuck in processing, failing")

				if err := alertRepo.MarkFailed(ctx, alert.ID, "processing timed out"); err != nil {
					logger.WithError(err).Error("Failed to fail stuck alert")
				}
			}
		}
	}

	lost, err := alertRepo.FindStuck(ctx, model.AlertStatusReceived, now.Add(-config.ReceivedTimeout), 100)
	if err != nil {
		logger.WithError(err).Error("Failed to list stuck received alerts")
		return
	}

	for i := range lost {
		alert := &lost[i]

		logger.WithFields(map[string]interface{}{
			"alert_id":   alert.ID,
			"updated_at": alert.UpdatedAt,
		}).Warn("Alert never dispatched, re-enqueueing")

		if err := dispatch.Enqueue(ctx, alert.ID, alert.UserID); err != nil {
			logger.WithError(err).Error("Failed to re-enqueue stuck alert")
		}
	}
}
