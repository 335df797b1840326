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
	"algotrader/src/risk"
)

// StartLoop runs the dispatch worker: pull a queued alert, run it through
// the pipeline, ack or release. It blocks until ctx is cancelled.
func StartLoop(ctx context.Context) error {
	config := GetConfig()

	broker, _, err := BrokerForUser(ctx, config.UserID)
	if err != nil {
		return err
	}

	riskCfg := risk.GetConfig()
	var calendar *risk.MarketCalendar
	if riskCfg.EnforceMarketHours {
		calendar = risk.NewMarketCalendar(riskCfg.MarketHolidays)
	}

	gate := risk.NewGate(repository.NewRiskRepository())
	ctrl := newAlertController(broker, gate, calendar)
	dispatch := queue.NewDispatchQueue()

	ticker := time.NewTicker(config.PullPeriod)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"user_id":     config.UserID,
		"pull_period": config.PullPeriod.String(),
	}).Info("Dispatch worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Dispatch worker stopped")
			return nil

		case <-ticker.C:
			// Drain everything pullable before sleeping again.
			for {
				item, err := dispatch.Pull(ctx)
				if err != nil {
					logger.WithError(err).Error("Queue pull failed")
					break
				}
				if item == nil {
					break
				}

				processItem(ctx, ctrl, dispatch, item, config.ReleaseBackoff)
			}
		}
	}
}

// alertProcessor is what the loop needs from the controller.
type alertProcessor interface {
	ProcessAlert(ctx context.Context, alertID uint) error
}

// newAlertController is swappable in tests.
var newAlertController = func(
	broker *connectors.FyersClient,
	gate *risk.Gate,
	calendar *risk.MarketCalendar,
) alertProcessor {
	if calendar != nil {
		return controller.NewAlertController(broker, gate, calendar)
	}
	return controller.NewAlertController(broker, gate, nil)
}

func processItem(
	ctx context.Context,
	ctrl alertProcessor,
	dispatch *queue.DispatchQueue,
	item *model.QueueItem,
	backoff time.Duration,
) {
	err := ctrl.ProcessAlert(ctx, item.AlertID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"item_id":  item.ID,
			"alert_id": item.AlertID,
			"attempts": item.Attempts,
		}).WithError(err).Warn("Alert processing failed, releasing for retry")

		if rerr := dispatch.Release(ctx, item.ID, backoff); rerr != nil {
			logger.WithError(rerr).Error("Failed to release queue item")
		}
		return
	}

	if aerr := dispatch.Ack(ctx, item.ID); aerr != nil {
		logger.WithError(aerr).Error("Failed to ack queue item")
	}
}
