package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"algotrader/src/database"
	"algotrader/src/executors"
)

// Worker runs the dispatch and reconciliation loops in one process.
type Worker struct{}

func (t *Worker) Start() error {
	config := executors.GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	logrus.WithField("user_id", config.UserID).Info("Starting execution worker")

	broker, stream, err := executors.BrokerForUser(ctx, config.UserID)
	if err != nil {
		logrus.WithError(err).Error("Failed to build broker client")
		return err
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- executors.ReconcileLoop(ctx, broker, stream)
	}()
	go func() {
		errCh <- executors.StartLoop(ctx)
	}()

	// Both loops return nil on context cancel; a non-nil error from either
	// stops the worker.
	if err := <-errCh; err != nil {
		logrus.WithError(err).Error("Worker loop failed")
		stop()
		<-errCh
		return err
	}

	<-errCh
	return nil
}
