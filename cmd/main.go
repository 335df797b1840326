package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"algotrader/cmd/worker"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Algotrader CMD"
	app.Usage = "The algotrader command line interface"

	app.Commands = []cli.Command{
		workerCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	workerCMD = cli.Command{
		Name:        "worker",
		Usage:       "run the execution worker",
		Action:      workerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the alert dispatch and order reconciliation loops`,
	}
)

func workerAction(_ *cli.Context) error {

	logrus.Info("Starting worker CMD")
	logrus.WithField("cmd", "worker")

	w := &worker.Worker{}
	err := w.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
