package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	UserID            uint          `envconfig:"USER_ID" default:"1"`
	PullPeriod        time.Duration `envconfig:"PULL_PERIOD" default:"2s"`
	ReleaseBackoff    time.Duration `envconfig:"RELEASE_BACKOFF" default:"30s"`
	ReconcilePeriod   time.Duration `envconfig:"RECONCILE_PERIOD" default:"15s"`
	StuckSweepPeriod  time.Duration `envconfig:"STUCK_SWEEP_PERIOD" default:"1m"`
	ProcessingTimeout time.Duration `envconfig:"PROCESSING_TIMEOUT" default:"10m"`
	ReceivedTimeout   time.Duration `envconfig:"RECEIVED_TIMEOUT" default:"5m"`
	OrderStreamOn     bool          `envconfig:"ORDER_STREAM_ON" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
