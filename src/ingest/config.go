package ingest

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" required:"true"`
	AccountUserID uint   `envconfig:"ACCOUNT_USER_ID" default:"1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
