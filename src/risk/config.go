package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	EnforceMarketHours bool     `envconfig:"ENFORCE_MARKET_HOURS" default:"true"`
	MarketHolidays     []string `envconfig:"MARKET_HOLIDAYS"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
