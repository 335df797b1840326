package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	FyersClientID  string `envconfig:"FYERS_CLIENT_ID"`
	FyersBaseURL   string `envconfig:"FYERS_BASE_URL" default:"https://api-t1.fyers.in/api/v3"`
	FyersSocketURL string `envconfig:"FYERS_SOCKET_URL" default:"wss://socket.fyers.in/trade/v3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
