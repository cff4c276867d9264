package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIKey      string        `envconfig:"BINANCE_API_KEY"`
	APISecret   string        `envconfig:"BINANCE_API_SECRET"`
	BaseURL     string        `envconfig:"BINANCE_BASE_URL" default:"https://fapi.binance.com"`
	RecvWindow  int64         `envconfig:"BINANCE_RECV_WINDOW" default:"5000"`
	HTTPTimeout time.Duration `envconfig:"BINANCE_HTTP_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
