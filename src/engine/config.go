package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DryRun       bool          `envconfig:"DRY_RUN" default:"true"`
	LoopPeriod   time.Duration `envconfig:"LOOP_PERIOD" default:"60s"`
	CallTimeout  time.Duration `envconfig:"EXCHANGE_CALL_TIMEOUT" default:"20s"`
	StopTimeout  time.Duration `envconfig:"STOP_TIMEOUT" default:"5s"`
	StrategyFile string        `envconfig:"STRATEGY_FILE"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
