package storage

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	Backend       string `envconfig:"STATE_BACKEND" default:"file"`
	StateFile     string `envconfig:"STATE_FILE" default:"bot_state.json"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisKey      string `envconfig:"REDIS_STATE_KEY" default:"surgetrader:state"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
