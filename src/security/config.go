package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the dashboard credentials. The password is stored as a bcrypt hash,
// produced by the hash-password command.
type Config struct {
	DashboardUser         string `envconfig:"DASHBOARD_USER" default:"admin"`
	DashboardPasswordHash string `envconfig:"DASHBOARD_PASSWORD_HASH"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
