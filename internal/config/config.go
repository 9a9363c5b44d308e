package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "RANKCYCLE"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "rankcycle.db"
	defaultLogLevel             = "info"
	defaultMaterialityThreshold = 5.0
	defaultSweepCron            = "30 2 * * *"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	MaterialityThreshold float64
	SweepCron            string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("progress.materiality_threshold", defaultMaterialityThreshold)
	configViper.SetDefault("ingest.sweep_cron", defaultSweepCron)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		MaterialityThreshold: configViper.GetFloat64("progress.materiality_threshold"),
		SweepCron:            configViper.GetString("ingest.sweep_cron"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MaterialityThreshold < 0 {
		return fmt.Errorf("progress.materiality_threshold must not be negative")
	}
	if strings.TrimSpace(c.SweepCron) == "" {
		return fmt.Errorf("ingest.sweep_cron is required")
	}
	return nil
}
