// Package config loads service configuration from the environment, with an
// optional .env overlay for local development.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config is everything the process needs to run.
type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	Upstream Upstream
	DB       DB
	Buffer   Buffer
}

// Upstream configures the external reservations API.
type Upstream struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// DB configures the document store.
type DB struct {
	DatabaseURL string
}

// Buffer configures the durable write buffer. Dir must point at a writable
// location; on ephemeral filesystems that is the platform scratch directory,
// which is also the default.
type Buffer struct {
	Dir string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; unset values fall back to defaults where a default is sensible.
// The database URL and the upstream credentials have no defaults and are
// validated by the caller before use.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on environment variables")
	}

	viper.AutomaticEnv()
	viper.SetDefault("env", EnvDev)
	viper.SetDefault("http_addr", ":8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("upstream_timeout", "30s")
	viper.SetDefault("buffer_dir", filepath.Join(os.TempDir(), "rentalsync", "buffer"))

	timeout, err := time.ParseDuration(viper.GetString("upstream_timeout"))
	if err != nil {
		return nil, errors.New("invalid UPSTREAM_TIMEOUT: " + err.Error())
	}

	cfg := &Config{
		Env:      viper.GetString("env"),
		HTTPAddr: viper.GetString("http_addr"),
		LogLevel: viper.GetString("log_level"),
		Upstream: Upstream{
			BaseURL:   viper.GetString("upstream_base_url"),
			AuthToken: viper.GetString("upstream_auth_token"),
			Timeout:   timeout,
		},
		DB: DB{
			DatabaseURL: viper.GetString("database_url"),
		},
		Buffer: Buffer{
			Dir: viper.GetString("buffer_dir"),
		},
	}
	return cfg, nil
}
