// Package config loads the engine's static configuration: runtime
// settings from environment variables and the workflow definition
// (initial state, transition rules, payload schemas) from a YAML file.
// Both are read once at process start; the engine exposes no runtime
// mutation surface.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings of the engine.
type Config struct {
	// StorePath is the SQLite database path. Empty selects the
	// in-memory store.
	StorePath string `env:"DRAFTLINE_STORE_PATH"`

	// WorkflowPath is the YAML workflow definition file.
	WorkflowPath string `env:"DRAFTLINE_WORKFLOW_PATH" envDefault:"workflow.yaml"`

	// AMQPURL enables the RabbitMQ event publisher when set.
	AMQPURL string `env:"DRAFTLINE_AMQP_URL"`

	// EventExchange is the exchange domain events are published to.
	EventExchange string `env:"DRAFTLINE_EVENT_EXCHANGE" envDefault:"draftline.events"`

	// CreateRetries bounds the internal retries on version numbering
	// conflicts.
	CreateRetries int `env:"DRAFTLINE_CREATE_RETRIES" envDefault:"3"`

	// RetryInterval is the initial backoff between conflict retries.
	RetryInterval time.Duration `env:"DRAFTLINE_RETRY_INTERVAL" envDefault:"10ms"`

	// TxTimeout bounds each mutating transaction, retries included.
	// Zero disables the bound.
	TxTimeout time.Duration `env:"DRAFTLINE_TX_TIMEOUT" envDefault:"5s"`
}

// FromEnv loads configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
