// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package config loads runtime settings for the library.
//
// Settings are distinct from credentials: credentials identify the caller
// to Mixpanel and are resolved by the creds package, while settings tune
// behavior (timeouts, retry budgets, batch sizes). Both honor MP_*
// environment variables, but only settings may also come from a YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings holds all tunable runtime behavior.
type Settings struct {
	HTTP    HTTPSettings    `koanf:"http"`
	Fetch   FetchSettings   `koanf:"fetch"`
	Store   StoreSettings   `koanf:"store"`
	Logging LoggingSettings `koanf:"logging"`
}

// HTTPSettings tunes the Mixpanel API client.
type HTTPSettings struct {
	// Timeout bounds a single request/response cycle, including body
	// streaming. Export responses for large date ranges stream for a
	// while; keep this generous.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`

	// MaxRetries is the retry budget for 429 and retryable 5xx responses.
	MaxRetries int `koanf:"max_retries" validate:"gte=0,lte=20"`

	// RetryBaseDelay is the first backoff interval; each subsequent
	// retry doubles it (with jitter) up to RetryMaxDelay.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"min=0"`

	// RetryMaxDelay caps the backoff interval.
	RetryMaxDelay time.Duration `koanf:"retry_max_delay" validate:"min=0"`

	// RateLimit is the client-side request rate in requests/second.
	// Zero disables client-side limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`

	// RateBurst is the limiter burst size.
	RateBurst int `koanf:"rate_burst" validate:"gte=0"`
}

// FetchSettings tunes ingestion into the local store.
type FetchSettings struct {
	// BatchSize is the number of rows per insert transaction.
	BatchSize int `koanf:"batch_size" validate:"gte=100,lte=100000"`

	// ChunkDays is the date-range span of each parallel fetch chunk.
	ChunkDays int `koanf:"chunk_days" validate:"gte=1,lte=365"`

	// MaxWorkers bounds concurrent chunk fetches.
	MaxWorkers int `koanf:"max_workers" validate:"gte=1,lte=100"`
}

// StoreSettings tunes the local DuckDB engine.
type StoreSettings struct {
	// Dir is the directory for per-project database files.
	// Empty means ${HOME}/.mixpanel-data.
	Dir string `koanf:"dir"`

	// MaxMemory is DuckDB's memory ceiling (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is DuckDB's thread count. Zero means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// LoggingSettings configures the shared logger.
type LoggingSettings struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultSettings returns Settings with all default values. Defaults are
// applied first, then overridden by the settings file and MP_* env vars.
func defaultSettings() *Settings {
	return &Settings{
		HTTP: HTTPSettings{
			Timeout:        10 * time.Minute,
			MaxRetries:     5,
			RetryBaseDelay: 1 * time.Second,
			RetryMaxDelay:  60 * time.Second,
			RateLimit:      0, // rely on server 429s unless configured
			RateBurst:      10,
		},
		Fetch: FetchSettings{
			BatchSize:  1000,
			ChunkDays:  7,
			MaxWorkers: 10,
		},
		Store: StoreSettings{
			Dir:       "", // resolved against HOME at open time
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks settings invariants. Called by Load; exported for
// callers that build Settings programmatically.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
