// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// SettingsPathEnvVar overrides the settings file path.
const SettingsPathEnvVar = "MP_SETTINGS_PATH"

// defaultSettingsPaths lists where the settings file is searched, in order.
// The first file found wins.
func defaultSettingsPaths() []string {
	paths := []string{
		"mixpanel-data.yaml",
		"mixpanel-data.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".mixpanel-data", "settings.yaml"),
			filepath.Join(home, ".mixpanel-data", "settings.yml"),
		)
	}
	return paths
}

// Load builds Settings from layered sources:
//  1. Defaults: built-in values
//  2. Settings file: optional YAML (if present)
//  3. Environment variables: MP_* overrides
//
// Precedence: ENV > file > defaults.
func Load() (*Settings, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: settings file (optional)
	if path := findSettingsFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load settings file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// MP_HTTP_TIMEOUT -> http.timeout, MP_BATCH_SIZE -> fetch.batch_size
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	s := &Settings{}
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Default returns the built-in settings without consulting files or
// environment. Useful for tests and for hosts that configure everything
// programmatically.
func Default() *Settings {
	return defaultSettings()
}

// findSettingsFile returns the first settings file that exists, or "".
func findSettingsFile() string {
	if envPath := os.Getenv(SettingsPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range defaultSettingsPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to settings paths.
// Unmapped keys return "" and are skipped, which keeps unrelated
// environment variables (including the MP_USERNAME credential family,
// resolved elsewhere) out of settings.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"mp_http_timeout":     "http.timeout",
		"mp_max_retries":      "http.max_retries",
		"mp_retry_base_delay": "http.retry_base_delay",
		"mp_retry_max_delay":  "http.retry_max_delay",
		"mp_rate_limit":       "http.rate_limit",
		"mp_rate_burst":       "http.rate_burst",

		"mp_batch_size":  "fetch.batch_size",
		"mp_chunk_days":  "fetch.chunk_days",
		"mp_max_workers": "fetch.max_workers",

		"mp_data_dir":      "store.dir",
		"mp_db_max_memory": "store.max_memory",
		"mp_db_threads":    "store.threads",

		"mp_log_level":  "logging.level",
		"mp_log_format": "logging.format",
		"mp_log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
