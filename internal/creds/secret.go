// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package creds

import (
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
)

// Secret wraps a service account secret so that every implicit rendering
// path (fmt verbs, JSON, text encoders) yields a redacted placeholder.
// The raw value is reachable only through the explicit, grep-auditable
// Reveal call sites (HTTP basic auth and accounts-file persistence).
type Secret struct {
	value string
}

// NewSecret wraps a raw secret value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the raw secret value.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

// String implements fmt.Stringer. Always redacted.
func (s Secret) String() string {
	return logging.Redacted
}

// GoString implements fmt.GoStringer so %#v does not leak the value.
func (s Secret) GoString() string {
	return "creds.Secret(" + logging.Redacted + ")"
}

// MarshalJSON always serializes the placeholder.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + logging.Redacted + `"`), nil
}

// MarshalText always serializes the placeholder. Covers YAML/TOML
// encoders that honor encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(logging.Redacted), nil
}

// UnmarshalText accepts a raw secret value, so Secret fields can be
// decoded from configuration sources.
func (s *Secret) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}
