// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Profile is one normalized Engage profile, shaped for the local profiles
// schema.
type Profile struct {
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties"`
	LastSeen   *time.Time     `json:"last_seen,omitempty"`
}

// engageWire is the raw Engage result entry shape.
type engageWire struct {
	DistinctID string         `json:"$distinct_id"`
	Properties map[string]any `json:"$properties"`
}

const propLastSeen = "$last_seen"

// UnmarshalJSON decodes one Engage result entry into the normalized form.
// $last_seen is hoisted out of $properties when parseable.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var wire engageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	p.DistinctID = wire.DistinctID
	p.Properties = wire.Properties
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}

	if v, ok := p.Properties[propLastSeen]; ok {
		if s, isStr := v.(string); isStr {
			if parsed, err := parseEngageTime(s); err == nil {
				p.LastSeen = &parsed
				delete(p.Properties, propLastSeen)
			}
		}
	}
	return nil
}

// PropertiesJSON renders the residual properties as a JSON string.
func (p *Profile) PropertiesJSON() (string, error) {
	if len(p.Properties) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(p.Properties)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseEngageTime accepts the timestamp formats Engage emits.
func parseEngageTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339, Value: s}
}
