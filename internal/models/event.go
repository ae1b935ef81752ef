// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package models defines the data structures shared between the API client,
// the fetcher, and the storage engine: event and profile records in their
// normalized (post-wire) form, plus table metadata.
package models

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Event is one normalized Mixpanel event, shaped for the local events
// schema. The Export endpoint's wire form nests time, distinct_id and
// $insert_id inside properties; UnmarshalJSON hoists them out so that
// Properties holds only the genuine event properties.
type Event struct {
	Name       string         `json:"event_name"`
	Time       time.Time      `json:"event_time"`
	DistinctID string         `json:"distinct_id"`
	InsertID   string         `json:"insert_id"`
	Properties map[string]any `json:"properties"`
}

// exportWire is the raw Export JSONL line shape.
type exportWire struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// Reserved property keys hoisted into dedicated columns.
const (
	propTime       = "time"
	propDistinctID = "distinct_id"
	propInsertID   = "$insert_id"
)

// UnmarshalJSON decodes one Export JSONL line into the normalized form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire exportWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.Name = wire.Event
	e.Properties = wire.Properties
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}

	if v, ok := e.Properties[propTime]; ok {
		e.Time = coerceEpoch(v)
		delete(e.Properties, propTime)
	}
	if v, ok := e.Properties[propDistinctID]; ok {
		e.DistinctID = coerceString(v)
		delete(e.Properties, propDistinctID)
	}
	if v, ok := e.Properties[propInsertID]; ok {
		e.InsertID = coerceString(v)
		delete(e.Properties, propInsertID)
	}
	return nil
}

// PropertiesJSON renders the residual properties as a JSON string for the
// store's json column. Nil-safe; an empty map renders "{}".
func (e *Event) PropertiesJSON() (string, error) {
	if len(e.Properties) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(e.Properties)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// coerceEpoch converts the wire "time" value (epoch seconds, possibly
// fractional or stringly typed by older pipelines) into a UTC time.
func coerceEpoch(v any) time.Time {
	switch t := v.(type) {
	case float64:
		sec := int64(t)
		nsec := int64((t - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	case int64:
		return time.Unix(t, 0).UTC()
	case json.Number:
		if f, err := t.Float64(); err == nil {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC()
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC()
		}
	}
	return time.Time{}
}

// coerceString renders scalar wire values as strings without decorating
// numbers with exponents.
func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		data, _ := json.Marshal(s)
		return string(data)
	}
}
