// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package results

import (
	"time"

	"github.com/goccy/go-json"
)

// ActivityEvent is one event from a user's activity stream.
type ActivityEvent struct {
	DistinctID string         `json:"distinct_id"`
	EventName  string         `json:"event_name"`
	EventTime  time.Time      `json:"event_time"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ActivityFeed is the merged activity stream of one or more users,
// ordered by event time ascending.
type ActivityFeed struct {
	DistinctIDs []string        `json:"distinct_ids"`
	Events      []ActivityEvent `json:"events"`

	tab tabCell
}

// Tabular returns {event_time, distinct_id, event, properties} rows in
// feed order. Properties render as a JSON string so the row stays flat.
func (r *ActivityFeed) Tabular() *Table {
	return r.tab.load(func() *Table {
		out := &Table{
			Columns: []string{"event_time", "distinct_id", "event", "properties"},
			Rows:    make([][]any, 0, len(r.Events)),
		}
		for _, ev := range r.Events {
			var props string
			if len(ev.Properties) > 0 {
				if data, err := json.Marshal(ev.Properties); err == nil {
					props = string(data)
				}
			}
			out.Rows = append(out.Rows, []any{
				ev.EventTime.UTC().Format(time.RFC3339), ev.DistinctID, ev.EventName, props,
			})
		}
		return out
	})
}

// TopEvent is one entry of a today's-top-events listing.
type TopEvent struct {
	Event         string  `json:"event"`
	Amount        int64   `json:"amount"`
	PercentChange float64 `json:"percent_change"`
}

// TopEvents is the result of a top-events query, in the order the API
// ranked them.
type TopEvents struct {
	Type   string     `json:"type,omitempty"`
	Events []TopEvent `json:"events"`

	tab tabCell
}

// Tabular returns {event, amount, percent_change} rows.
func (r *TopEvents) Tabular() *Table {
	return r.tab.load(func() *Table {
		out := &Table{
			Columns: []string{"event", "amount", "percent_change"},
			Rows:    make([][]any, 0, len(r.Events)),
		}
		for _, ev := range r.Events {
			out.Rows = append(out.Rows, []any{ev.Event, ev.Amount, ev.PercentChange})
		}
		return out
	})
}
