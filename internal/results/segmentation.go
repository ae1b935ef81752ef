// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package results

import "sort"

// OverallSegment is the bucket key used when a segmentation query ran
// without an "on" property: the whole event collapses into one segment.
const OverallSegment = "$overall"

// Segmentation is the result of a segmentation query. Series maps
// segment -> date -> count.
type Segmentation struct {
	Event           string                        `json:"event"`
	FromDate        string                        `json:"from_date"`
	ToDate          string                        `json:"to_date"`
	Unit            string                        `json:"unit"`
	SegmentProperty string                        `json:"segment_property,omitempty"`
	Total           float64                       `json:"total"`
	Series          map[string]map[string]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, segment, count} rows, dates ascending.
func (r *Segmentation) Tabular() *Table {
	return r.tab.load(func() *Table {
		return seriesTable("date", "segment", "count", r.Series)
	})
}

// EventCounts is the result of an event-counts query. Series maps
// event -> date -> count.
type EventCounts struct {
	Events   []string                      `json:"events"`
	FromDate string                        `json:"from_date"`
	ToDate   string                        `json:"to_date"`
	Unit     string                        `json:"unit"`
	Series   map[string]map[string]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, event, count} rows.
func (r *EventCounts) Tabular() *Table {
	return r.tab.load(func() *Table {
		return seriesTable("date", "event", "count", r.Series)
	})
}

// PropertyCounts is the result of a property-counts query. Series maps
// property value -> date -> count.
type PropertyCounts struct {
	Event    string                        `json:"event"`
	Property string                        `json:"property"`
	FromDate string                        `json:"from_date"`
	ToDate   string                        `json:"to_date"`
	Unit     string                        `json:"unit"`
	Series   map[string]map[string]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, value, count} rows.
func (r *PropertyCounts) Tabular() *Table {
	return r.tab.load(func() *Table {
		return seriesTable("date", "value", "count", r.Series)
	})
}

// NumericBucket is the result of a numeric segmentation query: event
// counts bucketed by ranges of a numeric property. Series maps
// bucket -> date -> count.
type NumericBucket struct {
	Event    string                        `json:"event"`
	FromDate string                        `json:"from_date"`
	ToDate   string                        `json:"to_date"`
	Unit     string                        `json:"unit"`
	On       string                        `json:"on"`
	Type     string                        `json:"type"`
	Series   map[string]map[string]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, bucket, count} rows.
func (r *NumericBucket) Tabular() *Table {
	return r.tab.load(func() *Table {
		return seriesTable("date", "bucket", "count", r.Series)
	})
}

// NumericSum is the result of a segmentation sum query. Series maps
// date -> sum of the numeric expression.
type NumericSum struct {
	Event    string             `json:"event"`
	FromDate string             `json:"from_date"`
	ToDate   string             `json:"to_date"`
	Unit     string             `json:"unit"`
	On       string             `json:"on"`
	Type     string             `json:"type"`
	Series   map[string]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, sum} rows.
func (r *NumericSum) Tabular() *Table {
	return r.tab.load(func() *Table {
		return flatSeriesTable("date", "sum", r.Series)
	})
}

// NumericAverage is the result of a segmentation average query. Series
// maps date -> average of the numeric expression.
type NumericAverage struct {
	Event    string             `json:"event"`
	FromDate string             `json:"from_date"`
	ToDate   string             `json:"to_date"`
	Unit     string             `json:"unit"`
	On       string             `json:"on"`
	Type     string             `json:"type"`
	Series   map[string]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, average} rows.
func (r *NumericAverage) Tabular() *Table {
	return r.tab.load(func() *Table {
		return flatSeriesTable("date", "average", r.Series)
	})
}

// Frequency is the result of an addiction (frequency) query. Series maps
// date -> per-period counts: Series["2024-01-01"][2] is how many users
// were active in 2 distinct sub-periods.
type Frequency struct {
	Event         string               `json:"event,omitempty"`
	FromDate      string               `json:"from_date"`
	ToDate        string               `json:"to_date"`
	Unit          string               `json:"unit"`
	AddictionUnit string               `json:"addiction_unit"`
	On            string               `json:"on,omitempty"`
	Series        map[string][]float64 `json:"series"`

	tab tabCell
}

// Tabular returns {date, period, count} rows, dates ascending and periods
// in positional order.
func (r *Frequency) Tabular() *Table {
	return r.tab.load(func() *Table {
		dates := make([]string, 0, len(r.Series))
		for d := range r.Series {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		out := &Table{Columns: []string{"date", "period", "count"}, Rows: [][]any{}}
		for _, d := range dates {
			for i, v := range r.Series[d] {
				out.Rows = append(out.Rows, []any{d, i, v})
			}
		}
		return out
	})
}
