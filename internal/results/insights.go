// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package results

import "github.com/goccy/go-json"

// ReportKind discriminates what a saved report served by the insights
// endpoint actually is. The endpoint unifies insights, retention, and
// funnel bookmarks behind one payload shape; the headers tell them apart.
type ReportKind string

// Report kinds.
const (
	KindInsights  ReportKind = "insights"
	KindRetention ReportKind = "retention"
	KindFunnel    ReportKind = "funnels"
)

// DateRange is the resolved date window of a saved report.
type DateRange struct {
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
}

// Insights is the result of a saved report queried through the insights
// endpoint. Series and Meta stay in wire form; their nesting depends on
// the report kind and breakdown depth.
type Insights struct {
	Headers    []string        `json:"headers"`
	Series     json.RawMessage `json:"series,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	ComputedAt string          `json:"computed_at,omitempty"`
	DateRange  DateRange       `json:"date_range"`

	tab tabCell
}

// Kind inspects the headers discriminator.
func (r *Insights) Kind() ReportKind {
	for _, h := range r.Headers {
		switch h {
		case "$retention":
			return KindRetention
		case "$funnel_step", "$funnel":
			return KindFunnel
		}
	}
	return KindInsights
}

// Tabular returns a best-effort flattening of the series payload.
func (r *Insights) Tabular() *Table {
	return r.tab.load(func() *Table { return jsonTable(r.Series) })
}

// Flows is the result of a flows query against the arb-funnels endpoint.
// The step and breakdown payloads stay in wire form.
type Flows struct {
	Steps                 json.RawMessage `json:"steps,omitempty"`
	Breakdowns            json.RawMessage `json:"breakdowns,omitempty"`
	OverallConversionRate float64         `json:"overall_conversion_rate"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
	ComputedAt            string          `json:"computed_at,omitempty"`

	tab tabCell
}

// Tabular returns a best-effort flattening of the steps payload.
func (r *Flows) Tabular() *Table {
	return r.tab.load(func() *Table { return jsonTable(r.Steps) })
}

// JQL is the raw result of a JQL script run.
type JQL struct {
	Script string          `json:"script"`
	Raw    json.RawMessage `json:"raw"`

	tab tabCell
}

// Tabular returns a best-effort view: an array of homogeneous objects
// becomes proper columns, anything else degrades to value rows.
func (r *JQL) Tabular() *Table {
	return r.tab.load(func() *Table { return jsonTable(r.Raw) })
}
