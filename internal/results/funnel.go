// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package results

import "sort"

// FunnelStep is one step of a funnel, aggregated over the query's date
// range. ConversionRate is relative to the first step.
type FunnelStep struct {
	Event          string  `json:"event"`
	Count          int64   `json:"count"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Funnel is the result of a saved-funnel query. ConversionRate is the
// overall first-to-last completion in [0, 1].
type Funnel struct {
	FunnelID       int64        `json:"funnel_id"`
	FunnelName     string       `json:"funnel_name,omitempty"`
	FromDate       string       `json:"from_date"`
	ToDate         string       `json:"to_date"`
	ConversionRate float64      `json:"conversion_rate"`
	Steps          []FunnelStep `json:"steps"`

	tab tabCell
}

// Tabular returns {step, event, count, conversion_rate} rows in step
// order.
func (r *Funnel) Tabular() *Table {
	return r.tab.load(func() *Table {
		out := &Table{
			Columns: []string{"step", "event", "count", "conversion_rate"},
			Rows:    make([][]any, 0, len(r.Steps)),
		}
		for i, s := range r.Steps {
			out.Rows = append(out.Rows, []any{i, s.Event, s.Count, s.ConversionRate})
		}
		return out
	})
}

// RetentionCohort is one birth cohort: everyone born on Date, with the
// fraction retained in each subsequent period.
type RetentionCohort struct {
	Date      string    `json:"date"`
	Size      int64     `json:"size"`
	Retention []float64 `json:"retention"`
}

// Retention is the result of a retention query.
type Retention struct {
	BornEvent   string            `json:"born_event"`
	ReturnEvent string            `json:"return_event,omitempty"`
	FromDate    string            `json:"from_date"`
	ToDate      string            `json:"to_date"`
	Unit        string            `json:"unit"`
	Cohorts     []RetentionCohort `json:"cohorts"`

	tab tabCell
}

// Tabular returns one row per cohort, dates ascending, with columns
// {cohort_date, cohort_size, period_0, period_1, ...} padded to the
// longest cohort. Periods a cohort has not reached yet are nil.
func (r *Retention) Tabular() *Table {
	return r.tab.load(func() *Table {
		cohorts := make([]RetentionCohort, len(r.Cohorts))
		copy(cohorts, r.Cohorts)
		sort.Slice(cohorts, func(i, j int) bool { return cohorts[i].Date < cohorts[j].Date })

		periods := 0
		for _, c := range cohorts {
			if len(c.Retention) > periods {
				periods = len(c.Retention)
			}
		}

		cols := []string{"cohort_date", "cohort_size"}
		for i := 0; i < periods; i++ {
			cols = append(cols, periodColumn(i))
		}

		out := &Table{Columns: cols, Rows: make([][]any, 0, len(cohorts))}
		for _, c := range cohorts {
			row := make([]any, 0, len(cols))
			row = append(row, c.Date, c.Size)
			for i := 0; i < periods; i++ {
				if i < len(c.Retention) {
					row = append(row, c.Retention[i])
				} else {
					row = append(row, nil)
				}
			}
			out.Rows = append(out.Rows, row)
		}
		return out
	})
}
