// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package livequery

import (
	"context"
	"sort"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/apiclient"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/results"
)

// funnelWire is the per-day envelope of the saved-funnel endpoint. Step
// counts arrive per date; the record aggregates them over the range.
type funnelWire struct {
	Meta struct {
		Dates []string `json:"dates"`
	} `json:"meta"`
	Data map[string]struct {
		Steps []struct {
			Count            int64   `json:"count"`
			Goal             string  `json:"goal"`
			Event            string  `json:"event"`
			StepConvRatio    float64 `json:"step_conv_ratio"`
			OverallConvRatio float64 `json:"overall_conv_ratio"`
		} `json:"steps"`
	} `json:"data"`
}

// Funnel queries a saved funnel and aggregates the per-day step counts
// into one set of steps with first-step-relative conversion rates.
func (s *Service) Funnel(ctx context.Context, funnelID int64, p apiclient.FunnelParams) (*results.Funnel, error) {
	raw, err := s.client.Funnel(ctx, funnelID, p)
	if err != nil {
		return nil, err
	}
	var wire funnelWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("funnel", err)
	}

	dates := make([]string, 0, len(wire.Data))
	for d := range wire.Data {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var steps []results.FunnelStep
	for _, d := range dates {
		for i, ws := range wire.Data[d].Steps {
			if i >= len(steps) {
				name := ws.Goal
				if name == "" {
					name = ws.Event
				}
				steps = append(steps, results.FunnelStep{Event: name})
			}
			steps[i].Count += ws.Count
		}
	}

	var overall float64
	if len(steps) > 0 && steps[0].Count > 0 {
		first := float64(steps[0].Count)
		for i := range steps {
			steps[i].ConversionRate = float64(steps[i].Count) / first
		}
		overall = float64(steps[len(steps)-1].Count) / first
	}

	return &results.Funnel{
		FunnelID:       funnelID,
		FromDate:       p.FromDate,
		ToDate:         p.ToDate,
		ConversionRate: overall,
		Steps:          steps,
	}, nil
}

// retentionWire is the cohort map of the retention endpoint: birth date
// to {first: cohort size, counts: per-period returning users}.
type retentionWire map[string]struct {
	First  int64   `json:"first"`
	Counts []int64 `json:"counts"`
}

// Retention runs a retention query. Per-period counts are normalized to
// fractions of the cohort size.
func (s *Service) Retention(ctx context.Context, p apiclient.RetentionParams) (*results.Retention, error) {
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.Retention(ctx, p)
	if err != nil {
		return nil, err
	}
	var wire retentionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("retention", err)
	}

	cohorts := make([]results.RetentionCohort, 0, len(wire))
	for date, c := range wire {
		rates := make([]float64, len(c.Counts))
		for i, n := range c.Counts {
			if c.First > 0 {
				rates[i] = float64(n) / float64(c.First)
			}
		}
		cohorts = append(cohorts, results.RetentionCohort{Date: date, Size: c.First, Retention: rates})
	}
	sort.Slice(cohorts, func(i, j int) bool { return cohorts[i].Date < cohorts[j].Date })

	return &results.Retention{
		BornEvent:   p.BornEvent,
		ReturnEvent: p.Event,
		FromDate:    p.FromDate,
		ToDate:      p.ToDate,
		Unit:        p.Unit,
		Cohorts:     cohorts,
	}, nil
}

// frequencyWire is the {data: {date: [per-period counts]}} envelope of
// the addiction endpoint.
type frequencyWire struct {
	Data map[string][]float64 `json:"data"`
}

// Frequency measures how many distinct sub-periods users were active in
// per period.
func (s *Service) Frequency(ctx context.Context, p apiclient.FrequencyParams) (*results.Frequency, error) {
	if p.Unit == "" {
		p.Unit = "week"
	}
	if p.AddictionUnit == "" {
		p.AddictionUnit = "day"
	}
	on := p.On
	p.On = WrapOn(p.On)

	raw, err := s.client.Frequency(ctx, p)
	if err != nil {
		return nil, err
	}
	var wire frequencyWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("frequency", err)
	}
	series := wire.Data
	if series == nil {
		series = map[string][]float64{}
	}

	return &results.Frequency{
		Event:         p.Event,
		FromDate:      p.FromDate,
		ToDate:        p.ToDate,
		Unit:          p.Unit,
		AddictionUnit: p.AddictionUnit,
		On:            on,
		Series:        series,
	}, nil
}

// JQL runs a server-side JQL script and keeps the payload raw; Tabular
// gives the best-effort flat view.
func (s *Service) JQL(ctx context.Context, script string, params map[string]any) (*results.JQL, error) {
	raw, err := s.client.JQL(ctx, script, params)
	if err != nil {
		return nil, err
	}
	return &results.JQL{Script: script, Raw: raw}, nil
}

// insightsWire is the normalized saved-report envelope served by the
// insights endpoint for insights, funnel, and retention bookmarks alike.
type insightsWire struct {
	ComputedAt string `json:"computed_at"`
	DateRange  struct {
		FromDate string `json:"from_date"`
		ToDate   string `json:"to_date"`
	} `json:"date_range"`
	Headers []string        `json:"headers"`
	Series  json.RawMessage `json:"series"`
	Meta    json.RawMessage `json:"meta"`
}

// QuerySavedReport fetches a saved report by bookmark id through the
// insights endpoint, which accepts insights, funnel, and retention
// bookmarks; the record's Kind() tells them apart.
func (s *Service) QuerySavedReport(ctx context.Context, bookmarkID int64) (*results.Insights, error) {
	raw, err := s.client.Insights(ctx, bookmarkID)
	if err != nil {
		return nil, err
	}
	var wire insightsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("insights", err)
	}

	return &results.Insights{
		Headers:    wire.Headers,
		Series:     wire.Series,
		Meta:       wire.Meta,
		ComputedAt: wire.ComputedAt,
		DateRange: results.DateRange{
			FromDate: wire.DateRange.FromDate,
			ToDate:   wire.DateRange.ToDate,
		},
	}, nil
}

// flowsWire is the native arb-funnels flows shape.
type flowsWire struct {
	Steps                 json.RawMessage `json:"steps"`
	Breakdowns            json.RawMessage `json:"breakdowns"`
	OverallConversionRate float64         `json:"overallConversionRate"`
	Metadata              json.RawMessage `json:"metadata"`
	ComputedAt            string          `json:"computed_at"`
}

// QueryFlows fetches a saved flows report from the arb-funnels endpoint.
func (s *Service) QueryFlows(ctx context.Context, bookmarkID int64, queryType apiclient.FlowsQueryType) (*results.Flows, error) {
	raw, err := s.client.Flows(ctx, bookmarkID, queryType)
	if err != nil {
		return nil, err
	}
	var wire flowsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("flows", err)
	}

	return &results.Flows{
		Steps:                 wire.Steps,
		Breakdowns:            wire.Breakdowns,
		OverallConversionRate: wire.OverallConversionRate,
		Metadata:              wire.Metadata,
		ComputedAt:            wire.ComputedAt,
	}, nil
}

// activityWire is the {results: {events: [...]}} stream envelope. Each
// event uses the export shape, so the models decoder hoists time,
// distinct_id, and $insert_id the same way ingestion does.
type activityWire struct {
	Results struct {
		Events []models.Event `json:"events"`
	} `json:"results"`
}

// ActivityFeed returns the merged event stream for specific users,
// ordered by event time ascending.
func (s *Service) ActivityFeed(ctx context.Context, distinctIDs []string, fromDate, toDate string) (*results.ActivityFeed, error) {
	raw, err := s.client.ActivityFeed(ctx, distinctIDs, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	var wire activityWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("activity feed", err)
	}

	events := make([]results.ActivityEvent, 0, len(wire.Results.Events))
	for _, ev := range wire.Results.Events {
		events = append(events, results.ActivityEvent{
			DistinctID: ev.DistinctID,
			EventName:  ev.Name,
			EventTime:  ev.Time,
			Properties: ev.Properties,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].EventTime.Before(events[j].EventTime) })

	return &results.ActivityFeed{DistinctIDs: distinctIDs, Events: events}, nil
}

// topEventsWire is the {events: [...], type} envelope of /events/top.
type topEventsWire struct {
	Events []struct {
		Event         string  `json:"event"`
		Amount        int64   `json:"amount"`
		PercentChange float64 `json:"percent_change"`
	} `json:"events"`
	Type string `json:"type"`
}

// TopEvents returns today's most frequent events in the API's ranking
// order.
func (s *Service) TopEvents(ctx context.Context, eventType string, limit int) (*results.TopEvents, error) {
	raw, err := s.client.TopEvents(ctx, eventType, limit)
	if err != nil {
		return nil, err
	}
	var wire topEventsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError("top events", err)
	}

	events := make([]results.TopEvent, 0, len(wire.Events))
	for _, ev := range wire.Events {
		events = append(events, results.TopEvent{
			Event:         ev.Event,
			Amount:        ev.Amount,
			PercentChange: ev.PercentChange,
		})
	}
	return &results.TopEvents{Type: wire.Type, Events: events}, nil
}
