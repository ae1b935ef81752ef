// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package livequery runs the Mixpanel query families and normalizes their
// wire payloads into the typed records of internal/results. The service
// owns the parameter grammar glue (bare "on" names become
// properties["name"]) and nothing else; filter validation is Mixpanel's.
package livequery

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/apiclient"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/results"
)

// Service answers live analytical queries against the API.
type Service struct {
	client *apiclient.Client
}

// New creates a Service on top of an API client.
func New(client *apiclient.Client) *Service {
	return &Service{client: client}
}

// WrapOn turns a bare property name into the properties["name"] projection
// the segmentation grammar expects. Anything that already looks like an
// expression (brackets, calls, string literals) passes through untouched.
func WrapOn(on string) string {
	if on == "" || strings.ContainsAny(on, `[("`) {
		return on
	}
	return fmt.Sprintf("properties[%q]", on)
}

func decodeError(family string, err error) error {
	return mperr.Wrapf(mperr.CodeQueryFailed, err, "decoding %s response", family)
}

// segmentationWire is the {data:{series,values}} envelope shared by the
// segmentation, numeric-bucket, event-counts, and property-counts
// endpoints.
type segmentationWire struct {
	Data struct {
		Series []string                      `json:"series"`
		Values map[string]map[string]float64 `json:"values"`
	} `json:"data"`
	LegendSize int `json:"legend_size"`
}

func decodeSeries(family string, raw json.RawMessage) (map[string]map[string]float64, error) {
	var wire segmentationWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError(family, err)
	}
	if wire.Data.Values == nil {
		return map[string]map[string]float64{}, nil
	}
	return wire.Data.Values, nil
}

func seriesTotal(series map[string]map[string]float64) float64 {
	var total float64
	for _, byDate := range series {
		for _, v := range byDate {
			total += v
		}
	}
	return total
}

// flatResultsWire is the {results:{date:number}} envelope of the
// segmentation sum and average endpoints.
type flatResultsWire struct {
	Results map[string]float64 `json:"results"`
	Status  string             `json:"status"`
}

func decodeFlatSeries(family string, raw json.RawMessage) (map[string]float64, error) {
	var wire flatResultsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeError(family, err)
	}
	if wire.Results == nil {
		return map[string]float64{}, nil
	}
	return wire.Results, nil
}

// Segmentation counts an event over a date range, optionally split by a
// property. Without an "on" the single wire bucket is relabeled to
// results.OverallSegment.
func (s *Service) Segmentation(ctx context.Context, p apiclient.SegmentationParams) (*results.Segmentation, error) {
	segmentBy := p.On
	p.On = WrapOn(p.On)
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.Segmentation(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := decodeSeries("segmentation", raw)
	if err != nil {
		return nil, err
	}
	if segmentBy == "" {
		series = collapseToOverall(series)
	}

	return &results.Segmentation{
		Event:           p.Event,
		FromDate:        p.FromDate,
		ToDate:          p.ToDate,
		Unit:            p.Unit,
		SegmentProperty: segmentBy,
		Total:           seriesTotal(series),
		Series:          series,
	}, nil
}

// collapseToOverall renames the single un-segmented wire bucket (usually
// keyed by the event name) to the canonical overall key.
func collapseToOverall(series map[string]map[string]float64) map[string]map[string]float64 {
	if len(series) != 1 {
		return series
	}
	for k, v := range series {
		if k == results.OverallSegment {
			return series
		}
		return map[string]map[string]float64{results.OverallSegment: v}
	}
	return series
}

// NumericBucket counts an event bucketed by ranges of a numeric property.
func (s *Service) NumericBucket(ctx context.Context, p apiclient.SegmentationParams) (*results.NumericBucket, error) {
	on := p.On
	p.On = WrapOn(p.On)
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.SegmentationNumeric(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := decodeSeries("numeric segmentation", raw)
	if err != nil {
		return nil, err
	}

	return &results.NumericBucket{
		Event:    p.Event,
		FromDate: p.FromDate,
		ToDate:   p.ToDate,
		Unit:     p.Unit,
		On:       on,
		Type:     "bucket",
		Series:   series,
	}, nil
}

// NumericSum sums a numeric property expression per date.
func (s *Service) NumericSum(ctx context.Context, p apiclient.SegmentationParams) (*results.NumericSum, error) {
	on := p.On
	p.On = WrapOn(p.On)
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.SegmentationSum(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := decodeFlatSeries("segmentation sum", raw)
	if err != nil {
		return nil, err
	}

	return &results.NumericSum{
		Event:    p.Event,
		FromDate: p.FromDate,
		ToDate:   p.ToDate,
		Unit:     p.Unit,
		On:       on,
		Type:     "sum",
		Series:   series,
	}, nil
}

// NumericAverage averages a numeric property expression per date.
func (s *Service) NumericAverage(ctx context.Context, p apiclient.SegmentationParams) (*results.NumericAverage, error) {
	on := p.On
	p.On = WrapOn(p.On)
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.SegmentationAverage(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := decodeFlatSeries("segmentation average", raw)
	if err != nil {
		return nil, err
	}

	return &results.NumericAverage{
		Event:    p.Event,
		FromDate: p.FromDate,
		ToDate:   p.ToDate,
		Unit:     p.Unit,
		On:       on,
		Type:     "average",
		Series:   series,
	}, nil
}

// EventCounts counts several events per date.
func (s *Service) EventCounts(ctx context.Context, p apiclient.EventCountsParams) (*results.EventCounts, error) {
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.EventCounts(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := decodeSeries("event counts", raw)
	if err != nil {
		return nil, err
	}

	return &results.EventCounts{
		Events:   p.Events,
		FromDate: p.FromDate,
		ToDate:   p.ToDate,
		Unit:     p.Unit,
		Series:   series,
	}, nil
}

// PropertyCounts counts one event per date split by the values of a
// property.
func (s *Service) PropertyCounts(ctx context.Context, p apiclient.PropertyCountsParams) (*results.PropertyCounts, error) {
	if p.Unit == "" {
		p.Unit = "day"
	}

	raw, err := s.client.PropertyCounts(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := decodeSeries("property counts", raw)
	if err != nil {
		return nil, err
	}

	return &results.PropertyCounts{
		Event:    p.Event,
		Property: p.Name,
		FromDate: p.FromDate,
		ToDate:   p.ToDate,
		Unit:     p.Unit,
		Series:   series,
	}, nil
}
