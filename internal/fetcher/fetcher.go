// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package fetcher streams data from the Mixpanel APIs into the local
// store. The iterator is never materialized; memory stays bounded by the
// ingestion batch size regardless of total volume.
package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/apiclient"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/config"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/store"
)

// Service moves data from the API client into a storage engine. The
// store handle is borrowed, never a second open of the same file.
type Service struct {
	client   *apiclient.Client
	store    *store.Store
	settings config.FetchSettings
}

// New creates a fetch service over a client and a store.
func New(client *apiclient.Client, st *store.Store, settings config.FetchSettings) *Service {
	if settings.BatchSize == 0 {
		settings = config.Default().Fetch
	}
	return &Service{client: client, store: st, settings: settings}
}

// FetchResult summarizes one completed fetch.
type FetchResult struct {
	Table           string           `json:"table"`
	Rows            int64            `json:"rows"`
	Type            models.TableType `json:"type"`
	DurationSeconds float64          `json:"duration_seconds"`
	FromDate        string           `json:"from_date,omitempty"`
	ToDate          string           `json:"to_date,omitempty"`
	FetchedAt       time.Time        `json:"fetched_at"`
}

// EventOptions scope an events fetch.
type EventOptions struct {
	Table    string // required target table name
	FromDate string // required, YYYY-MM-DD
	ToDate   string // required, YYYY-MM-DD
	Events   []string
	Where    string
	Limit    int

	// Append adds to an existing table instead of creating a new one.
	Append bool

	// BatchSize overrides the configured rows-per-transaction.
	BatchSize int

	// Progress, when set, receives the cumulative row count after each
	// committed batch. It may run on a fetch goroutine.
	Progress func(total int64)
}

func (o EventOptions) export() apiclient.ExportParams {
	return apiclient.ExportParams{
		FromDate: o.FromDate,
		ToDate:   o.ToDate,
		Events:   o.Events,
		Where:    o.Where,
		Limit:    o.Limit,
	}
}

func (o EventOptions) metadata(fetchedAt time.Time) models.TableMetadata {
	return models.TableMetadata{
		TableName:    o.Table,
		Type:         models.TableTypeEvents,
		FetchedAt:    fetchedAt,
		FromDate:     o.FromDate,
		ToDate:       o.ToDate,
		FilterEvents: o.Events,
		FilterWhere:  o.Where,
	}
}

func (o EventOptions) ingest(batchSize int) store.IngestOptions {
	if o.BatchSize != 0 {
		batchSize = o.BatchSize
	}
	return store.IngestOptions{BatchSize: batchSize, Progress: o.Progress}
}

// FetchEvents streams one date range of raw events into the store.
// Committed batches survive cancellation; the in-flight batch does not.
func (s *Service) FetchEvents(ctx context.Context, opts EventOptions) (*FetchResult, error) {
	start := time.Now()
	fetchedAt := start.UTC()

	it, err := s.client.ExportEvents(ctx, opts.export())
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	ingest := opts.ingest(s.settings.BatchSize)
	meta := opts.metadata(fetchedAt)

	var rows int64
	if opts.Append {
		rows, err = s.store.AppendEvents(ctx, opts.Table, it, meta, ingest)
	} else {
		rows, err = s.store.CreateEventsTable(ctx, opts.Table, it, meta, ingest)
	}
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	metrics.RecordFetch("events", rows, duration)
	logging.Info().
		Str("table", opts.Table).
		Int64("rows", rows).
		Str("from_date", opts.FromDate).
		Str("to_date", opts.ToDate).
		Dur("duration", duration).
		Msg("events fetch complete")

	return &FetchResult{
		Table:           opts.Table,
		Rows:            rows,
		Type:            models.TableTypeEvents,
		DurationSeconds: duration.Seconds(),
		FromDate:        opts.FromDate,
		ToDate:          opts.ToDate,
		FetchedAt:       fetchedAt,
	}, nil
}

// ProfileOptions scope a profiles fetch.
type ProfileOptions struct {
	Table  string // required target table name
	Engage apiclient.EngageParams

	Append    bool
	BatchSize int
	Progress  func(total int64)
}

func (o ProfileOptions) metadata(fetchedAt time.Time) models.TableMetadata {
	meta := models.TableMetadata{
		TableName:   o.Table,
		Type:        models.TableTypeProfiles,
		FetchedAt:   fetchedAt,
		FilterWhere: o.Engage.Where,
	}
	if o.Engage.CohortID != 0 {
		meta.FilterCohortID = strconv.FormatInt(o.Engage.CohortID, 10)
	}
	if o.Engage.Behaviors != 0 {
		meta.FilterBehaviors = strconv.FormatInt(o.Engage.Behaviors, 10)
	}
	meta.FilterGroupID = o.Engage.DataGroupID
	return meta
}

// FetchProfiles pages user profiles into the store.
func (s *Service) FetchProfiles(ctx context.Context, opts ProfileOptions) (*FetchResult, error) {
	start := time.Now()
	fetchedAt := start.UTC()

	it, err := s.client.EngageProfiles(ctx, opts.Engage)
	if err != nil {
		return nil, err
	}

	ingest := store.IngestOptions{BatchSize: s.settings.BatchSize, Progress: opts.Progress}
	if opts.BatchSize != 0 {
		ingest.BatchSize = opts.BatchSize
	}
	meta := opts.metadata(fetchedAt)

	var rows int64
	if opts.Append {
		rows, err = s.store.AppendProfiles(ctx, opts.Table, it, meta, ingest)
	} else {
		rows, err = s.store.CreateProfilesTable(ctx, opts.Table, it, meta, ingest)
	}
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	metrics.RecordFetch("profiles", rows, duration)
	logging.Info().
		Str("table", opts.Table).
		Int64("rows", rows).
		Dur("duration", duration).
		Msg("profiles fetch complete")

	return &FetchResult{
		Table:           opts.Table,
		Rows:            rows,
		Type:            models.TableTypeProfiles,
		DurationSeconds: duration.Seconds(),
		FetchedAt:       fetchedAt,
	}, nil
}

// StreamEvents returns the raw event iterator without touching storage.
// The caller owns consumption, cancellation, and Close.
func (s *Service) StreamEvents(ctx context.Context, opts EventOptions) (*apiclient.EventIterator, error) {
	return s.client.ExportEvents(ctx, opts.export())
}

// StreamProfiles returns the profile iterator without touching storage.
func (s *Service) StreamProfiles(ctx context.Context, p apiclient.EngageParams) (*apiclient.ProfileIterator, error) {
	return s.client.EngageProfiles(ctx, p)
}

// String renders a result for log and CLI surfaces.
func (r *FetchResult) String() string {
	return fmt.Sprintf("%s: %d rows in %.1fs", r.Table, r.Rows, r.DurationSeconds)
}
