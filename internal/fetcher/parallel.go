// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package fetcher

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/store"
)

// ChunkResult is the outcome of one date-range chunk of a parallel
// fetch. A failed chunk carries its error message so the exact range can
// be retried; the dedup key makes re-fetching overlap safe.
type ChunkResult struct {
	ID       string `json:"id"`
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
	Rows     int64  `json:"rows"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the chunk did not complete.
func (c ChunkResult) Failed() bool { return c.Error != "" }

// ParallelFetchResult summarizes a chunked events fetch. Chunks are
// ordered by date range regardless of completion order.
type ParallelFetchResult struct {
	Table           string           `json:"table"`
	Rows            int64            `json:"rows"`
	Type            models.TableType `json:"type"`
	DurationSeconds float64          `json:"duration_seconds"`
	FromDate        string           `json:"from_date"`
	ToDate          string           `json:"to_date"`
	FetchedAt       time.Time        `json:"fetched_at"`
	Chunks          []ChunkResult    `json:"chunks"`
}

// FailedChunks returns the chunks that need a retry.
func (r *ParallelFetchResult) FailedChunks() []ChunkResult {
	var failed []ChunkResult
	for _, c := range r.Chunks {
		if c.Failed() {
			failed = append(failed, c)
		}
	}
	return failed
}

// ParallelOptions scope a chunked events fetch.
type ParallelOptions struct {
	EventOptions

	// ChunkDays is the span of each chunk; zero means the configured
	// default.
	ChunkDays int

	// MaxWorkers bounds concurrent chunk fetches; zero means the
	// configured default.
	MaxWorkers int
}

// dateChunk is one contiguous inclusive span of the requested range.
type dateChunk struct {
	from, to string
}

// chunkRange splits [from, to] into contiguous inclusive spans of at
// most days each.
func chunkRange(from, to string, days int) ([]dateChunk, error) {
	const layout = "2006-01-02"
	start, err := time.Parse(layout, from)
	if err != nil {
		return nil, mperr.Newf(mperr.CodeValidationError, "from_date %q is not a YYYY-MM-DD date", from)
	}
	end, err := time.Parse(layout, to)
	if err != nil {
		return nil, mperr.Newf(mperr.CodeValidationError, "to_date %q is not a YYYY-MM-DD date", to)
	}
	if end.Before(start) {
		return nil, mperr.Newf(mperr.CodeValidationError, "from_date %s is after to_date %s", from, to)
	}

	var chunks []dateChunk
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, days) {
		last := cur.AddDate(0, 0, days-1)
		if last.After(end) {
			last = end
		}
		chunks = append(chunks, dateChunk{from: cur.Format(layout), to: last.Format(layout)})
	}
	return chunks, nil
}

// emptyEvents is the zero-row source used to materialize the target
// table before chunks start appending into it.
type emptyEvents struct{}

func (emptyEvents) Next() bool          { return false }
func (emptyEvents) Event() models.Event { return models.Event{} }
func (emptyEvents) Err() error          { return nil }

// FetchEventsParallel fetches a date range as concurrent chunks merged
// into one table through the append/dedup path. The table is created (or
// verified, for append) before any chunk runs, so every chunk appends
// and inter-chunk ordering is irrelevant. Chunk failures do not abort
// the rest; they come back in the result for retry. Cancellation stops
// outstanding chunks and keeps committed ones.
func (s *Service) FetchEventsParallel(ctx context.Context, opts ParallelOptions) (*ParallelFetchResult, error) {
	start := time.Now()
	fetchedAt := start.UTC()

	chunkDays := opts.ChunkDays
	if chunkDays <= 0 {
		chunkDays = s.settings.ChunkDays
	}
	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = s.settings.MaxWorkers
	}

	chunks, err := chunkRange(opts.FromDate, opts.ToDate, chunkDays)
	if err != nil {
		return nil, err
	}

	// Materialize the table up front; after this every chunk appends.
	meta := opts.metadata(fetchedAt)
	if opts.Append {
		if _, err := s.store.AppendEvents(ctx, opts.Table, emptyEvents{}, meta, store.IngestOptions{}); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.store.CreateEventsTable(ctx, opts.Table, emptyEvents{}, meta, store.IngestOptions{}); err != nil {
			return nil, err
		}
	}

	var totalRows atomic.Int64
	var mu sync.Mutex
	outcomes := make([]ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, ch := range chunks {
		g.Go(func() error {
			outcome := ChunkResult{ID: uuid.NewString(), FromDate: ch.from, ToDate: ch.to}

			chunkOpts := opts.EventOptions
			chunkOpts.FromDate = ch.from
			chunkOpts.ToDate = ch.to
			chunkOpts.Append = true
			chunkOpts.Progress = nil
			if opts.Progress != nil {
				var prev int64
				chunkOpts.Progress = func(n int64) {
					opts.Progress(totalRows.Add(n - prev))
					prev = n
				}
			}

			res, err := s.FetchEvents(gctx, chunkOpts)
			if err != nil {
				outcome.Error = err.Error()
				metrics.RecordFetchChunk(true)
				logging.Warn().
					Str("table", opts.Table).
					Str("from_date", ch.from).
					Str("to_date", ch.to).
					Err(err).
					Msg("fetch chunk failed")
			} else {
				outcome.Rows = res.Rows
				metrics.RecordFetchChunk(false)
			}

			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()

			// Chunk failures are reported, not fatal; only cancellation
			// stops the group.
			return gctx.Err()
		})
	}
	groupErr := g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].FromDate < outcomes[j].FromDate })

	var rows int64
	for _, o := range outcomes {
		rows += o.Rows
	}

	result := &ParallelFetchResult{
		Table:           opts.Table,
		Rows:            rows,
		Type:            models.TableTypeEvents,
		DurationSeconds: time.Since(start).Seconds(),
		FromDate:        opts.FromDate,
		ToDate:          opts.ToDate,
		FetchedAt:       fetchedAt,
		Chunks:          outcomes,
	}
	if groupErr != nil {
		// Committed chunks remain in the table; surface the cancellation.
		return result, groupErr
	}
	return result, nil
}
