// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// Batch size bounds for ingestion. The transaction scope is one batch, so
// the upper bound caps both memory and rollback cost.
const (
	DefaultBatchSize = 1000
	MinBatchSize     = 100
	MaxBatchSize     = 100000
)

// EventSource yields events one at a time, typically straight off the
// export wire.
type EventSource interface {
	Next() bool
	Event() models.Event
	Err() error
}

// ProfileSource yields profiles one at a time.
type ProfileSource interface {
	Next() bool
	Profile() models.Profile
	Err() error
}

// IngestOptions tune a create or append call.
type IngestOptions struct {
	// BatchSize is rows per transaction. Zero means DefaultBatchSize;
	// non-zero values outside [MinBatchSize, MaxBatchSize] are rejected.
	BatchSize int

	// Progress, when set, is called after each committed batch with the
	// cumulative count of records consumed from the source.
	Progress func(total int64)
}

func (o IngestOptions) batchSize() (int, error) {
	if o.BatchSize == 0 {
		return DefaultBatchSize, nil
	}
	if o.BatchSize < MinBatchSize || o.BatchSize > MaxBatchSize {
		return 0, mperr.Newf(mperr.CodeValidationError,
			"batch size %d outside [%d, %d]", o.BatchSize, MinBatchSize, MaxBatchSize).
			WithDetail("batch_size", o.BatchSize)
	}
	return o.BatchSize, nil
}

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// validateTableName rejects identifiers that cannot be quoted safely and
// names reserved for the engine.
func validateTableName(name string) error {
	if strings.HasPrefix(name, "_") {
		return mperr.Newf(mperr.CodeValidationError,
			"table name %q is reserved; names starting with _ belong to the engine", name)
	}
	if !identRe.MatchString(name) {
		return mperr.Newf(mperr.CodeValidationError,
			"table name %q must match [A-Za-z][A-Za-z0-9_]*", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// CreateEventsTable creates a new events table and drains src into it.
// Returns the number of rows inserted (dedup by insert_id).
func (s *Store) CreateEventsTable(ctx context.Context, name string, src EventSource, meta models.TableMetadata, opts IngestOptions) (int64, error) {
	if err := s.prepareCreate(ctx, name, opts, fmt.Sprintf(`CREATE TABLE %s (
		event_name  VARCHAR NOT NULL,
		event_time  TIMESTAMP NOT NULL,
		distinct_id VARCHAR NOT NULL,
		insert_id   VARCHAR PRIMARY KEY,
		properties  JSON
	)`, quoteIdent(name))); err != nil {
		return 0, err
	}
	meta.TableName = name
	meta.Type = models.TableTypeEvents
	return s.ingestEvents(ctx, name, src, meta, opts)
}

// AppendEvents appends to an existing events table with insert-if-absent
// semantics keyed by insert_id. Returns the number of rows added.
func (s *Store) AppendEvents(ctx context.Context, name string, src EventSource, meta models.TableMetadata, opts IngestOptions) (int64, error) {
	if err := s.prepareAppend(ctx, name, opts); err != nil {
		return 0, err
	}
	meta.TableName = name
	meta.Type = models.TableTypeEvents
	return s.ingestEvents(ctx, name, src, meta, opts)
}

// CreateProfilesTable creates a new profiles table and drains src into it.
func (s *Store) CreateProfilesTable(ctx context.Context, name string, src ProfileSource, meta models.TableMetadata, opts IngestOptions) (int64, error) {
	if err := s.prepareCreate(ctx, name, opts, fmt.Sprintf(`CREATE TABLE %s (
		distinct_id VARCHAR PRIMARY KEY,
		properties  JSON,
		last_seen   TIMESTAMP
	)`, quoteIdent(name))); err != nil {
		return 0, err
	}
	meta.TableName = name
	meta.Type = models.TableTypeProfiles
	return s.ingestProfiles(ctx, name, src, meta, opts)
}

// AppendProfiles appends to an existing profiles table with
// insert-if-absent semantics keyed by distinct_id.
func (s *Store) AppendProfiles(ctx context.Context, name string, src ProfileSource, meta models.TableMetadata, opts IngestOptions) (int64, error) {
	if err := s.prepareAppend(ctx, name, opts); err != nil {
		return 0, err
	}
	meta.TableName = name
	meta.Type = models.TableTypeProfiles
	return s.ingestProfiles(ctx, name, src, meta, opts)
}

// prepareCreate validates the name and options, enforces
// no-implicit-overwrite, and creates the table. Validation runs before the
// DDL so a rejected call leaves nothing behind.
func (s *Store) prepareCreate(ctx context.Context, name string, opts IngestOptions, ddl string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	if _, err := opts.batchSize(); err != nil {
		return err
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return mperr.Newf(mperr.CodeTableExists,
			"table %q already exists; drop it first or use append", name).
			WithDetail("table", name)
	}
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "creating table %q", name)
	}
	return nil
}

func (s *Store) prepareAppend(ctx context.Context, name string, opts IngestOptions) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	if _, err := opts.batchSize(); err != nil {
		return err
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return mperr.Newf(mperr.CodeTableNotFound,
			"table %q does not exist; create it first", name).
			WithDetail("table", name)
	}
	return nil
}

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`,
		name).Scan(&n)
	if err != nil {
		return false, mperr.Wrapf(mperr.CodeQueryFailed, err, "checking table %q", name)
	}
	return n > 0, nil
}

func (s *Store) ingestEvents(ctx context.Context, name string, src EventSource, meta models.TableMetadata, opts IngestOptions) (int64, error) {
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (event_name, event_time, distinct_id, insert_id, properties)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`, quoteIdent(name))

	next := func() ([]any, bool, error) {
		if !src.Next() {
			return nil, false, src.Err()
		}
		ev := src.Event()
		props, err := ev.PropertiesJSON()
		if err != nil {
			return nil, true, err
		}
		return []any{ev.Name, ev.Time.UTC(), ev.DistinctID, ev.InsertID, props}, true, nil
	}

	return s.ingest(ctx, name, insertSQL, string(models.TableTypeEvents), next, meta, opts)
}

func (s *Store) ingestProfiles(ctx context.Context, name string, src ProfileSource, meta models.TableMetadata, opts IngestOptions) (int64, error) {
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (distinct_id, properties, last_seen)
		 VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, quoteIdent(name))

	next := func() ([]any, bool, error) {
		if !src.Next() {
			return nil, false, src.Err()
		}
		p := src.Profile()
		props, err := p.PropertiesJSON()
		if err != nil {
			return nil, true, err
		}
		var lastSeen any
		if p.LastSeen != nil {
			lastSeen = p.LastSeen.UTC()
		}
		return []any{p.DistinctID, props, lastSeen}, true, nil
	}

	return s.ingest(ctx, name, insertSQL, string(models.TableTypeProfiles), next, meta, opts)
}

// ingest drains a source in per-batch transactions. Each batch is read
// off the source before the write lock is taken; the source side is
// network-bound, so holding writeMu across it would serialize concurrent
// ingests into unrelated tables. Committed batches survive cancellation;
// only the in-flight batch is lost. The metadata row is upserted even on
// failure so row_count reflects what landed.
func (s *Store) ingest(
	ctx context.Context,
	name, insertSQL, tableType string,
	next func() ([]any, bool, error),
	meta models.TableMetadata,
	opts IngestOptions,
) (int64, error) {
	batchSize, err := opts.batchSize()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var consumed, inserted int64
	exhausted := false

	var ingestErr error
	for !exhausted && ingestErr == nil {
		if err := ctx.Err(); err != nil {
			ingestErr = err
			break
		}

		batch := make([][]any, 0, batchSize)
		for len(batch) < batchSize {
			row, ok, err := next()
			if err != nil {
				if ok {
					// Source yielded a record the store cannot encode.
					err = mperr.Wrap(mperr.CodeQueryFailed, "encoding row", err)
				}
				ingestErr = err
				break
			}
			if !ok {
				exhausted = true
				break
			}
			batch = append(batch, row)
		}
		if ingestErr != nil || len(batch) == 0 {
			break
		}

		s.writeMu.Lock()
		batchInserted, err := s.ingestBatch(ctx, insertSQL, batch)
		s.writeMu.Unlock()
		if err != nil {
			ingestErr = err
			break
		}
		consumed += int64(len(batch))
		inserted += batchInserted

		metrics.RecordIngestBatch(tableType, int(batchInserted), len(batch)-int(batchInserted))
		if opts.Progress != nil {
			opts.Progress(consumed)
		}
	}

	// Metadata reflects committed rows regardless of how ingestion ended.
	s.writeMu.Lock()
	mdErr := s.upsertMetadata(context.WithoutCancel(ctx), name, meta)
	s.writeMu.Unlock()
	if mdErr != nil {
		if ingestErr == nil {
			ingestErr = mdErr
		} else {
			logging.Warn().Err(mdErr).Str("table", name).Msg("metadata upsert after failed ingest")
		}
	}

	logging.Debug().
		Str("table", name).
		Int64("consumed", consumed).
		Int64("inserted", inserted).
		Dur("elapsed", time.Since(start)).
		Bool("complete", exhausted && ingestErr == nil).
		Msg("ingest finished")

	return inserted, ingestErr
}

// ingestBatch runs one transaction over pre-read rows. The caller holds
// the write lock.
func (s *Store) ingestBatch(ctx context.Context, insertSQL string, rows [][]any) (inserted int64, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, mperr.Wrap(mperr.CodeQueryFailed, "beginning ingest transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("ingest rollback failed")
			}
			inserted = 0
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, mperr.Wrap(mperr.CodeQueryFailed, "preparing ingest statement", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("closing ingest statement")
		}
	}()

	for _, row := range rows {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return 0, err
		}
		res, execErr := stmt.ExecContext(ctx, row...)
		if execErr != nil {
			err = mperr.Wrap(mperr.CodeQueryFailed, "inserting row", execErr)
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err = tx.Commit(); err != nil {
		err = mperr.Wrap(mperr.CodeQueryFailed, "committing ingest batch", err)
		return 0, err
	}
	return inserted, nil
}

// upsertMetadata writes the provenance row, widening the date range and
// refreshing row_count from the table itself.
func (s *Store) upsertMetadata(ctx context.Context, name string, meta models.TableMetadata) error {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var rowCount int64
	if err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM `+quoteIdent(name)).Scan(&rowCount); err != nil {
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "counting rows in %q", name)
	}
	meta.RowCount = rowCount
	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = time.Now().UTC()
	}

	if existing, err := s.GetMetadata(ctx, name); err == nil {
		meta.FromDate = minDate(existing.FromDate, meta.FromDate)
		meta.ToDate = maxDate(existing.ToDate, meta.ToDate)
	} else if !mperr.IsCode(err, mperr.CodeTableNotFound) {
		return err
	}

	filterEvents, err := encodeFilterEvents(meta.FilterEvents)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, `INSERT INTO `+metadataTable+` (
		table_name, type, fetched_at, from_date, to_date,
		filter_events, filter_where, filter_cohort_id, filter_group_id, filter_behaviors,
		row_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (table_name) DO UPDATE SET
		type = excluded.type,
		fetched_at = excluded.fetched_at,
		from_date = excluded.from_date,
		to_date = excluded.to_date,
		filter_events = excluded.filter_events,
		filter_where = excluded.filter_where,
		filter_cohort_id = excluded.filter_cohort_id,
		filter_group_id = excluded.filter_group_id,
		filter_behaviors = excluded.filter_behaviors,
		row_count = excluded.row_count`,
		meta.TableName, string(meta.Type), meta.FetchedAt.UTC(), nullIfEmpty(meta.FromDate), nullIfEmpty(meta.ToDate),
		nullIfEmpty(filterEvents), nullIfEmpty(meta.FilterWhere), nullIfEmpty(meta.FilterCohortID),
		nullIfEmpty(meta.FilterGroupID), nullIfEmpty(meta.FilterBehaviors),
		meta.RowCount)
	if err != nil {
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "upserting metadata for %q", name)
	}
	return nil
}

func encodeFilterEvents(events []string) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", mperr.Wrap(mperr.CodeQueryFailed, "encoding filter_events", err)
	}
	return string(data), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// minDate and maxDate widen a YYYY-MM-DD range; empty operands lose.
func minDate(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || a < b {
		return a
	}
	return b
}

func maxDate(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || a > b {
		return a
	}
	return b
}
