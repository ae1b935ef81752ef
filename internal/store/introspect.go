// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// TableInfo is one entry of the external table listing.
type TableInfo struct {
	Name      string           `json:"name"`
	Type      models.TableType `json:"type"`
	RowCount  int64            `json:"row_count"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// ColumnSchema is one ordered column of a table schema.
type ColumnSchema struct {
	Name     string `json:"column"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ListTables returns user tables only; the reserved metadata table and
// anything else underscore-prefixed stays hidden.
func (s *Store) ListTables(ctx context.Context) ([]TableInfo, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'main' AND table_type = 'BASE TABLE'
		  AND table_name NOT LIKE '\_%' ESCAPE '\'
		ORDER BY table_name`)
	if err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "listing tables", err)
	}
	defer closeQuietly(rows)

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mperr.Wrap(mperr.CodeQueryFailed, "listing tables", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "listing tables", err)
	}

	out := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info := TableInfo{Name: name}
		meta, err := s.GetMetadata(ctx, name)
		switch {
		case err == nil:
			info.Type = meta.Type
			info.RowCount = meta.RowCount
			info.FetchedAt = meta.FetchedAt
		case mperr.IsCode(err, mperr.CodeTableNotFound):
			// Table created outside the ingest path; count it directly.
			if err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM `+quoteIdent(name)).Scan(&info.RowCount); err != nil {
				return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "counting rows in %q", name)
			}
		default:
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// GetSchema returns the ordered column layout of a table.
func (s *Store) GetSchema(ctx context.Context, name string) ([]ColumnSchema, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "reading schema of %q", name)
	}
	defer closeQuietly(rows)

	var out []ColumnSchema
	for rows.Next() {
		var col ColumnSchema
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "reading schema of %q", name)
		}
		col.Nullable = nullable == "YES"
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "reading schema of %q", name)
	}
	if len(out) == 0 {
		return nil, tableNotFound(name)
	}
	return out, nil
}

// GetMetadata returns the stored provenance row for a table.
func (s *Store) GetMetadata(ctx context.Context, name string) (*models.TableMetadata, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	row := s.conn.QueryRowContext(ctx, `
		SELECT table_name, type, fetched_at, from_date, to_date,
		       filter_events, filter_where, filter_cohort_id, filter_group_id, filter_behaviors,
		       row_count
		FROM `+metadataTable+` WHERE table_name = ?`, name)

	var meta models.TableMetadata
	var typ string
	var fromDate, toDate, filterEvents, filterWhere, cohortID, groupID, behaviors sql.NullString
	err := row.Scan(&meta.TableName, &typ, &meta.FetchedAt, &fromDate, &toDate,
		&filterEvents, &filterWhere, &cohortID, &groupID, &behaviors, &meta.RowCount)
	if err == sql.ErrNoRows {
		return nil, tableNotFound(name)
	}
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "reading metadata of %q", name)
	}

	meta.Type = models.TableType(typ)
	meta.FromDate = fromDate.String
	meta.ToDate = toDate.String
	meta.FilterWhere = filterWhere.String
	meta.FilterCohortID = cohortID.String
	meta.FilterGroupID = groupID.String
	meta.FilterBehaviors = behaviors.String
	if filterEvents.Valid && filterEvents.String != "" {
		if err := json.Unmarshal([]byte(filterEvents.String), &meta.FilterEvents); err != nil {
			return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "decoding filter_events of %q", name)
		}
	}
	return &meta, nil
}

// Sample returns up to n rows drawn with reservoir sampling, so large
// tables do not bias toward the insertion prefix. An empty table yields
// zero rows.
func (s *Store) Sample(ctx context.Context, name string, n int) (*Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, mperr.Newf(mperr.CodeValidationError, "sample size must be positive, got %d", n)
	}
	if err := s.requireTable(ctx, name); err != nil {
		return nil, err
	}
	return s.Query(ctx, fmt.Sprintf(`SELECT * FROM %s USING SAMPLE reservoir(%d ROWS)`, quoteIdent(name), n))
}

// ColumnSummary is one column of a table summary. Quartile fields are
// set for numeric columns only.
type ColumnSummary struct {
	Column       string   `json:"column"`
	Type         string   `json:"type"`
	Min          string   `json:"min,omitempty"`
	Max          string   `json:"max,omitempty"`
	ApproxUnique int64    `json:"approx_unique"`
	Mean         *float64 `json:"mean,omitempty"`
	Std          *float64 `json:"std,omitempty"`
	Q25          *float64 `json:"q25,omitempty"`
	Q50          *float64 `json:"q50,omitempty"`
	Q75          *float64 `json:"q75,omitempty"`
	Count        int64    `json:"count"`
	NullPct      float64  `json:"null_pct"`
}

// TableSummary is the per-column statistical profile of a table.
type TableSummary struct {
	Table    string          `json:"table"`
	RowCount int64           `json:"row_count"`
	Columns  []ColumnSummary `json:"columns"`
}

// Summarize profiles every column of a table.
func (s *Store) Summarize(ctx context.Context, name string) (*TableSummary, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if err := s.requireTable(ctx, name); err != nil {
		return nil, err
	}

	rs, err := s.QueryRows(ctx, `SUMMARIZE `+quoteIdent(name))
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(rs.Columns))
	for i, c := range rs.Columns {
		idx[c] = i
	}
	at := func(row []any, col string) any {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	out := &TableSummary{Table: name, Columns: make([]ColumnSummary, 0, len(rs.Rows))}
	for _, row := range rs.Rows {
		col := ColumnSummary{
			Column:       coerceText(at(row, "column_name")),
			Type:         coerceText(at(row, "column_type")),
			Min:          coerceText(at(row, "min")),
			Max:          coerceText(at(row, "max")),
			ApproxUnique: coerceInt(at(row, "approx_unique")),
			Mean:         coerceFloatPtr(at(row, "avg")),
			Std:          coerceFloatPtr(at(row, "std")),
			Q25:          coerceFloatPtr(at(row, "q25")),
			Q50:          coerceFloatPtr(at(row, "q50")),
			Q75:          coerceFloatPtr(at(row, "q75")),
			Count:        coerceInt(at(row, "count")),
			NullPct:      coerceFloat(at(row, "null_percentage")),
		}
		out.Columns = append(out.Columns, col)
		if col.Count > out.RowCount {
			out.RowCount = col.Count
		}
	}
	return out, nil
}

// EventStat is the per-event slice of an event breakdown.
type EventStat struct {
	Event       string    `json:"event"`
	Count       int64     `json:"count"`
	UniqueUsers int64     `json:"unique_users"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	PctOfTotal  float64   `json:"pct_of_total"`
}

// EventBreakdown profiles an events table by event name.
type EventBreakdown struct {
	Table       string      `json:"table"`
	TotalEvents int64       `json:"total_events"`
	UniqueUsers int64       `json:"unique_users"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	Events      []EventStat `json:"events"`
}

// BreakdownEvents summarizes an events-shaped table per event name,
// sorted by count descending.
func (s *Store) BreakdownEvents(ctx context.Context, name string) (*EventBreakdown, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if err := s.requireColumns(ctx, name, "event_name", "event_time", "distinct_id"); err != nil {
		return nil, err
	}

	q := quoteIdent(name)
	out := &EventBreakdown{Table: name, Events: []EventStat{}}

	var first, last sql.NullTime
	err := s.conn.QueryRowContext(ctx, `
		SELECT count(*), count(DISTINCT distinct_id), min(event_time), max(event_time) FROM `+q).
		Scan(&out.TotalEvents, &out.UniqueUsers, &first, &last)
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "profiling %q", name)
	}
	out.FirstSeen = first.Time
	out.LastSeen = last.Time

	rows, err := s.conn.QueryContext(ctx, `
		SELECT event_name, count(*) AS cnt, count(DISTINCT distinct_id),
		       min(event_time), max(event_time)
		FROM `+q+`
		GROUP BY event_name
		ORDER BY cnt DESC, event_name ASC`)
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "profiling %q", name)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var st EventStat
		if err := rows.Scan(&st.Event, &st.Count, &st.UniqueUsers, &st.FirstSeen, &st.LastSeen); err != nil {
			return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "profiling %q", name)
		}
		if out.TotalEvents > 0 {
			st.PctOfTotal = float64(st.Count) * 100 / float64(out.TotalEvents)
		}
		out.Events = append(out.Events, st)
	}
	if err := rows.Err(); err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "profiling %q", name)
	}
	return out, nil
}

// PropertyKeys returns the sorted distinct top-level JSON keys of the
// properties column, optionally scoped to one event name.
func (s *Store) PropertyKeys(ctx context.Context, name, event string) ([]string, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	required := []string{"properties"}
	if event != "" {
		required = append(required, "event_name")
	}
	if err := s.requireColumns(ctx, name, required...); err != nil {
		return nil, err
	}

	query := `SELECT DISTINCT unnest(json_keys(properties)) AS key FROM ` + quoteIdent(name) +
		` WHERE properties IS NOT NULL`
	args := []any{}
	if event != "" {
		query += ` AND event_name = ?`
		args = append(args, event)
	}
	query += ` ORDER BY key`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "listing property keys of %q", name)
	}
	defer closeQuietly(rows)

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "listing property keys of %q", name)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, mperr.Wrapf(mperr.CodeQueryFailed, err, "listing property keys of %q", name)
	}
	return keys, nil
}

// ValueCount pairs a column value with its frequency.
type ValueCount struct {
	Value any   `json:"value"`
	Count int64 `json:"count"`
}

// ColumnStats profiles one column expression. Numeric aggregate fields
// are set only when values cast to numbers.
type ColumnStats struct {
	Table       string       `json:"table"`
	Column      string       `json:"column"`
	Count       int64        `json:"count"`
	NullCount   int64        `json:"null_count"`
	NullPct     float64      `json:"null_pct"`
	UniqueCount int64        `json:"unique_count"`
	UniquePct   float64      `json:"unique_pct"`
	TopValues   []ValueCount `json:"top_values"`
	Min         *float64     `json:"min,omitempty"`
	Max         *float64     `json:"max,omitempty"`
	Mean        *float64     `json:"mean,omitempty"`
	Std         *float64     `json:"std,omitempty"`
}

// StatsForColumn profiles a raw column reference or JSON path expression
// such as properties->>'$.country'.
func (s *Store) StatsForColumn(ctx context.Context, name, columnExpr string, topN int) (*ColumnStats, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if columnExpr == "" {
		return nil, mperr.New(mperr.CodeValidationError, "column expression must not be empty")
	}
	if topN <= 0 {
		topN = 10
	}
	if err := s.requireTable(ctx, name); err != nil {
		return nil, err
	}

	q := quoteIdent(name)
	out := &ColumnStats{Table: name, Column: columnExpr, TopValues: []ValueCount{}}

	var total, nonNull, unique int64
	err := s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT count(*), count(%s), count(DISTINCT %s) FROM %s`, columnExpr, columnExpr, q)).
		Scan(&total, &nonNull, &unique)
	if err != nil {
		return nil, columnStatsError(name, columnExpr, err)
	}
	out.Count = total
	out.NullCount = total - nonNull
	out.UniqueCount = unique
	if total > 0 {
		out.NullPct = float64(out.NullCount) * 100 / float64(total)
	}
	if nonNull > 0 {
		out.UniquePct = float64(unique) * 100 / float64(nonNull)
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s AS value, count(*) AS cnt FROM %s WHERE %s IS NOT NULL
		 GROUP BY value ORDER BY cnt DESC, value ASC LIMIT %d`,
		columnExpr, q, columnExpr, topN))
	if err != nil {
		return nil, columnStatsError(name, columnExpr, err)
	}
	defer closeQuietly(rows)
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, columnStatsError(name, columnExpr, err)
		}
		vc.Value = normalizeValue(vc.Value)
		out.TopValues = append(out.TopValues, vc)
	}
	if err := rows.Err(); err != nil {
		return nil, columnStatsError(name, columnExpr, err)
	}

	var numeric sql.NullInt64
	var minV, maxV, meanV, stdV sql.NullFloat64
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT count(x), min(x), max(x), avg(x), stddev_samp(x)
		 FROM (SELECT try_cast(%s AS DOUBLE) AS x FROM %s) WHERE x IS NOT NULL`,
		columnExpr, q)).
		Scan(&numeric, &minV, &maxV, &meanV, &stdV)
	if err != nil {
		return nil, columnStatsError(name, columnExpr, err)
	}
	if numeric.Valid && numeric.Int64 > 0 {
		out.Min = nullFloatPtr(minV)
		out.Max = nullFloatPtr(maxV)
		out.Mean = nullFloatPtr(meanV)
		out.Std = nullFloatPtr(stdV)
	}
	return out, nil
}

// Drop removes a table and its metadata row in one transaction.
func (s *Store) Drop(ctx context.Context, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.requireTable(ctx, name); err != nil {
		return err
	}

	start := time.Now()
	err := s.dropInTx(ctx, name)
	metrics.RecordStoreQuery("drop", name, time.Since(start), err)
	return err
}

func (s *Store) dropInTx(ctx context.Context, name string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return mperr.Wrap(mperr.CodeQueryFailed, "beginning drop transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("drop rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DROP TABLE `+quoteIdent(name)); err != nil {
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "dropping table %q", name)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM `+metadataTable+` WHERE table_name = ?`, name); err != nil {
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "dropping metadata of %q", name)
	}
	if err = tx.Commit(); err != nil {
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "committing drop of %q", name)
	}
	return nil
}

// DropAll removes every user table and all metadata. Returns the number
// of tables dropped.
func (s *Store) DropAll(ctx context.Context) (int, error) {
	tables, err := s.ListTables(ctx)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, t := range tables {
		if err := s.dropInTx(ctx, t.Name); err != nil {
			return 0, err
		}
	}
	return len(tables), nil
}

// requireTable maps absence to TABLE_NOT_FOUND.
func (s *Store) requireTable(ctx context.Context, name string) error {
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return tableNotFound(name)
	}
	return nil
}

// requireColumns checks the table exists and has the named columns.
func (s *Store) requireColumns(ctx context.Context, name string, cols ...string) error {
	schema, err := s.GetSchema(ctx, name)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(schema))
	for _, c := range schema {
		have[c.Name] = true
	}
	for _, c := range cols {
		if !have[c] {
			return mperr.Newf(mperr.CodeValidationError,
				"table %q has no %q column; this operation needs an ingested table", name, c).
				WithDetail("table", name).
				WithDetail("column", c)
		}
	}
	return nil
}

func tableNotFound(name string) error {
	return mperr.Newf(mperr.CodeTableNotFound,
		"table %q does not exist; create it with a fetch or create call first", name).
		WithDetail("table", name)
}

func columnStatsError(table, expr string, err error) error {
	return mperr.Wrapf(mperr.CodeQueryFailed, err, "profiling column %s of %q", expr, table).
		WithDetail("table", table).
		WithDetail("column", expr)
}

// Value coercions for SUMMARIZE output, which mixes VARCHAR and numeric
// columns across engine versions.

func coerceText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func coerceInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

func coerceFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func coerceFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	f := coerceFloat(v)
	return &f
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
