// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// Column describes one typed result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is a fully-typed query result.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// RowSet is the plain {columns, rows} shape CLI consumers format
// directly.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Query runs SQL and returns a typed table.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*Table, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	metrics.RecordStoreQuery("query", "adhoc", time.Since(start), err)
	if err != nil {
		return nil, queryError(query, err)
	}
	defer closeQuietly(rows)
	return readTable(query, rows)
}

// QueryRows runs SQL and returns the {columns, rows} shape.
func (s *Store) QueryRows(ctx context.Context, query string, args ...any) (*RowSet, error) {
	t, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	return &RowSet{Columns: cols, Rows: t.Rows}, nil
}

// QueryScalar runs SQL that must produce exactly one row with one column.
func (s *Store) QueryScalar(ctx context.Context, query string, args ...any) (any, error) {
	t, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(t.Columns) != 1 || len(t.Rows) != 1 {
		return nil, mperr.Newf(mperr.CodeQueryFailed,
			"scalar query produced %d column(s) and %d row(s); expected exactly one of each",
			len(t.Columns), len(t.Rows)).
			WithDetail("query", query)
	}
	return t.Rows[0][0], nil
}

// QueryRaw runs SQL and hands back the engine-native cursor for advanced
// composition. The caller owns rows and must Close them.
func (s *Store) QueryRaw(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	metrics.RecordStoreQuery("query_raw", "adhoc", time.Since(start), err)
	if err != nil {
		return nil, queryError(query, err)
	}
	return rows, nil
}

// Exec runs SQL for its side effects (DDL, DML) and returns affected rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx, query, args...)
	metrics.RecordStoreQuery("exec", "adhoc", time.Since(start), err)
	if err != nil {
		return 0, queryError(query, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// readTable drains rows into a Table with normalized values.
func readTable(query string, rows *sql.Rows) (*Table, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, queryError(query, err)
	}
	cols := make([]Column, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	out := &Table{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryError(query, err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(query, err)
	}
	return out, nil
}

// normalizeValue converts driver-specific representations into plain Go
// values ([]byte becomes string).
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func queryError(query string, err error) error {
	return mperr.Wrap(mperr.CodeQueryFailed, "query failed", err).
		WithDetail("query", query)
}

// CSV renders the row set with a header line, trailing newline trimmed.
func (rs *RowSet) CSV() (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(rs.Columns); err != nil {
		return "", mperr.Wrap(mperr.CodeQueryFailed, "rendering CSV header", err)
	}
	record := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCSVValue(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return "", mperr.Wrap(mperr.CodeQueryFailed, "rendering CSV row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", mperr.Wrap(mperr.CodeQueryFailed, "rendering CSV", err)
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

func formatCSVValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}
