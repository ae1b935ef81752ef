// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package results defines the immutable record families produced by the
// live-query service: one type per Mixpanel query family. Every record
// exposes a lazily built tabular view via Tabular() and converts to and
// from a plain serializable map via ToDict / FromDict, so output
// formatters never need to know the family-specific shape.
package results

import (
	"sort"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// Table is the flat {columns, rows} view of a record. Rows are ordered
// deterministically (dates ascending, then keys ascending) so repeated
// calls and tests see identical output.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// tabCell is the write-once home of a record's tabular view. Building the
// view is not a logical mutation; records stay comparable as long as the
// cell is untouched.
type tabCell struct {
	once sync.Once
	tab  *Table
}

func (c *tabCell) load(build func() *Table) *Table {
	c.once.Do(func() { c.tab = build() })
	return c.tab
}

// ToDict renders any record as a plain map with JSON-compatible values.
// Timestamps come out as RFC 3339 strings; the tabular cache is excluded.
func ToDict(record any) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "encoding result record", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "encoding result record", err)
	}
	return m, nil
}

// FromDict rebuilds a record of type T from its ToDict form.
func FromDict[T any](m map[string]any) (*T, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "decoding result record", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "decoding result record", err)
	}
	return &out, nil
}

// seriesTable flattens map<key, map<date, value>> into rows of
// {dateCol, keyCol, valueCol}, dates ascending and keys ascending within a
// date. Absent combinations are skipped, not zero-filled.
func seriesTable(dateCol, keyCol, valueCol string, series map[string]map[string]float64) *Table {
	keys := make([]string, 0, len(series))
	dateSet := map[string]struct{}{}
	for k, byDate := range series {
		keys = append(keys, k)
		for d := range byDate {
			dateSet[d] = struct{}{}
		}
	}
	sort.Strings(keys)
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := &Table{Columns: []string{dateCol, keyCol, valueCol}, Rows: [][]any{}}
	for _, d := range dates {
		for _, k := range keys {
			if v, ok := series[k][d]; ok {
				out.Rows = append(out.Rows, []any{d, k, v})
			}
		}
	}
	return out
}

// flatSeriesTable flattens map<date, value> into {dateCol, valueCol} rows,
// dates ascending.
func flatSeriesTable(dateCol, valueCol string, series map[string]float64) *Table {
	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := &Table{Columns: []string{dateCol, valueCol}, Rows: [][]any{}}
	for _, d := range dates {
		out.Rows = append(out.Rows, []any{d, series[d]})
	}
	return out
}

// jsonTable is the best-effort view of an arbitrary JSON payload: an array
// of objects becomes rows under the sorted union of keys, an array of
// scalars becomes a single value column, an object becomes {key, value}
// rows, anything else a single cell.
func jsonTable(raw json.RawMessage) *Table {
	if len(raw) == 0 {
		return &Table{Columns: []string{}, Rows: [][]any{}}
	}

	var asList []any
	if err := json.Unmarshal(raw, &asList); err == nil {
		return listTable(asList)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return mapTable(asMap)
	}

	var scalar any
	if err := json.Unmarshal(raw, &scalar); err != nil {
		scalar = string(raw)
	}
	return &Table{Columns: []string{"value"}, Rows: [][]any{{scalar}}}
}

func listTable(list []any) *Table {
	keySet := map[string]struct{}{}
	objects := true
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			objects = false
			break
		}
		for k := range obj {
			keySet[k] = struct{}{}
		}
	}

	if !objects || len(list) == 0 {
		out := &Table{Columns: []string{"value"}, Rows: make([][]any, 0, len(list))}
		for _, item := range list {
			out.Rows = append(out.Rows, []any{item})
		}
		return out
	}

	cols := make([]string, 0, len(keySet))
	for k := range keySet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	out := &Table{Columns: cols, Rows: make([][]any, 0, len(list))}
	for _, item := range list {
		obj := item.(map[string]any)
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = obj[c]
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func mapTable(m map[string]any) *Table {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Table{Columns: []string{"key", "value"}, Rows: make([][]any, 0, len(keys))}
	for _, k := range keys {
		out.Rows = append(out.Rows, []any{k, m[k]})
	}
	return out
}

func periodColumn(i int) string {
	return "period_" + strconv.Itoa(i)
}
