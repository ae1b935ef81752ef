// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// seedEventsTable ingests a small known mix: three Signups by two users,
// one Purchase, spread over four days.
func seedEventsTable(t *testing.T, s *Store, name string) {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }
	events := []models.Event{
		{Name: "Signup", Time: day(1), DistinctID: "u1", InsertID: name + "-1",
			Properties: map[string]any{"plan": "free", "country": "US"}},
		{Name: "Signup", Time: day(2), DistinctID: "u1", InsertID: name + "-2",
			Properties: map[string]any{"plan": "free", "country": "US"}},
		{Name: "Signup", Time: day(3), DistinctID: "u2", InsertID: name + "-3",
			Properties: map[string]any{"plan": "pro", "country": "US"}},
		{Name: "Purchase", Time: day(4), DistinctID: "u1", InsertID: name + "-4",
			Properties: map[string]any{"amount": 9.99, "country": "DE"}},
	}
	meta := models.TableMetadata{FromDate: "2024-01-01", ToDate: "2024-01-04"}
	if _, err := s.CreateEventsTable(context.Background(), name, &sliceEvents{events: events}, meta, IngestOptions{}); err != nil {
		t.Fatalf("seeding %s: %v", name, err)
	}
}

func TestListTablesHidesMetadata(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	seedEventsTable(t, s, "zz_events")
	if _, err := s.CreateProfilesTable(ctx, "aa_people", &sliceProfiles{profiles: makeProfiles("u1")},
		models.TableMetadata{}, IngestOptions{}); err != nil {
		t.Fatalf("profiles: %v", err)
	}

	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("tables = %+v, want 2 entries", tables)
	}
	if tables[0].Name != "aa_people" || tables[1].Name != "zz_events" {
		t.Errorf("order = %s, %s; want name-sorted", tables[0].Name, tables[1].Name)
	}
	if tables[0].Type != models.TableTypeProfiles || tables[0].RowCount != 1 {
		t.Errorf("aa_people = %+v", tables[0])
	}
	if tables[1].Type != models.TableTypeEvents || tables[1].RowCount != 4 {
		t.Errorf("zz_events = %+v", tables[1])
	}
	for _, tbl := range tables {
		if tbl.Name == metadataTable {
			t.Error("reserved metadata table leaked into listing")
		}
	}
}

func TestListTablesIncludesRawTables(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	if _, err := s.Exec(ctx, `CREATE TABLE handmade AS SELECT 1 AS x UNION ALL SELECT 2`); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "handmade" {
		t.Fatalf("tables = %+v", tables)
	}
	if tables[0].RowCount != 2 {
		t.Errorf("row count = %d, want 2 (counted directly)", tables[0].RowCount)
	}
	if tables[0].Type != "" {
		t.Errorf("type = %q, want empty for tables without provenance", tables[0].Type)
	}
}

func TestGetSchemaOrdersColumns(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	seedEventsTable(t, s, "sch")

	cols, err := s.GetSchema(context.Background(), "sch")
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	wantOrder := []string{"event_name", "event_time", "distinct_id", "insert_id", "properties"}
	if len(cols) != len(wantOrder) {
		t.Fatalf("columns = %+v", cols)
	}
	for i, want := range wantOrder {
		if cols[i].Name != want {
			t.Errorf("cols[%d] = %s, want %s", i, cols[i].Name, want)
		}
	}
	for _, c := range cols {
		switch c.Name {
		case "insert_id":
			if c.Nullable {
				t.Error("insert_id should not be nullable")
			}
		case "properties":
			if !c.Nullable {
				t.Error("properties should be nullable")
			}
		}
	}
}

func TestGetSchemaMissingTable(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	_, err := s.GetSchema(context.Background(), "ghost")
	if !mperr.IsCode(err, mperr.CodeTableNotFound) {
		t.Errorf("err = %v, want %s", err, mperr.CodeTableNotFound)
	}
}

func TestGetMetadataMissingTable(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	_, err := s.GetMetadata(context.Background(), "ghost")
	if !mperr.IsCode(err, mperr.CodeTableNotFound) {
		t.Errorf("err = %v, want %s", err, mperr.CodeTableNotFound)
	}
}

func TestSample(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()
	seedEventsTable(t, s, "smp")

	tbl, err := s.Sample(ctx, "smp", 2)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(tbl.Rows) > 2 {
		t.Errorf("sample returned %d rows, want at most 2", len(tbl.Rows))
	}
	if len(tbl.Columns) != 5 {
		t.Errorf("sample columns = %d, want 5", len(tbl.Columns))
	}

	if _, err := s.Sample(ctx, "smp", 0); !mperr.IsCode(err, mperr.CodeValidationError) {
		t.Errorf("zero sample err = %v, want %s", err, mperr.CodeValidationError)
	}
	if _, err := s.Sample(ctx, "ghost", 3); !mperr.IsCode(err, mperr.CodeTableNotFound) {
		t.Errorf("missing table err = %v, want %s", err, mperr.CodeTableNotFound)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	seedEventsTable(t, s, "prof")

	sum, err := s.Summarize(context.Background(), "prof")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Table != "prof" {
		t.Errorf("table = %q", sum.Table)
	}
	if sum.RowCount != 4 {
		t.Errorf("row count = %d, want 4", sum.RowCount)
	}
	if len(sum.Columns) != 5 {
		t.Fatalf("summarized %d columns, want 5", len(sum.Columns))
	}

	byName := map[string]ColumnSummary{}
	for _, c := range sum.Columns {
		byName[c.Column] = c
	}
	ev, ok := byName["event_name"]
	if !ok {
		t.Fatal("event_name missing from summary")
	}
	if ev.Count != 4 {
		t.Errorf("event_name count = %d, want 4", ev.Count)
	}
	if ev.NullPct != 0 {
		t.Errorf("event_name null pct = %v, want 0", ev.NullPct)
	}
	if ev.ApproxUnique < 1 {
		t.Errorf("event_name approx unique = %d", ev.ApproxUnique)
	}
}

func TestBreakdownEvents(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	seedEventsTable(t, s, "brk")

	bd, err := s.BreakdownEvents(context.Background(), "brk")
	if err != nil {
		t.Fatalf("BreakdownEvents: %v", err)
	}
	if bd.TotalEvents != 4 || bd.UniqueUsers != 2 {
		t.Errorf("totals = %d events, %d users; want 4, 2", bd.TotalEvents, bd.UniqueUsers)
	}
	wantFirst := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	wantLast := time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC)
	if !bd.FirstSeen.Equal(wantFirst) {
		t.Errorf("first seen = %v, want %v", bd.FirstSeen, wantFirst)
	}
	if !bd.LastSeen.Equal(wantLast) {
		t.Errorf("last seen = %v, want %v", bd.LastSeen, wantLast)
	}

	if len(bd.Events) != 2 {
		t.Fatalf("events = %+v", bd.Events)
	}
	signup, purchase := bd.Events[0], bd.Events[1]
	if signup.Event != "Signup" || signup.Count != 3 || signup.UniqueUsers != 2 {
		t.Errorf("signup stat = %+v", signup)
	}
	if signup.PctOfTotal != 75 {
		t.Errorf("signup pct = %v, want 75", signup.PctOfTotal)
	}
	if purchase.Event != "Purchase" || purchase.Count != 1 || purchase.PctOfTotal != 25 {
		t.Errorf("purchase stat = %+v", purchase)
	}
}

func TestBreakdownRequiresEventShape(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	if _, err := s.CreateProfilesTable(context.Background(), "flat", &sliceProfiles{profiles: makeProfiles("u1")},
		models.TableMetadata{}, IngestOptions{}); err != nil {
		t.Fatalf("profiles: %v", err)
	}

	_, err := s.BreakdownEvents(context.Background(), "flat")
	if !mperr.IsCode(err, mperr.CodeValidationError) {
		t.Errorf("err = %v, want %s", err, mperr.CodeValidationError)
	}
}

func TestPropertyKeys(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()
	seedEventsTable(t, s, "keys")

	all, err := s.PropertyKeys(ctx, "keys", "")
	if err != nil {
		t.Fatalf("PropertyKeys: %v", err)
	}
	want := []string{"amount", "country", "plan"}
	if len(all) != len(want) {
		t.Fatalf("keys = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s (sorted)", i, all[i], want[i])
		}
	}

	scoped, err := s.PropertyKeys(ctx, "keys", "Purchase")
	if err != nil {
		t.Fatalf("scoped PropertyKeys: %v", err)
	}
	if len(scoped) != 2 || scoped[0] != "amount" || scoped[1] != "country" {
		t.Errorf("scoped keys = %v, want [amount country]", scoped)
	}
}

func TestStatsForRawColumn(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	seedEventsTable(t, s, "rawcol")

	st, err := s.StatsForColumn(context.Background(), "rawcol", "distinct_id", 5)
	if err != nil {
		t.Fatalf("StatsForColumn: %v", err)
	}
	if st.Count != 4 || st.NullCount != 0 || st.UniqueCount != 2 {
		t.Errorf("counts = %+v", st)
	}
	if len(st.TopValues) != 2 {
		t.Fatalf("top values = %+v", st.TopValues)
	}
	if st.TopValues[0].Value != "u1" || st.TopValues[0].Count != 3 {
		t.Errorf("top value = %+v, want u1 x3", st.TopValues[0])
	}
	if st.Min != nil || st.Mean != nil {
		t.Error("string column should not report numeric aggregates")
	}
}

func TestStatsForJSONPath(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()
	seedEventsTable(t, s, "jsoncol")

	country, err := s.StatsForColumn(ctx, "jsoncol", `properties->>'$.country'`, 5)
	if err != nil {
		t.Fatalf("country stats: %v", err)
	}
	if country.UniqueCount != 2 {
		t.Errorf("country unique = %d, want 2", country.UniqueCount)
	}
	if len(country.TopValues) != 2 || country.TopValues[0].Value != "US" || country.TopValues[0].Count != 3 {
		t.Errorf("country top values = %+v", country.TopValues)
	}

	amount, err := s.StatsForColumn(ctx, "jsoncol", `properties->>'$.amount'`, 5)
	if err != nil {
		t.Fatalf("amount stats: %v", err)
	}
	if amount.NullCount != 3 {
		t.Errorf("amount null count = %d, want 3", amount.NullCount)
	}
	if amount.NullPct != 75 {
		t.Errorf("amount null pct = %v, want 75", amount.NullPct)
	}
	if amount.Min == nil || amount.Max == nil || amount.Mean == nil {
		t.Fatal("amount should report numeric aggregates")
	}
	if *amount.Min != 9.99 || *amount.Max != 9.99 {
		t.Errorf("amount min/max = %v/%v, want 9.99", *amount.Min, *amount.Max)
	}

	if _, err := s.StatsForColumn(ctx, "jsoncol", "", 5); !mperr.IsCode(err, mperr.CodeValidationError) {
		t.Errorf("empty expression err = %v, want %s", err, mperr.CodeValidationError)
	}
}

func TestDropRemovesTableAndMetadata(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()
	seedEventsTable(t, s, "gone")

	if err := s.Drop(ctx, "gone"); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("tables remain after drop: %+v", tables)
	}
	if _, err := s.GetMetadata(ctx, "gone"); !mperr.IsCode(err, mperr.CodeTableNotFound) {
		t.Errorf("metadata survived the drop: %v", err)
	}

	if err := s.Drop(ctx, "gone"); !mperr.IsCode(err, mperr.CodeTableNotFound) {
		t.Errorf("double drop err = %v, want %s", err, mperr.CodeTableNotFound)
	}
}

func TestDropAll(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()
	seedEventsTable(t, s, "one")
	seedEventsTable(t, s, "two")

	n, err := s.DropAll(ctx)
	if err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if n != 2 {
		t.Errorf("dropped = %d, want 2", n)
	}

	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("tables remain: %+v", tables)
	}
	left, err := s.QueryScalar(ctx, `SELECT count(*) FROM `+metadataTable)
	if err != nil {
		t.Fatalf("metadata count: %v", err)
	}
	if coerceInt(left) != 0 {
		t.Errorf("metadata rows remain: %v", left)
	}
}
