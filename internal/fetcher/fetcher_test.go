// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/apiclient"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/config"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/creds"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/store"
)

// exportLine renders one export JSONL line with a deterministic insert
// id so dedup behavior is observable.
func exportLine(i int, distinctID string) string {
	return fmt.Sprintf(
		`{"event":"Purchase","properties":{"time":1704067200,"distinct_id":%q,"$insert_id":"evt_%d","amount":%d}}`,
		distinctID, i, i)
}

// newTestService wires a fetch service against an httptest export
// handler and an in-memory store.
func newTestService(t *testing.T, handler http.Handler) (*Service, *store.Store) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cr, err := creds.NewCredentials("svc.account", "sekret", "123", "us")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	client := apiclient.New(cr, apiclient.WithBaseURL(srv.URL))

	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return New(client, st, config.Default().Fetch), st
}

// exportHandler serves n export lines per request regardless of range.
func exportHandler(n int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteString(exportLine(i, "u1"))
			b.WriteString("\n")
		}
		_, _ = w.Write([]byte(b.String()))
	})
}

func TestFetchEventsCreatesTable(t *testing.T) {
	svc, st := newTestService(t, exportHandler(5))

	var lastProgress atomic.Int64
	res, err := svc.FetchEvents(context.Background(), EventOptions{
		Table:    "purchases",
		FromDate: "2024-01-01",
		ToDate:   "2024-01-02",
		Progress: func(total int64) { lastProgress.Store(total) },
	})
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if res.Rows != 5 {
		t.Errorf("rows = %d, want 5", res.Rows)
	}
	if res.FromDate != "2024-01-01" || res.ToDate != "2024-01-02" {
		t.Errorf("date range = %s..%s", res.FromDate, res.ToDate)
	}
	if lastProgress.Load() != 5 {
		t.Errorf("final progress = %d, want 5", lastProgress.Load())
	}

	meta, err := st.GetMetadata(context.Background(), "purchases")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.RowCount != 5 {
		t.Errorf("metadata row_count = %d, want 5", meta.RowCount)
	}
}

func TestFetchEventsAppendDeduplicates(t *testing.T) {
	svc, _ := newTestService(t, exportHandler(3))

	ctx := context.Background()
	first, err := svc.FetchEvents(ctx, EventOptions{
		Table: "dup", FromDate: "2024-01-01", ToDate: "2024-01-01",
	})
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.Rows != 3 {
		t.Fatalf("first rows = %d, want 3", first.Rows)
	}

	// Same range again: every insert_id already present.
	second, err := svc.FetchEvents(ctx, EventOptions{
		Table: "dup", FromDate: "2024-01-01", ToDate: "2024-01-01", Append: true,
	})
	if err != nil {
		t.Fatalf("append fetch: %v", err)
	}
	if second.Rows != 0 {
		t.Errorf("append rows = %d, want 0 (all duplicates)", second.Rows)
	}
}

func TestFetchEventsRefusesOverwrite(t *testing.T) {
	svc, _ := newTestService(t, exportHandler(1))

	ctx := context.Background()
	if _, err := svc.FetchEvents(ctx, EventOptions{
		Table: "once", FromDate: "2024-01-01", ToDate: "2024-01-01",
	}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	_, err := svc.FetchEvents(ctx, EventOptions{
		Table: "once", FromDate: "2024-01-01", ToDate: "2024-01-01",
	})
	if err == nil {
		t.Fatal("second create succeeded; want TABLE_EXISTS")
	}
}

func TestChunkRange(t *testing.T) {
	t.Parallel()

	chunks, err := chunkRange("2024-01-01", "2024-01-15", 7)
	if err != nil {
		t.Fatalf("chunkRange: %v", err)
	}
	want := []dateChunk{
		{from: "2024-01-01", to: "2024-01-07"},
		{from: "2024-01-08", to: "2024-01-14"},
		{from: "2024-01-15", to: "2024-01-15"},
	}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %v, want %v", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %v, want %v", i, chunks[i], want[i])
		}
	}

	single, err := chunkRange("2024-01-01", "2024-01-01", 7)
	if err != nil {
		t.Fatalf("chunkRange single day: %v", err)
	}
	if len(single) != 1 || single[0] != (dateChunk{from: "2024-01-01", to: "2024-01-01"}) {
		t.Errorf("single-day chunks = %v", single)
	}

	if _, err := chunkRange("2024-01-02", "2024-01-01", 7); err == nil {
		t.Error("inverted range accepted; want validation error")
	}
}

func TestFetchEventsParallelMergesChunks(t *testing.T) {
	// Each chunk request yields rows keyed by its from_date so distinct
	// chunks contribute distinct insert ids.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("from_date")
		for i := 0; i < 2; i++ {
			line := fmt.Sprintf(
				`{"event":"E","properties":{"time":1704067200,"distinct_id":"u","$insert_id":"%s_%d"}}`,
				from, i)
			_, _ = w.Write([]byte(line + "\n"))
		}
	})
	svc, st := newTestService(t, handler)

	res, err := svc.FetchEventsParallel(context.Background(), ParallelOptions{
		EventOptions: EventOptions{Table: "par", FromDate: "2024-01-01", ToDate: "2024-01-14"},
		ChunkDays:    7,
		MaxWorkers:   4,
	})
	if err != nil {
		t.Fatalf("FetchEventsParallel: %v", err)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(res.Chunks))
	}
	if res.Rows != 4 {
		t.Errorf("rows = %d, want 4", res.Rows)
	}
	for _, c := range res.Chunks {
		if c.Failed() {
			t.Errorf("chunk %s..%s failed: %s", c.FromDate, c.ToDate, c.Error)
		}
		if c.ID == "" {
			t.Error("chunk missing id")
		}
	}
	// Chunks ordered by date range regardless of completion order.
	if res.Chunks[0].FromDate != "2024-01-01" || res.Chunks[1].FromDate != "2024-01-08" {
		t.Errorf("chunk order = %s, %s", res.Chunks[0].FromDate, res.Chunks[1].FromDate)
	}

	n, err := st.QueryScalar(context.Background(), `SELECT count(*) FROM par`)
	if err != nil {
		t.Fatalf("QueryScalar: %v", err)
	}
	if count, ok := n.(int64); !ok || count != 4 {
		t.Errorf("stored rows = %v, want 4", n)
	}
}

func TestParallelRefetchAddsNothing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get("from_date")
		line := fmt.Sprintf(
			`{"event":"E","properties":{"time":1704067200,"distinct_id":"u","$insert_id":"id_%s"}}`, from)
		_, _ = w.Write([]byte(line + "\n"))
	})
	svc, _ := newTestService(t, handler)

	ctx := context.Background()
	opts := ParallelOptions{
		EventOptions: EventOptions{Table: "stable", FromDate: "2024-01-01", ToDate: "2024-01-10"},
		ChunkDays:    5,
	}
	first, err := svc.FetchEventsParallel(ctx, opts)
	if err != nil {
		t.Fatalf("first parallel fetch: %v", err)
	}
	if first.Rows != 2 {
		t.Fatalf("first rows = %d, want 2", first.Rows)
	}

	opts.Append = true
	second, err := svc.FetchEventsParallel(ctx, opts)
	if err != nil {
		t.Fatalf("second parallel fetch: %v", err)
	}
	if second.Rows != 0 {
		t.Errorf("re-fetch rows = %d, want 0", second.Rows)
	}
}

func TestStreamEventsLeavesStoreUntouched(t *testing.T) {
	svc, st := newTestService(t, exportHandler(2))

	it, err := svc.StreamEvents(context.Background(), EventOptions{
		Table: "ignored", FromDate: "2024-01-01", ToDate: "2024-01-01",
	})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	defer func() { _ = it.Close() }()

	var n int
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if n != 2 {
		t.Errorf("streamed %d events, want 2", n)
	}

	tables, err := st.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("tables = %v, want none", tables)
	}
}

func TestFetchProfiles(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostFormValue("session_id") == "" {
			_, _ = w.Write([]byte(`{"status":"ok","session_id":"s1","page":0,"page_size":1000,"total":2,"results":[
				{"$distinct_id":"u1","$properties":{"plan":"pro","$last_seen":"2024-01-01T10:00:00"}},
				{"$distinct_id":"u2","$properties":{"plan":"free"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","session_id":"s1","page":1,"page_size":1000,"total":2,"results":[]}`))
	})
	svc, st := newTestService(t, handler)

	res, err := svc.FetchProfiles(context.Background(), ProfileOptions{Table: "users"})
	if err != nil {
		t.Fatalf("FetchProfiles: %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("rows = %d, want 2", res.Rows)
	}

	n, err := st.QueryScalar(context.Background(), `SELECT count(*) FROM users`)
	if err != nil {
		t.Fatalf("QueryScalar: %v", err)
	}
	if count, ok := n.(int64); !ok || count != 2 {
		t.Errorf("stored rows = %v, want 2", n)
	}
}
