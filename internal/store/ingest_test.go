// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// sliceEvents is an EventSource over a slice. When failAt > 0 the source
// reports an error instead of yielding its failAt-th event, mimicking an
// export stream dropped mid-flight.
type sliceEvents struct {
	events []models.Event
	i      int
	failAt int
	err    error
}

func (s *sliceEvents) Next() bool {
	if s.failAt > 0 && s.i >= s.failAt {
		s.err = errors.New("export stream dropped")
		return false
	}
	if s.i >= len(s.events) {
		return false
	}
	s.i++
	return true
}

func (s *sliceEvents) Event() models.Event { return s.events[s.i-1] }
func (s *sliceEvents) Err() error          { return s.err }

type sliceProfiles struct {
	profiles []models.Profile
	i        int
}

func (s *sliceProfiles) Next() bool {
	if s.i >= len(s.profiles) {
		return false
	}
	s.i++
	return true
}

func (s *sliceProfiles) Profile() models.Profile { return s.profiles[s.i-1] }
func (s *sliceProfiles) Err() error              { return nil }

func makeEvents(n int, prefix string) []models.Event {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Event, n)
	for i := range out {
		out[i] = models.Event{
			Name:       "Signup",
			Time:       base.Add(time.Duration(i) * time.Minute),
			DistinctID: fmt.Sprintf("user_%d", i%50),
			InsertID:   fmt.Sprintf("%s-%d", prefix, i),
			Properties: map[string]any{"plan": "free", "country": "US"},
		}
	}
	return out
}

func makeProfiles(ids ...string) []models.Profile {
	seen := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	out := make([]models.Profile, len(ids))
	for i, id := range ids {
		out[i] = models.Profile{
			DistinctID: id,
			Properties: map[string]any{"plan": "pro"},
			LastSeen:   &seen,
		}
	}
	return out
}

func eventsMeta() models.TableMetadata {
	return models.TableMetadata{
		FromDate:     "2024-01-01",
		ToDate:       "2024-01-07",
		FilterEvents: []string{"Signup"},
	}
}

func tableCount(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	v, err := s.QueryScalar(context.Background(), `SELECT count(*) FROM `+quoteIdent(name))
	if err != nil {
		t.Fatalf("counting %s: %v", name, err)
	}
	return coerceInt(v)
}

func TestCreateEventsTableIngests(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	var progress []int64
	n, err := s.CreateEventsTable(ctx, "signups", &sliceEvents{events: makeEvents(2500, "a")},
		eventsMeta(), IngestOptions{BatchSize: 1000, Progress: func(total int64) {
			progress = append(progress, total)
		}})
	if err != nil {
		t.Fatalf("CreateEventsTable: %v", err)
	}
	if n != 2500 {
		t.Errorf("inserted = %d, want 2500", n)
	}
	if got := tableCount(t, s, "signups"); got != 2500 {
		t.Errorf("table holds %d rows, want 2500", got)
	}

	want := []int64{1000, 2000, 2500}
	if len(progress) != len(want) {
		t.Fatalf("progress calls = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, progress[i], want[i])
		}
	}

	meta, err := s.GetMetadata(ctx, "signups")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Type != models.TableTypeEvents {
		t.Errorf("type = %q, want events", meta.Type)
	}
	if meta.RowCount != 2500 {
		t.Errorf("metadata row_count = %d, want 2500", meta.RowCount)
	}
	if meta.FromDate != "2024-01-01" || meta.ToDate != "2024-01-07" {
		t.Errorf("date range = %s..%s", meta.FromDate, meta.ToDate)
	}
	if len(meta.FilterEvents) != 1 || meta.FilterEvents[0] != "Signup" {
		t.Errorf("filter_events = %v", meta.FilterEvents)
	}
	if meta.FetchedAt.IsZero() {
		t.Error("fetched_at not populated")
	}
}

func TestCreateDedupsByInsertID(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	events := makeEvents(10, "dup")
	events = append(events, makeEvents(10, "dup")...) // every id twice

	n, err := s.CreateEventsTable(context.Background(), "dups", &sliceEvents{events: events},
		eventsMeta(), IngestOptions{})
	if err != nil {
		t.Fatalf("CreateEventsTable: %v", err)
	}
	if n != 10 {
		t.Errorf("inserted = %d, want 10 after dedup", n)
	}
	if got := tableCount(t, s, "dups"); got != 10 {
		t.Errorf("table holds %d rows, want 10", got)
	}
}

func TestCreateRefusesExistingTable(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	if _, err := s.CreateEventsTable(ctx, "keep", &sliceEvents{events: makeEvents(5, "x")},
		eventsMeta(), IngestOptions{}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := s.CreateEventsTable(ctx, "keep", &sliceEvents{events: makeEvents(50, "y")},
		eventsMeta(), IngestOptions{})
	if !mperr.IsCode(err, mperr.CodeTableExists) {
		t.Fatalf("second create err = %v, want %s", err, mperr.CodeTableExists)
	}
	if got := tableCount(t, s, "keep"); got != 5 {
		t.Errorf("existing table modified, holds %d rows, want 5", got)
	}
	meta, err := s.GetMetadata(ctx, "keep")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.RowCount != 5 {
		t.Errorf("metadata row_count = %d, want 5", meta.RowCount)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()
	events := makeEvents(100, "jan")

	if _, err := s.CreateEventsTable(ctx, "idem", &sliceEvents{events: events},
		eventsMeta(), IngestOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	added, err := s.AppendEvents(ctx, "idem", &sliceEvents{events: events},
		eventsMeta(), IngestOptions{})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if added != 0 {
		t.Errorf("re-appending identical data added %d rows, want 0", added)
	}
	if got := tableCount(t, s, "idem"); got != 100 {
		t.Errorf("table holds %d rows, want 100", got)
	}
}

func TestAppendWidensDateRange(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	week2 := models.TableMetadata{FromDate: "2024-01-08", ToDate: "2024-01-14"}
	if _, err := s.CreateEventsTable(ctx, "span", &sliceEvents{events: makeEvents(10, "w2")},
		week2, IngestOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	week1 := models.TableMetadata{FromDate: "2024-01-01", ToDate: "2024-01-07"}
	if _, err := s.AppendEvents(ctx, "span", &sliceEvents{events: makeEvents(10, "w1")},
		week1, IngestOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	meta, err := s.GetMetadata(ctx, "span")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.FromDate != "2024-01-01" {
		t.Errorf("from_date = %s, want 2024-01-01", meta.FromDate)
	}
	if meta.ToDate != "2024-01-14" {
		t.Errorf("to_date = %s, want 2024-01-14", meta.ToDate)
	}
	if meta.RowCount != 20 {
		t.Errorf("row_count = %d, want 20", meta.RowCount)
	}
}

func TestAppendToMissingTable(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	_, err := s.AppendEvents(context.Background(), "absent", &sliceEvents{events: makeEvents(1, "z")},
		eventsMeta(), IngestOptions{})
	if !mperr.IsCode(err, mperr.CodeTableNotFound) {
		t.Errorf("err = %v, want %s", err, mperr.CodeTableNotFound)
	}
}

func TestBatchSizeBounds(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	for _, size := range []int{50, 99, 100001} {
		_, err := s.CreateEventsTable(ctx, "bounds", &sliceEvents{events: makeEvents(1, "b")},
			eventsMeta(), IngestOptions{BatchSize: size})
		if !mperr.IsCode(err, mperr.CodeValidationError) {
			t.Errorf("batch size %d: err = %v, want %s", size, err, mperr.CodeValidationError)
		}
	}

	// Zero falls back to the default.
	if _, err := s.CreateEventsTable(ctx, "bounds", &sliceEvents{events: makeEvents(3, "ok")},
		eventsMeta(), IngestOptions{}); err != nil {
		t.Fatalf("default batch size: %v", err)
	}
}

func TestEmptySourceCreatesEmptyTable(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	n, err := s.CreateEventsTable(ctx, "quiet", &sliceEvents{}, eventsMeta(), IngestOptions{})
	if err != nil {
		t.Fatalf("CreateEventsTable: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}

	meta, err := s.GetMetadata(ctx, "quiet")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.RowCount != 0 {
		t.Errorf("row_count = %d, want 0", meta.RowCount)
	}

	sample, err := s.Sample(ctx, "quiet", 5)
	if err != nil {
		t.Fatalf("Sample on empty table: %v", err)
	}
	if len(sample.Rows) != 0 {
		t.Errorf("sample of empty table yields %d rows", len(sample.Rows))
	}
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	for _, name := range []string{"_metadata", "_private", "1starts_with_digit", "has-dash", `x"; DROP TABLE y`} {
		_, err := s.CreateEventsTable(context.Background(), name,
			&sliceEvents{events: makeEvents(1, "v")}, eventsMeta(), IngestOptions{})
		if !mperr.IsCode(err, mperr.CodeValidationError) {
			t.Errorf("name %q: err = %v, want %s", name, err, mperr.CodeValidationError)
		}
	}
}

func TestProfilesCreateAndAppendDedup(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	n, err := s.CreateProfilesTable(ctx, "users", &sliceProfiles{profiles: makeProfiles("u1", "u2")},
		models.TableMetadata{}, IngestOptions{})
	if err != nil {
		t.Fatalf("CreateProfilesTable: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	added, err := s.AppendProfiles(ctx, "users", &sliceProfiles{profiles: makeProfiles("u1", "u3")},
		models.TableMetadata{}, IngestOptions{})
	if err != nil {
		t.Fatalf("AppendProfiles: %v", err)
	}
	if added != 1 {
		t.Errorf("append added %d, want 1 (u1 already present)", added)
	}
	if got := tableCount(t, s, "users"); got != 3 {
		t.Errorf("table holds %d rows, want 3", got)
	}

	meta, err := s.GetMetadata(ctx, "users")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Type != models.TableTypeProfiles {
		t.Errorf("type = %q, want profiles", meta.Type)
	}
	if meta.RowCount != 3 {
		t.Errorf("row_count = %d, want 3", meta.RowCount)
	}
}

func TestSourceErrorKeepsCommittedBatches(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	src := &sliceEvents{events: makeEvents(2500, "cut"), failAt: 1500}
	n, err := s.CreateEventsTable(ctx, "partial", src, eventsMeta(), IngestOptions{BatchSize: 1000})
	if err == nil {
		t.Fatal("expected the source error to surface")
	}
	if n != 1000 {
		t.Errorf("inserted = %d, want 1000 (first batch only)", n)
	}
	if got := tableCount(t, s, "partial"); got != 1000 {
		t.Errorf("table holds %d rows, want 1000", got)
	}

	meta, metaErr := s.GetMetadata(ctx, "partial")
	if metaErr != nil {
		t.Fatalf("GetMetadata: %v", metaErr)
	}
	if meta.RowCount != 1000 {
		t.Errorf("metadata row_count = %d, want committed 1000", meta.RowCount)
	}
}

func TestCancelRollsBackInFlightBatchOnly(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := s.CreateEventsTable(ctx, "cancelled", &sliceEvents{events: makeEvents(2500, "c")},
		eventsMeta(), IngestOptions{BatchSize: 1000, Progress: func(total int64) {
			if total >= 1000 {
				cancel()
			}
		}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n != 1000 {
		t.Errorf("inserted = %d, want 1000", n)
	}
	if got := tableCount(t, s, "cancelled"); got != 1000 {
		t.Errorf("table holds %d rows, want 1000", got)
	}

	// Metadata is written after cancellation and reflects committed rows.
	meta, metaErr := s.GetMetadata(context.Background(), "cancelled")
	if metaErr != nil {
		t.Fatalf("GetMetadata: %v", metaErr)
	}
	if meta.RowCount != 1000 {
		t.Errorf("metadata row_count = %d, want 1000", meta.RowCount)
	}
}

// blockingEvents yields one event, then signals and stalls until
// released, mimicking an export body that hangs mid-download.
type blockingEvents struct {
	events   []models.Event
	i        int
	draining chan struct{}
	release  chan struct{}
}

func (b *blockingEvents) Next() bool {
	if b.i == 1 {
		close(b.draining)
		<-b.release
	}
	if b.i >= len(b.events) {
		return false
	}
	b.i++
	return true
}

func (b *blockingEvents) Event() models.Event { return b.events[b.i-1] }
func (b *blockingEvents) Err() error          { return nil }

func TestStalledSourceDoesNotBlockOtherIngests(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	slow := &blockingEvents{
		events:   makeEvents(5, "slow"),
		draining: make(chan struct{}),
		release:  make(chan struct{}),
	}
	slowDone := make(chan error, 1)
	go func() {
		_, err := s.CreateEventsTable(ctx, "slow_table", slow, eventsMeta(), IngestOptions{})
		slowDone <- err
	}()

	<-slow.draining

	// The stalled drain must not hold the write lock; this ingest has to
	// finish while the other source is still mid-download.
	fastDone := make(chan error, 1)
	go func() {
		_, err := s.CreateEventsTable(ctx, "fast_table",
			&sliceEvents{events: makeEvents(10, "fast")}, eventsMeta(), IngestOptions{})
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("concurrent ingest: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent ingest blocked behind a stalled source drain")
	}

	close(slow.release)
	if err := <-slowDone; err != nil {
		t.Fatalf("stalled ingest: %v", err)
	}
	if got := tableCount(t, s, "slow_table"); got != 5 {
		t.Errorf("slow table holds %d rows, want 5", got)
	}
	if got := tableCount(t, s, "fast_table"); got != 10 {
		t.Errorf("fast table holds %d rows, want 10", got)
	}
}

func TestEventPropertiesRoundTrip(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	ctx := context.Background()

	events := []models.Event{{
		Name:       "Purchase",
		Time:       time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		DistinctID: "buyer",
		InsertID:   "p-1",
		Properties: map[string]any{"amount": 19.99, "currency": "USD"},
	}}
	if _, err := s.CreateEventsTable(ctx, "purchases", &sliceEvents{events: events},
		models.TableMetadata{}, IngestOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	v, err := s.QueryScalar(ctx, `SELECT properties->>'$.currency' FROM purchases`)
	if err != nil {
		t.Fatalf("QueryScalar: %v", err)
	}
	if got := coerceText(v); got != "USD" {
		t.Errorf("currency = %q, want USD", got)
	}
}
