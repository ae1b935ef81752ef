// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

const exportFixture = `{"event":"Signup","properties":{"time":1704067200,"distinct_id":"u1","$insert_id":"evt_1","plan":"free"}}
{"event":"Purchase","properties":{"time":1704070800,"distinct_id":"u2","$insert_id":"evt_2","amount":9.99}}

{"event":"Signup","properties":{"time":1704074400,"distinct_id":"u3","$insert_id":"evt_3"}}
`

func collectEvents(t *testing.T, it *EventIterator) []models.Event {
	t.Helper()
	defer func() { _ = it.Close() }()

	var out []models.Event
	for it.Next() {
		out = append(out, it.Event())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return out
}

func TestExportEventsStreams(t *testing.T) {
	t.Parallel()

	var gotQuery map[string][]string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(exportFixture))
	})
	c, _ := newTestClient(t, handler, 1)

	it, err := c.ExportEvents(context.Background(), ExportParams{
		FromDate: "2024-01-01",
		ToDate:   "2024-01-02",
		Events:   []string{"Signup", "Purchase"},
		Where:    `properties["plan"] == "free"`,
		Limit:    100,
	})
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	events := collectEvents(t, it)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Name != "Signup" || events[0].DistinctID != "u1" || events[0].InsertID != "evt_1" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].Time.Unix() != 1704067200 {
		t.Errorf("first event time = %v, want epoch 1704067200", events[0].Time)
	}
	if _, hoisted := events[0].Properties["time"]; hoisted {
		t.Error("time should be hoisted out of properties")
	}
	if events[0].Properties["plan"] != "free" {
		t.Errorf("plan property = %v, want free", events[0].Properties["plan"])
	}

	if got := gotQuery["event"]; len(got) != 1 || got[0] != `["Signup","Purchase"]` {
		t.Errorf("event param = %v", got)
	}
	if got := gotQuery["where"]; len(got) != 1 || !strings.Contains(got[0], "plan") {
		t.Errorf("where param = %v", got)
	}
	if got := gotQuery["limit"]; len(got) != 1 || got[0] != "100" {
		t.Errorf("limit param = %v", got)
	}
}

func TestExportRejectsBadDates(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached on validation failure")
	})
	c, _ := newTestClient(t, handler, 1)

	_, err := c.ExportEvents(context.Background(), ExportParams{FromDate: "Jan 1", ToDate: "2024-01-02"})
	if code := errCode(t, err); code != mperr.CodeValidationError {
		t.Errorf("code = %s, want %s", code, mperr.CodeValidationError)
	}
}

func TestExportSurfacesMalformedLine(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"event":"Ok","properties":{"time":1704067200,"distinct_id":"u1","$insert_id":"e1"}}` + "\n"))
		_, _ = w.Write([]byte(`{"event": truncated` + "\n"))
	})
	c, _ := newTestClient(t, handler, 1)

	it, err := c.ExportEvents(context.Background(), ExportParams{FromDate: "2024-01-01", ToDate: "2024-01-01"})
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	defer func() { _ = it.Close() }()

	if !it.Next() {
		t.Fatalf("first event should decode, err = %v", it.Err())
	}
	if it.Event().Name != "Ok" {
		t.Errorf("first event name = %q", it.Event().Name)
	}
	if it.Next() {
		t.Fatal("second line should fail to decode")
	}
	if code := errCode(t, it.Err()); code != mperr.CodeServerError {
		t.Errorf("code = %s, want %s", code, mperr.CodeServerError)
	}
}

func TestExportObservesCancellation(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exportFixture))
	})
	c, _ := newTestClient(t, handler, 1)

	ctx, cancel := context.WithCancel(context.Background())
	it, err := c.ExportEvents(ctx, ExportParams{FromDate: "2024-01-01", ToDate: "2024-01-02"})
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	defer func() { _ = it.Close() }()

	if !it.Next() {
		t.Fatalf("first Next should succeed, err = %v", it.Err())
	}
	cancel()
	if it.Next() {
		t.Fatal("Next should stop after cancellation")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", it.Err())
	}
}

func TestExportCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exportFixture))
	})
	c, _ := newTestClient(t, handler, 1)

	it, err := c.ExportEvents(context.Background(), ExportParams{FromDate: "2024-01-01", ToDate: "2024-01-02"})
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if it.Next() {
		t.Error("Next should return false after Close")
	}
}
