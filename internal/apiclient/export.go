// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package apiclient

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// Scanner buffer sizing for raw export lines. Events with large property
// maps routinely exceed bufio's 64KB default token size.
const (
	exportScanBuf = 64 * 1024
	exportMaxLine = 10 * 1024 * 1024
)

// ExportParams selects the slice of raw event history to stream.
type ExportParams struct {
	FromDate string   // YYYY-MM-DD, inclusive
	ToDate   string   // YYYY-MM-DD, inclusive
	Events   []string // optional event name allowlist
	Where    string   // optional boolean expression applied server-side
	Limit    int      // optional max events, 0 means unlimited
}

func (p ExportParams) validate() error {
	return validateDateRange(p.FromDate, p.ToDate)
}

func (p ExportParams) query() url.Values {
	q := url.Values{}
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	if len(p.Events) > 0 {
		q.Set("event", jsonParam(p.Events))
	}
	setIfPresent(q, "where", p.Where)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// EventIterator streams raw events from a single export response body,
// decoding one event per line. Iteration holds the HTTP connection open;
// callers must Close when done.
type EventIterator struct {
	ctx    context.Context
	body   io.ReadCloser
	sc     *bufio.Scanner
	cur    models.Event
	err    error
	closed bool
}

// ExportEvents opens a raw event stream. The returned iterator yields
// events in server order until the range is exhausted or an error occurs.
func (c *Client) ExportEvents(ctx context.Context, p ExportParams) (*EventIterator, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     pathExport,
		query:    p.query(),
		endpoint: "export",
	})
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, exportScanBuf), exportMaxLine)
	logging.Debug().
		Str("from_date", p.FromDate).
		Str("to_date", p.ToDate).
		Int("event_filters", len(p.Events)).
		Msg("export stream opened")
	return &EventIterator{ctx: ctx, body: resp.Body, sc: sc}, nil
}

// Next advances to the next event. It returns false when the stream is
// exhausted, the context is cancelled, or a decode or transport error
// occurs; check Err to distinguish.
func (it *EventIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	for {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		if !it.sc.Scan() {
			if err := it.sc.Err(); err != nil {
				// Mid-stream transport failure. Rows already yielded
				// remain valid.
				it.err = mperr.Wrap(mperr.CodeServerError, "export stream interrupted", err)
			}
			return false
		}
		line := strings.TrimSpace(it.sc.Text())
		if line == "" {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			it.err = mperr.Wrap(mperr.CodeServerError, "export stream returned malformed event", err)
			return false
		}
		it.cur = ev
		return true
	}
}

// Event returns the event most recently yielded by Next.
func (it *EventIterator) Event() models.Event { return it.cur }

// Err reports the first error encountered during iteration, nil on clean
// end of stream.
func (it *EventIterator) Err() error { return it.err }

// Close releases the underlying HTTP connection. Safe to call multiple
// times.
func (it *EventIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.body.Close()
}
