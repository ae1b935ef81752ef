// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// FlowsQueryType selects the arb_funnels response shape.
type FlowsQueryType string

const (
	FlowsTypeDefault FlowsQueryType = "flows"
	FlowsTypeSankey  FlowsQueryType = "flows_sankey"
)

// SegmentationParams drive the segmentation family of endpoints. On is
// required for the numeric, sum, and average variants.
type SegmentationParams struct {
	Event    string // required
	FromDate string // required, YYYY-MM-DD
	ToDate   string // required, YYYY-MM-DD
	On       string // segment expression, passed through verbatim
	Unit     string // minute, hour, day, week, month
	Where    string
	Type     string // general, unique, average
}

func (p SegmentationParams) validate(requireOn bool) error {
	if p.Event == "" {
		return mperr.New(mperr.CodeValidationError, "segmentation requires an event name")
	}
	if requireOn && p.On == "" {
		return mperr.New(mperr.CodeValidationError, "this segmentation variant requires an on expression")
	}
	return validateDateRange(p.FromDate, p.ToDate)
}

func (p SegmentationParams) query() url.Values {
	q := url.Values{}
	q.Set("event", p.Event)
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	setIfPresent(q, "on", p.On)
	setIfPresent(q, "unit", p.Unit)
	setIfPresent(q, "where", p.Where)
	setIfPresent(q, "type", p.Type)
	return q
}

// Segmentation runs a segmentation query and returns the raw payload.
func (c *Client) Segmentation(ctx context.Context, p SegmentationParams) (json.RawMessage, error) {
	if err := p.validate(false); err != nil {
		return nil, err
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathSegmentation, query: p.query(), endpoint: "segmentation",
	})
}

// SegmentationNumeric buckets a numeric expression into value ranges.
func (c *Client) SegmentationNumeric(ctx context.Context, p SegmentationParams) (json.RawMessage, error) {
	if err := p.validate(true); err != nil {
		return nil, err
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathSegmentationNumeric, query: p.query(), endpoint: "segmentation_numeric",
	})
}

// SegmentationSum sums a numeric expression per time bucket.
func (c *Client) SegmentationSum(ctx context.Context, p SegmentationParams) (json.RawMessage, error) {
	if err := p.validate(true); err != nil {
		return nil, err
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathSegmentationSum, query: p.query(), endpoint: "segmentation_sum",
	})
}

// SegmentationAverage averages a numeric expression per time bucket.
func (c *Client) SegmentationAverage(ctx context.Context, p SegmentationParams) (json.RawMessage, error) {
	if err := p.validate(true); err != nil {
		return nil, err
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathSegmentationAverage, query: p.query(), endpoint: "segmentation_average",
	})
}

// FunnelParams scope a saved-funnel query.
type FunnelParams struct {
	FromDate   string // required
	ToDate     string // required
	Unit       string // day, week, month
	On         string // breakdown expression
	Where      string
	Length     int    // conversion window size
	LengthUnit string // second, minute, hour, day
	Interval   int    // bucket size in Unit steps
}

// Funnel queries a saved funnel by id.
func (c *Client) Funnel(ctx context.Context, funnelID int64, p FunnelParams) (json.RawMessage, error) {
	if err := validateDateRange(p.FromDate, p.ToDate); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("funnel_id", strconv.FormatInt(funnelID, 10))
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	setIfPresent(q, "unit", p.Unit)
	setIfPresent(q, "on", p.On)
	setIfPresent(q, "where", p.Where)
	if p.Length > 0 {
		q.Set("length", strconv.Itoa(p.Length))
	}
	setIfPresent(q, "length_unit", p.LengthUnit)
	if p.Interval > 0 {
		q.Set("interval", strconv.Itoa(p.Interval))
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathFunnels, query: q, endpoint: "funnels",
	})
}

// RetentionParams scope a cohort retention query.
type RetentionParams struct {
	FromDate      string // required
	ToDate        string // required
	RetentionType string // birth (first-time) or compounded (recurring)
	BornEvent     string // cohort-defining event
	Event         string // return event
	BornWhere     string
	Where         string
	Unit          string // day, week, month
	On            string
	Interval      int
	IntervalCount int
	Limit         int
}

// Retention runs a retention query and returns the raw payload.
func (c *Client) Retention(ctx context.Context, p RetentionParams) (json.RawMessage, error) {
	if err := validateDateRange(p.FromDate, p.ToDate); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	setIfPresent(q, "retention_type", p.RetentionType)
	setIfPresent(q, "born_event", p.BornEvent)
	setIfPresent(q, "event", p.Event)
	setIfPresent(q, "born_where", p.BornWhere)
	setIfPresent(q, "where", p.Where)
	setIfPresent(q, "unit", p.Unit)
	setIfPresent(q, "on", p.On)
	if p.Interval > 0 {
		q.Set("interval", strconv.Itoa(p.Interval))
	}
	if p.IntervalCount > 0 {
		q.Set("interval_count", strconv.Itoa(p.IntervalCount))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathRetention, query: q, endpoint: "retention",
	})
}

// FrequencyParams scope an addiction (usage frequency) query.
type FrequencyParams struct {
	FromDate      string // required
	ToDate        string // required
	Unit          string // day, week, month
	AddictionUnit string // hour or day granularity inside Unit
	Event         string
	On            string
	Where         string
	Limit         int
}

// Frequency measures how often users return within each period.
func (c *Client) Frequency(ctx context.Context, p FrequencyParams) (json.RawMessage, error) {
	if err := validateDateRange(p.FromDate, p.ToDate); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	setIfPresent(q, "unit", p.Unit)
	setIfPresent(q, "addiction_unit", p.AddictionUnit)
	setIfPresent(q, "event", p.Event)
	setIfPresent(q, "on", p.On)
	setIfPresent(q, "where", p.Where)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathFrequency, query: q, endpoint: "frequency",
	})
}

// JQL runs a server-side JQL script. Script parameters are exposed to the
// script via the params global.
func (c *Client) JQL(ctx context.Context, script string, params map[string]any) (json.RawMessage, error) {
	if script == "" {
		return nil, mperr.New(mperr.CodeValidationError, "jql requires a script")
	}
	form := url.Values{}
	form.Set("script", script)
	if len(params) > 0 {
		form.Set("params", jsonParam(params))
	}
	return c.rawQuery(ctx, request{
		method: http.MethodPost, path: pathJQL, form: form, endpoint: "jql",
	})
}

// Insights fetches a saved report by bookmark id. The endpoint serves
// insights, funnel, and retention bookmarks with one normalized shape.
func (c *Client) Insights(ctx context.Context, bookmarkID int64) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("bookmark_id", strconv.FormatInt(bookmarkID, 10))
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathInsights, query: q, endpoint: "insights",
	})
}

// Flows fetches a saved flows report by bookmark id.
func (c *Client) Flows(ctx context.Context, bookmarkID int64, queryType FlowsQueryType) (json.RawMessage, error) {
	if queryType == "" {
		queryType = FlowsTypeDefault
	}
	if queryType != FlowsTypeDefault && queryType != FlowsTypeSankey {
		return nil, mperr.Newf(mperr.CodeValidationError,
			"flows query_type must be %q or %q, got %q", FlowsTypeDefault, FlowsTypeSankey, queryType)
	}
	q := url.Values{}
	q.Set("bookmark_id", strconv.FormatInt(bookmarkID, 10))
	q.Set("query_type", string(queryType))
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathArbFunnels, query: q, endpoint: "flows",
	})
}

// EventCountsParams scope a multi-event counts query.
type EventCountsParams struct {
	Events   []string // required
	FromDate string   // required
	ToDate   string   // required
	Type     string   // general, unique, average
	Unit     string   // minute, hour, day, week, month
}

// EventCounts returns per-event time series counts.
func (c *Client) EventCounts(ctx context.Context, p EventCountsParams) (json.RawMessage, error) {
	if len(p.Events) == 0 {
		return nil, mperr.New(mperr.CodeValidationError, "event counts require at least one event name")
	}
	if err := validateDateRange(p.FromDate, p.ToDate); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("event", jsonParam(p.Events))
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	setIfPresent(q, "type", p.Type)
	setIfPresent(q, "unit", p.Unit)
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathEvents, query: q, endpoint: "event_counts",
	})
}

// PropertyCountsParams scope a per-property-value counts query.
type PropertyCountsParams struct {
	Event    string // required
	Name     string // required property name
	FromDate string // required
	ToDate   string // required
	Values   []string
	Type     string
	Unit     string
	Limit    int
}

// PropertyCounts returns time series counts segmented by property value.
func (c *Client) PropertyCounts(ctx context.Context, p PropertyCountsParams) (json.RawMessage, error) {
	if p.Event == "" || p.Name == "" {
		return nil, mperr.New(mperr.CodeValidationError, "property counts require an event and a property name")
	}
	if err := validateDateRange(p.FromDate, p.ToDate); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("event", p.Event)
	q.Set("name", p.Name)
	q.Set("from_date", p.FromDate)
	q.Set("to_date", p.ToDate)
	if len(p.Values) > 0 {
		q.Set("values", jsonParam(p.Values))
	}
	setIfPresent(q, "type", p.Type)
	setIfPresent(q, "unit", p.Unit)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathEventsProperties, query: q, endpoint: "property_counts",
	})
}

// TopEvents returns today's most frequent events with percent change.
func (c *Client) TopEvents(ctx context.Context, eventType string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	setIfPresent(q, "type", eventType)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathEventsTop, query: q, endpoint: "top_events",
	})
}

// ActivityFeed returns the raw event stream for specific users.
func (c *Client) ActivityFeed(ctx context.Context, distinctIDs []string, fromDate, toDate string) (json.RawMessage, error) {
	if len(distinctIDs) == 0 {
		return nil, mperr.New(mperr.CodeValidationError, "activity feed requires at least one distinct_id")
	}
	if err := validateDateRange(fromDate, toDate); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("distinct_ids", jsonParam(distinctIDs))
	q.Set("from_date", fromDate)
	q.Set("to_date", toDate)
	return c.rawQuery(ctx, request{
		method: http.MethodGet, path: pathActivityStream, query: q, endpoint: "activity_feed",
	})
}

// rawQuery executes a request and returns the undecoded JSON payload.
func (c *Client) rawQuery(ctx context.Context, r request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, r, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// FunnelInfo identifies a saved funnel.
type FunnelInfo struct {
	FunnelID int64  `json:"funnel_id"`
	Name     string `json:"name"`
}

// ListFunnels returns the project's saved funnels.
func (c *Client) ListFunnels(ctx context.Context) ([]FunnelInfo, error) {
	var out []FunnelInfo
	err := c.getJSON(ctx, request{
		method: http.MethodGet, path: pathFunnelsList, endpoint: "funnels_list",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cohort describes a saved user segment.
type Cohort struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Count       int64  `json:"count"`
	Created     string `json:"created"`
	IsVisible   int    `json:"is_visible"`
	ProjectID   int64  `json:"project_id"`
}

// ListCohorts returns the project's saved cohorts.
func (c *Client) ListCohorts(ctx context.Context) ([]Cohort, error) {
	var out []Cohort
	err := c.getJSON(ctx, request{
		method: http.MethodPost, path: pathCohortsList, form: url.Values{}, endpoint: "cohorts_list",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListEventNames returns event names seen in the project.
func (c *Client) ListEventNames(ctx context.Context, eventType string, limit int) ([]string, error) {
	q := url.Values{}
	setIfPresent(q, "type", eventType)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []string
	err := c.getJSON(ctx, request{
		method: http.MethodGet, path: pathEventsNames, query: q, endpoint: "event_names",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PropertyUsage is the per-property sample statistics returned by the
// top-properties endpoint.
type PropertyUsage struct {
	Count int64 `json:"count"`
}

// ListEventProperties returns the properties observed on an event with
// usage counts.
func (c *Client) ListEventProperties(ctx context.Context, event string, limit int) (map[string]PropertyUsage, error) {
	if event == "" {
		return nil, mperr.New(mperr.CodeValidationError, "listing event properties requires an event name")
	}
	q := url.Values{}
	q.Set("event", event)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out map[string]PropertyUsage
	err := c.getJSON(ctx, request{
		method: http.MethodGet, path: pathEventsPropertiesTop, query: q, endpoint: "event_properties",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPropertyValues returns sample values for one event property.
func (c *Client) ListPropertyValues(ctx context.Context, event, name string, limit int) ([]string, error) {
	if event == "" || name == "" {
		return nil, mperr.New(mperr.CodeValidationError, "listing property values requires an event and a property name")
	}
	q := url.Values{}
	q.Set("event", event)
	q.Set("name", name)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []string
	err := c.getJSON(ctx, request{
		method: http.MethodGet, path: pathEventsPropertyValues, query: q, endpoint: "property_values",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Bookmark identifies a saved report and its family.
type Bookmark struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // insights, funnels, retention, flows, launch-analysis
	Description string `json:"description"`
}

// ListBookmarks returns the project's saved reports.
func (c *Client) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	var out struct {
		Results []Bookmark `json:"results"`
	}
	err := c.getJSON(ctx, request{
		method:   http.MethodGet,
		path:     fmt.Sprintf("/api/app/projects/%s/bookmarks", c.creds.ProjectID),
		endpoint: "bookmarks",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// LexiconSchema is one entry from the project's data dictionary.
type LexiconSchema struct {
	EntityType string          `json:"entityType"`
	Name       string          `json:"name"`
	SchemaJSON json.RawMessage `json:"schemaJson"`
}

// LexiconSchemas returns the project's lexicon (data dictionary) entries.
func (c *Client) LexiconSchemas(ctx context.Context) ([]LexiconSchema, error) {
	var out struct {
		Results []LexiconSchema `json:"results"`
	}
	err := c.getJSON(ctx, request{
		method:   http.MethodGet,
		path:     fmt.Sprintf("/api/app/projects/%s/schemas", c.creds.ProjectID),
		endpoint: "lexicon_schemas",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}
