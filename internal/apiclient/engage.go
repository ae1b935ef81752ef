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
	"time"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// maxDistinctIDs caps the distinct_ids filter size accepted by the
// engage endpoint.
const maxDistinctIDs = 2000

// EngageParams selects which user profiles to page through.
type EngageParams struct {
	Where            string   // optional selector expression
	DistinctID       string   // single profile lookup
	DistinctIDs      []string // batch lookup, mutually exclusive with DistinctID
	CohortID         int64    // filter to a saved cohort
	Behaviors        int64    // behavioral query id, mutually exclusive with CohortID
	AsOfTimestamp    int64    // epoch seconds anchor for Behaviors, defaulted to now
	IncludeAllUsers  *bool    // cohort option, defaults to true
	DataGroupID      string   // group profiles instead of user profiles
	OutputProperties []string // restrict returned profile properties
}

// Validate enforces argument rules client-side so malformed filter
// combinations never reach the network.
func (p *EngageParams) Validate() error {
	if p.DistinctID != "" && len(p.DistinctIDs) > 0 {
		return mperr.New(mperr.CodeValidationError,
			"distinct_id and distinct_ids are mutually exclusive")
	}
	if len(p.DistinctIDs) > maxDistinctIDs {
		return mperr.Newf(mperr.CodeValidationError,
			"distinct_ids accepts at most %d ids, got %d", maxDistinctIDs, len(p.DistinctIDs)).
			WithDetail("count", len(p.DistinctIDs))
	}
	if p.Behaviors != 0 && p.CohortID != 0 {
		return mperr.New(mperr.CodeValidationError,
			"behaviors and cohort_id are mutually exclusive")
	}
	if p.Behaviors != 0 && p.AsOfTimestamp == 0 {
		p.AsOfTimestamp = time.Now().Unix()
	}
	if p.IncludeAllUsers != nil && p.CohortID == 0 {
		return mperr.New(mperr.CodeValidationError,
			"include_all_users requires cohort_id")
	}
	return nil
}

func (p *EngageParams) form() url.Values {
	f := url.Values{}
	setIfPresent(f, "where", p.Where)
	setIfPresent(f, "distinct_id", p.DistinctID)
	if len(p.DistinctIDs) > 0 {
		f.Set("distinct_ids", jsonParam(p.DistinctIDs))
	}
	if p.CohortID != 0 {
		f.Set("filter_by_cohort", fmt.Sprintf(`{"id":%d}`, p.CohortID))
		include := true
		if p.IncludeAllUsers != nil {
			include = *p.IncludeAllUsers
		}
		f.Set("include_all_users", strconv.FormatBool(include))
	}
	if p.Behaviors != 0 {
		f.Set("behaviors", strconv.FormatInt(p.Behaviors, 10))
		f.Set("as_of_timestamp", strconv.FormatInt(p.AsOfTimestamp, 10))
	}
	setIfPresent(f, "data_group_id", p.DataGroupID)
	if len(p.OutputProperties) > 0 {
		f.Set("output_properties", jsonParam(p.OutputProperties))
	}
	return f
}

// engageResponse is one page of the engage API.
type engageResponse struct {
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
	SessionID string           `json:"session_id"`
	Status    string           `json:"status"`
	Total     int64            `json:"total"`
	Results   []models.Profile `json:"results"`
}

// ProfileIterator pages through user profiles, one server page at a
// time. Pagination state (session id, page cursor) is managed
// internally.
type ProfileIterator struct {
	ctx       context.Context
	client    *Client
	base      url.Values
	sessionID string
	page      int
	total     int64
	started   bool
	done      bool
	buf       []models.Profile
	idx       int
	err       error
}

// EngageProfiles starts a paged profile query. Parameter validation
// happens before any request is sent.
func (c *Client) EngageProfiles(ctx context.Context, p EngageParams) (*ProfileIterator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &ProfileIterator{ctx: ctx, client: c, base: p.form()}, nil
}

// Next advances to the next profile, transparently fetching pages as
// needed. It returns false at end of data or on error; check Err.
func (it *ProfileIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.idx >= len(it.buf) {
		if it.done {
			return false
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return false
		}
	}
	it.idx++
	return true
}

// Profile returns the profile most recently yielded by Next.
func (it *ProfileIterator) Profile() models.Profile { return it.buf[it.idx-1] }

// Total reports the server-side match count, available after the first
// page has been fetched.
func (it *ProfileIterator) Total() int64 { return it.total }

// Err reports the first error encountered during iteration.
func (it *ProfileIterator) Err() error { return it.err }

func (it *ProfileIterator) fetchPage() error {
	form := url.Values{}
	for k, vs := range it.base {
		form[k] = vs
	}
	if it.started {
		form.Set("session_id", it.sessionID)
		form.Set("page", strconv.Itoa(it.page+1))
	}
	var resp engageResponse
	err := it.client.getJSON(it.ctx, request{
		method:   http.MethodPost,
		path:     pathEngage,
		form:     form,
		endpoint: "engage",
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "" && resp.Status != "ok" {
		return mperr.Newf(mperr.CodeQueryFailed, "engage query returned status %q", resp.Status)
	}
	it.started = true
	it.sessionID = resp.SessionID
	it.page = resp.Page
	it.total = resp.Total
	it.buf = resp.Results
	it.idx = 0
	// Only an empty page ends pagination. A short page can still have
	// successors when profiles churn or server-side filtering trims it.
	if len(resp.Results) == 0 {
		it.done = true
	}
	logging.Trace().
		Int("page", resp.Page).
		Int("results", len(resp.Results)).
		Int64("total", resp.Total).
		Msg("engage page fetched")
	return nil
}
