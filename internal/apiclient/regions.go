// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package apiclient

import (
	"net/url"
	"regexp"
	"time"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/creds"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// regionBaseURL maps a data residency region to its API authority.
func regionBaseURL(r creds.Region) string {
	switch r {
	case creds.RegionEU:
		return "https://eu.mixpanel.com"
	case creds.RegionIN:
		return "https://in.mixpanel.com"
	default:
		return "https://mixpanel.com"
	}
}

// API paths.
const (
	pathExport               = "/api/2.0/export"
	pathEngage               = "/api/2.0/engage"
	pathSegmentation         = "/api/query/segmentation"
	pathSegmentationNumeric  = "/api/query/segmentation/numeric"
	pathSegmentationSum      = "/api/query/segmentation/sum"
	pathSegmentationAverage  = "/api/query/segmentation/average"
	pathFunnels              = "/api/query/funnels"
	pathFunnelsList          = "/api/query/funnels/list"
	pathRetention            = "/api/query/retention"
	pathFrequency            = "/api/query/retention/addiction"
	pathJQL                  = "/api/query/jql"
	pathInsights             = "/api/query/insights"
	pathArbFunnels           = "/api/query/arb_funnels"
	pathEvents               = "/api/query/events"
	pathEventsTop            = "/api/query/events/top"
	pathEventsNames          = "/api/query/events/names"
	pathEventsProperties     = "/api/query/events/properties"
	pathEventsPropertiesTop  = "/api/query/events/properties/top"
	pathEventsPropertyValues = "/api/query/events/properties/values"
	pathActivityStream       = "/api/query/stream/query"
	pathCohortsList          = "/api/query/cohorts/list"
)

// dateFormat is the wire form of from_date/to_date.
const dateFormat = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// validateDateRange checks YYYY-MM-DD syntax and ordering before any
// network I/O.
func validateDateRange(fromDate, toDate string) error {
	for name, v := range map[string]string{"from_date": fromDate, "to_date": toDate} {
		if !dateRe.MatchString(v) {
			return mperr.Newf(mperr.CodeValidationError,
				"%s %q is not a YYYY-MM-DD date", name, v).WithDetail(name, v)
		}
		if _, err := time.Parse(dateFormat, v); err != nil {
			return mperr.Newf(mperr.CodeValidationError,
				"%s %q is not a valid date", name, v).WithDetail(name, v)
		}
	}
	if toDate < fromDate {
		return mperr.Newf(mperr.CodeValidationError,
			"from_date %s is after to_date %s", fromDate, toDate)
	}
	return nil
}

// jsonParam JSON-encodes list or object parameters the way the query API
// expects (e.g. event=["Signup","Purchase"]).
func jsonParam(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// setIfPresent sets a query parameter only for non-empty values.
func setIfPresent(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
