// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package discovery wraps the schema-discovery endpoints with a
// session-scoped cache. Names and property lists come back sorted;
// property values keep the server's order. Top events and bookmarks are
// never cached: the former is a time-of-day signal, the latter changes
// under the user's feet.
package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/apiclient"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/results"
)

// cacheKey is the value-typed composite key of one discovery call: the
// method discriminant plus its normalized argument tuple.
type cacheKey struct {
	method   string
	event    string
	property string
	limit    int
}

// Service answers discovery queries with per-instance memoization. The
// cache dies with the Service; nothing persists across sessions.
type Service struct {
	client *apiclient.Client

	mu    sync.Mutex
	cache map[cacheKey]any
}

// New creates a discovery service on top of an API client.
func New(client *apiclient.Client) *Service {
	return &Service{client: client, cache: make(map[cacheKey]any)}
}

// ClearCache empties the session cache.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[cacheKey]any)
}

// cached returns the memoized value for key, fetching and storing it on
// first use. Errors are never cached.
func cached[T any](s *Service, key cacheKey, fetch func() (T, error)) (T, error) {
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		metrics.RecordDiscoveryCache(true)
		return v.(T), nil
	}
	s.mu.Unlock()
	metrics.RecordDiscoveryCache(false)

	v, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}

	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, nil
}

// ListEvents returns the project's event names, sorted. Cached.
func (s *Service) ListEvents(ctx context.Context, limit int) ([]string, error) {
	return cached(s, cacheKey{method: "events", limit: limit}, func() ([]string, error) {
		names, err := s.client.ListEventNames(ctx, "", limit)
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		return names, nil
	})
}

// ListEventProperties returns the property names observed on an event,
// sorted. Cached.
func (s *Service) ListEventProperties(ctx context.Context, event string, limit int) ([]string, error) {
	if event == "" {
		return nil, mperr.New(mperr.CodeValidationError, "listing event properties requires an event name")
	}
	key := cacheKey{method: "properties", event: event, limit: limit}
	return cached(s, key, func() ([]string, error) {
		usage, err := s.client.ListEventProperties(ctx, event, limit)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(usage))
		for name := range usage {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	})
}

// ListPropertyValues returns sample values of one event property in
// server order. Cached; deliberately not sorted, the server ranks by
// frequency.
func (s *Service) ListPropertyValues(ctx context.Context, event, property string, limit int) ([]string, error) {
	if event == "" || property == "" {
		return nil, mperr.New(mperr.CodeValidationError,
			"listing property values requires an event and a property name")
	}
	key := cacheKey{method: "property_values", event: event, property: property, limit: limit}
	return cached(s, key, func() ([]string, error) {
		return s.client.ListPropertyValues(ctx, event, property, limit)
	})
}

// ListFunnels returns the project's saved funnels sorted by name. Cached.
func (s *Service) ListFunnels(ctx context.Context) ([]apiclient.FunnelInfo, error) {
	return cached(s, cacheKey{method: "funnels"}, func() ([]apiclient.FunnelInfo, error) {
		funnels, err := s.client.ListFunnels(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(funnels, func(i, j int) bool { return funnels[i].Name < funnels[j].Name })
		return funnels, nil
	})
}

// ListCohorts returns the project's saved cohorts sorted by name. Cached.
func (s *Service) ListCohorts(ctx context.Context) ([]apiclient.Cohort, error) {
	return cached(s, cacheKey{method: "cohorts"}, func() ([]apiclient.Cohort, error) {
		cohorts, err := s.client.ListCohorts(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(cohorts, func(i, j int) bool { return cohorts[i].Name < cohorts[j].Name })
		return cohorts, nil
	})
}

// LexiconSchemas returns the project's data dictionary entries sorted by
// name. Cached.
func (s *Service) LexiconSchemas(ctx context.Context) ([]apiclient.LexiconSchema, error) {
	return cached(s, cacheKey{method: "lexicon"}, func() ([]apiclient.LexiconSchema, error) {
		schemas, err := s.client.LexiconSchemas(ctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
		return schemas, nil
	})
}

// ListBookmarks returns the project's saved reports. Never cached.
func (s *Service) ListBookmarks(ctx context.Context) ([]apiclient.Bookmark, error) {
	return s.client.ListBookmarks(ctx)
}

// topEventsWire mirrors the /events/top envelope.
type topEventsWire struct {
	Events []struct {
		Event         string  `json:"event"`
		Amount        int64   `json:"amount"`
		PercentChange float64 `json:"percent_change"`
	} `json:"events"`
	Type string `json:"type"`
}

// ListTopEvents returns today's top events in ranking order. Never
// cached: the ranking shifts with the time of day.
func (s *Service) ListTopEvents(ctx context.Context, eventType string, limit int) (*results.TopEvents, error) {
	raw, err := s.client.TopEvents(ctx, eventType, limit)
	if err != nil {
		return nil, err
	}
	var wire topEventsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "decoding top events response", err)
	}
	events := make([]results.TopEvent, 0, len(wire.Events))
	for _, ev := range wire.Events {
		events = append(events, results.TopEvent{
			Event:         ev.Event,
			Amount:        ev.Amount,
			PercentChange: ev.PercentChange,
		})
	}
	return &results.TopEvents{Type: wire.Type, Events: events}, nil
}
