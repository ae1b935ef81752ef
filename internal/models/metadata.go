// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package models

import "time"

// TableType discriminates the two fixed local schemas.
type TableType string

// Table types.
const (
	TableTypeEvents   TableType = "events"
	TableTypeProfiles TableType = "profiles"
)

// TableMetadata is one row of the reserved _metadata table: the fetch
// provenance of a user table. Filters record what was requested, not what
// arrived.
type TableMetadata struct {
	TableName       string    `json:"table_name"`
	Type            TableType `json:"type"`
	FetchedAt       time.Time `json:"fetched_at"`
	FromDate        string    `json:"from_date,omitempty"`
	ToDate          string    `json:"to_date,omitempty"`
	FilterEvents    []string  `json:"filter_events,omitempty"`
	FilterWhere     string    `json:"filter_where,omitempty"`
	FilterCohortID  string    `json:"filter_cohort_id,omitempty"`
	FilterGroupID   string    `json:"filter_group_id,omitempty"`
	FilterBehaviors string    `json:"filter_behaviors,omitempty"`
	RowCount        int64     `json:"row_count"`
}
