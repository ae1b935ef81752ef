// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package mixpaneldata is the public surface of the library: credential
// resolution, the Mixpanel API client, the local DuckDB store, and the
// fetch, discovery, and live-query services. CLI and MCP hosts consume
// this package; everything underneath lives in internal.
package mixpaneldata

import (
	"net/http"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/apiclient"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/config"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/creds"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/discovery"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/fetcher"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/livequery"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/models"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/results"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/store"
)

// Credential types.
type (
	Credentials = creds.Credentials
	Secret      = creds.Secret
	Region      = creds.Region
	AccountInfo = creds.AccountInfo
	Accounts    = creds.Store
)

// Regions.
const (
	RegionUS = creds.RegionUS
	RegionEU = creds.RegionEU
	RegionIN = creds.RegionIN
)

// Error taxonomy. Every boundary error is an *Error carrying
// {code, message, details} and serializing without secrets.
type (
	Error     = mperr.Error
	ErrorCode = mperr.Code
)

// Error codes.
const (
	CodeConfigError      = mperr.CodeConfigError
	CodeAccountNotFound  = mperr.CodeAccountNotFound
	CodeAccountExists    = mperr.CodeAccountExists
	CodeAuthFailed       = mperr.CodeAuthFailed
	CodeRateLimited      = mperr.CodeRateLimited
	CodeQueryFailed      = mperr.CodeQueryFailed
	CodeJQLSyntax        = mperr.CodeJQLSyntax
	CodeServerError      = mperr.CodeServerError
	CodeTableExists      = mperr.CodeTableExists
	CodeTableNotFound    = mperr.CodeTableNotFound
	CodeDatabaseLocked   = mperr.CodeDatabaseLocked
	CodeDatabaseNotFound = mperr.CodeDatabaseNotFound
	CodeValidationError  = mperr.CodeValidationError
)

// ErrorCodeOf extracts the taxonomy code from any error, or empty when
// the error did not cross a library boundary.
func ErrorCodeOf(err error) ErrorCode { return mperr.CodeOf(err) }

// API client types.
type (
	Client          = apiclient.Client
	ClientOption    = apiclient.Option
	ExportParams    = apiclient.ExportParams
	EngageParams    = apiclient.EngageParams
	EventIterator   = apiclient.EventIterator
	ProfileIterator = apiclient.ProfileIterator
)

// Query parameter types.
type (
	SegmentationParams   = apiclient.SegmentationParams
	FunnelParams         = apiclient.FunnelParams
	RetentionParams      = apiclient.RetentionParams
	FrequencyParams      = apiclient.FrequencyParams
	EventCountsParams    = apiclient.EventCountsParams
	PropertyCountsParams = apiclient.PropertyCountsParams
	FlowsQueryType       = apiclient.FlowsQueryType
)

// WithHTTPClient replaces the client's HTTP transport.
func WithHTTPClient(hc *http.Client) ClientOption { return apiclient.WithHTTPClient(hc) }

// WithBaseURL overrides regional routing; test servers and proxies use
// this.
func WithBaseURL(u string) ClientOption { return apiclient.WithBaseURL(u) }

// NewSecret wraps a raw secret in the redacting opaque type.
func NewSecret(value string) Secret { return creds.NewSecret(value) }

// Storage engine types.
type (
	Store         = store.Store
	StoreOption   = store.Option
	IngestOptions = store.IngestOptions
	Table         = store.Table
	RowSet        = store.RowSet
	TableInfo     = store.TableInfo
	ColumnSchema  = store.ColumnSchema
	TableSummary  = store.TableSummary
	ColumnStats   = store.ColumnStats
	TableMetadata = models.TableMetadata
	Event         = models.Event
	Profile       = models.Profile
)

// Service types.
type (
	Fetcher             = fetcher.Service
	FetchResult         = fetcher.FetchResult
	ParallelFetchResult = fetcher.ParallelFetchResult
	ChunkResult         = fetcher.ChunkResult
	EventOptions        = fetcher.EventOptions
	ProfileOptions      = fetcher.ProfileOptions
	ParallelOptions     = fetcher.ParallelOptions
	Discovery           = discovery.Service
	LiveQuery           = livequery.Service
)

// Result records.
type (
	Segmentation   = results.Segmentation
	Funnel         = results.Funnel
	Retention      = results.Retention
	Insights       = results.Insights
	Flows          = results.Flows
	JQL            = results.JQL
	EventCounts    = results.EventCounts
	PropertyCounts = results.PropertyCounts
	Frequency      = results.Frequency
	NumericBucket  = results.NumericBucket
	NumericSum     = results.NumericSum
	NumericAverage = results.NumericAverage
	ActivityFeed   = results.ActivityFeed
	TopEvents      = results.TopEvents
	ResultTable    = results.Table
)

// ToDict renders a result record as a plain serializable map.
func ToDict(record any) (map[string]any, error) { return results.ToDict(record) }

// ResolveCredentials resolves credentials from the environment, a named
// account, or the default account, in that order. Pass "" to skip the
// named-account step.
func ResolveCredentials(accountName string) (Credentials, error) {
	return creds.Resolve(accountName)
}

// DefaultAccounts opens the account store at its default (or
// MP_CONFIG_PATH-overridden) location.
func DefaultAccounts() (*Accounts, error) { return creds.DefaultStore() }

// NewClient creates an API client for the given credentials.
func NewClient(cr Credentials, opts ...ClientOption) *Client {
	return apiclient.New(cr, opts...)
}

// OpenStore opens (or creates) a persistent store file.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	return store.Open(path, opts...)
}

// OpenDefaultStore opens the per-project store under the user's data
// directory.
func OpenDefaultStore(projectID string, opts ...StoreOption) (*Store, error) {
	return store.OpenDefault(projectID, opts...)
}

// OpenMemoryStore opens a store with no disk footprint.
func OpenMemoryStore(opts ...StoreOption) (*Store, error) {
	return store.OpenMemory(opts...)
}

// OpenEphemeralStore opens a temp-file store deleted on Close or
// process exit.
func OpenEphemeralStore(opts ...StoreOption) (*Store, error) {
	return store.OpenEphemeral(opts...)
}

// WithEphemeralStore runs fn against an ephemeral store and removes the
// file when fn returns, normally or not.
func WithEphemeralStore(fn func(*Store) error, opts ...StoreOption) error {
	return store.WithEphemeral(fn, opts...)
}

// Workspace bundles the services a session needs: one client, one store
// handle, and the three services that share them.
type Workspace struct {
	Credentials Credentials
	Client      *Client
	Store       *Store
	Fetcher     *Fetcher
	Discovery   *Discovery
	LiveQuery   *LiveQuery
}

// NewWorkspace resolves credentials, opens the project's default store,
// and wires the services. accountName may be empty.
func NewWorkspace(accountName string, clientOpts ...ClientOption) (*Workspace, error) {
	cr, err := creds.Resolve(accountName)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenDefault(cr.ProjectID)
	if err != nil {
		return nil, err
	}
	return newWorkspace(cr, st, clientOpts...), nil
}

// NewWorkspaceWithStore wires services around an existing store handle;
// the caller keeps ownership of the store.
func NewWorkspaceWithStore(cr Credentials, st *Store, clientOpts ...ClientOption) *Workspace {
	return newWorkspace(cr, st, clientOpts...)
}

func newWorkspace(cr Credentials, st *Store, clientOpts ...ClientOption) *Workspace {
	client := apiclient.New(cr, clientOpts...)
	return &Workspace{
		Credentials: cr,
		Client:      client,
		Store:       st,
		Fetcher:     fetcher.New(client, st, config.Default().Fetch),
		Discovery:   discovery.New(client),
		LiveQuery:   livequery.New(client),
	}
}

// Close releases the workspace's store handle.
func (w *Workspace) Close() error {
	if w.Store == nil {
		return nil
	}
	return w.Store.Close()
}
