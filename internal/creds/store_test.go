// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package creds

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "config.toml"))
}

func mustCreds(t *testing.T, username, secret, projectID string, region Region) Credentials {
	t.Helper()
	c, err := NewCredentials(username, secret, projectID, region)
	if err != nil {
		t.Fatalf("NewCredentials failed: %v", err)
	}
	return c
}

func TestStoreAddAndGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := mustCreds(t, "svc.user", "s3cret-value", "12345", RegionUS)

	if err := store.Add("prod", c, false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := store.Get("prod")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "svc.user" || got.ProjectID != "12345" || got.Region != RegionUS {
		t.Errorf("Get returned wrong account: %+v", got)
	}
	if got.Secret.Reveal() != "s3cret-value" {
		t.Error("stored secret did not round-trip")
	}
}

func TestStoreFirstAccountBecomesDefault(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Add("first", mustCreds(t, "u1", "s1-long-secret", "1", RegionUS), false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	_, name, err := store.GetDefault()
	if err != nil {
		t.Fatalf("GetDefault failed: %v", err)
	}
	if name != "first" {
		t.Errorf("default = %q, want first", name)
	}
}

func TestStoreAddDuplicateFails(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	orig := mustCreds(t, "original", "orig-secret-val", "111", RegionUS)
	if err := store.Add("test", orig, false); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}

	dup := mustCreds(t, "intruder", "dup-secret-val", "222", RegionEU)
	err := store.Add("test", dup, false)
	if !mperr.IsCode(err, mperr.CodeAccountExists) {
		t.Fatalf("duplicate Add error = %v, want ACCOUNT_EXISTS", err)
	}

	// The first account must be unchanged.
	got, gerr := store.Get("test")
	if gerr != nil {
		t.Fatalf("Get after failed Add: %v", gerr)
	}
	if got.Username != "original" || got.ProjectID != "111" {
		t.Errorf("failed Add mutated the existing account: %+v", got)
	}
}

func TestStoreRemove(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Add("gone", mustCreds(t, "u", "secret-value-1", "1", RegionUS), false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := store.Remove("gone"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get("gone"); !mperr.IsCode(err, mperr.CodeAccountNotFound) {
		t.Errorf("Get after Remove = %v, want ACCOUNT_NOT_FOUND", err)
	}

	// Removing the default clears it.
	if _, _, err := store.GetDefault(); !mperr.IsCode(err, mperr.CodeConfigError) {
		t.Errorf("GetDefault after removing default = %v, want CONFIG_ERROR", err)
	}
}

func TestStoreRemoveMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Remove("never"); !mperr.IsCode(err, mperr.CodeAccountNotFound) {
		t.Errorf("Remove missing = %v, want ACCOUNT_NOT_FOUND", err)
	}
}

func TestStoreSetDefault(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Add("a", mustCreds(t, "u1", "secret-value-1", "1", RegionUS), false); err != nil {
		t.Fatalf("Add a failed: %v", err)
	}
	if err := store.Add("b", mustCreds(t, "u2", "secret-value-2", "2", RegionEU), false); err != nil {
		t.Fatalf("Add b failed: %v", err)
	}

	if err := store.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	_, name, err := store.GetDefault()
	if err != nil {
		t.Fatalf("GetDefault failed: %v", err)
	}
	if name != "b" {
		t.Errorf("default = %q, want b", name)
	}

	if err := store.SetDefault("missing"); !mperr.IsCode(err, mperr.CodeAccountNotFound) {
		t.Errorf("SetDefault missing = %v, want ACCOUNT_NOT_FOUND", err)
	}
}

func TestStoreListSortedAndRedacted(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Add("zeta", mustCreds(t, "uz", "zeta-secret-val", "1", RegionUS), false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add("alpha", mustCreds(t, "ua", "alpha-secret-val", "2", RegionIN), true); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List returned %d accounts, want 2", len(infos))
	}
	if infos[0].Name != "alpha" || infos[1].Name != "zeta" {
		t.Errorf("List not sorted by name: %q, %q", infos[0].Name, infos[1].Name)
	}
	for _, info := range infos {
		if info.Secret != "***" {
			t.Errorf("List exposed a secret for %q: %q", info.Name, info.Secret)
		}
	}
	if !infos[0].IsDefault || infos[1].IsDefault {
		t.Errorf("IsDefault flags wrong: %+v", infos)
	}
}

func TestStoreFilePermissionsAndContent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Add("prod", mustCreds(t, "svc.user", "raw-secret-on-disk", "99", RegionEU), false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(store.Path())
		if err != nil {
			t.Fatalf("stat accounts file: %v", err)
		}
		if fi.Mode().Perm() != 0o600 {
			t.Errorf("accounts file mode = %o, want 0600", fi.Mode().Perm())
		}
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read accounts file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `default = "prod"`) {
		t.Errorf("file missing default key:\n%s", content)
	}
	if !strings.Contains(content, "[accounts.prod]") {
		t.Errorf("file missing accounts table:\n%s", content)
	}
	// The file is the one sanctioned place the raw secret persists.
	if !strings.Contains(content, "raw-secret-on-disk") {
		t.Errorf("file should persist the raw secret:\n%s", content)
	}
}
