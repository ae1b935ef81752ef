// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package creds

import (
	"path/filepath"
	"testing"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvUsername, EnvSecret, EnvProjectID, EnvRegion, EnvConfigPath} {
		t.Setenv(key, "")
	}
}

func TestResolveEnvWinsOverDefaultAccount(t *testing.T) {
	clearCredentialEnv(t)

	store := newTestStore(t)
	if err := store.Add("prod", mustCreds(t, "file_user", "file-secret-val", "999", RegionUS), true); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Setenv(EnvUsername, "env_u")
	t.Setenv(EnvSecret, "env_s")
	t.Setenv(EnvProjectID, "123")
	t.Setenv(EnvRegion, "eu")

	c, err := ResolveWithStore("", store)
	if err != nil {
		t.Fatalf("ResolveWithStore failed: %v", err)
	}
	if c.Username != "env_u" {
		t.Errorf("username = %q, want env_u (env wins)", c.Username)
	}
	if c.Region != RegionEU {
		t.Errorf("region = %q, want eu (env wins)", c.Region)
	}
	if c.ProjectID != "123" {
		t.Errorf("project_id = %q, want 123", c.ProjectID)
	}
}

func TestResolvePartialEnvFallsThrough(t *testing.T) {
	clearCredentialEnv(t)

	store := newTestStore(t)
	if err := store.Add("prod", mustCreds(t, "file_user", "file-secret-val", "999", RegionIN), true); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Only two of four env vars set: environment must be ignored.
	t.Setenv(EnvUsername, "env_u")
	t.Setenv(EnvSecret, "env_s")

	c, err := ResolveWithStore("", store)
	if err != nil {
		t.Fatalf("ResolveWithStore failed: %v", err)
	}
	if c.Username != "file_user" {
		t.Errorf("username = %q, want file_user (partial env ignored)", c.Username)
	}
	if c.Region != RegionIN {
		t.Errorf("region = %q, want in", c.Region)
	}
}

func TestResolveNamedAccount(t *testing.T) {
	clearCredentialEnv(t)

	store := newTestStore(t)
	if err := store.Add("dflt", mustCreds(t, "default_user", "default-secret", "1", RegionUS), true); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := store.Add("staging", mustCreds(t, "staging_user", "staging-secret", "2", RegionEU), false); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	c, err := ResolveWithStore("staging", store)
	if err != nil {
		t.Fatalf("ResolveWithStore failed: %v", err)
	}
	if c.Username != "staging_user" {
		t.Errorf("username = %q, want staging_user", c.Username)
	}
}

func TestResolveNamedAccountMissing(t *testing.T) {
	clearCredentialEnv(t)

	store := newTestStore(t)
	_, err := ResolveWithStore("ghost", store)
	if !mperr.IsCode(err, mperr.CodeAccountNotFound) {
		t.Errorf("missing named account = %v, want ACCOUNT_NOT_FOUND", err)
	}
}

func TestResolveNothingConfigured(t *testing.T) {
	clearCredentialEnv(t)

	store := newTestStore(t)
	_, err := ResolveWithStore("", store)
	if !mperr.IsCode(err, mperr.CodeConfigError) {
		t.Fatalf("empty resolution = %v, want CONFIG_ERROR", err)
	}
}

func TestResolveInvalidEnvRegion(t *testing.T) {
	clearCredentialEnv(t)

	t.Setenv(EnvUsername, "env_u")
	t.Setenv(EnvSecret, "env_s")
	t.Setenv(EnvProjectID, "123")
	t.Setenv(EnvRegion, "mars")

	store := newTestStore(t)
	_, err := ResolveWithStore("", store)
	if !mperr.IsCode(err, mperr.CodeConfigError) {
		t.Errorf("invalid region = %v, want CONFIG_ERROR", err)
	}
}

func TestDefaultConfigPathHonorsOverride(t *testing.T) {
	override := filepath.Join(t.TempDir(), "custom", "accounts.toml")
	t.Setenv(EnvConfigPath, override)

	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath failed: %v", err)
	}
	if path != override {
		t.Errorf("path = %q, want %q", path, override)
	}
}

func TestDefaultConfigPathUnderHome(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath failed: %v", err)
	}
	want := filepath.Join(home, AppDirName, ConfigFileName)
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}
