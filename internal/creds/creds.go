// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package creds resolves Mixpanel service account credentials from the
// process environment, a named account, or the default account, and
// manages the on-disk accounts file.
//
// Resolution order (resolve(account?)):
//  1. Environment: MP_USERNAME, MP_SECRET, MP_PROJECT_ID, MP_REGION —
//     used only when all four are set.
//  2. The named account, when a name is given.
//  3. The default account from the accounts file.
//
// Secrets are held in the opaque Secret type and never appear in logs,
// errors, or serialized output.
package creds

import (
	"fmt"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// Region selects the Mixpanel data residency cluster, which determines
// every API hostname.
type Region string

// Supported regions.
const (
	RegionUS Region = "us"
	RegionEU Region = "eu"
	RegionIN Region = "in"
)

// ParseRegion validates a region string. Empty defaults to us.
func ParseRegion(s string) (Region, error) {
	switch Region(s) {
	case "":
		return RegionUS, nil
	case RegionUS, RegionEU, RegionIN:
		return Region(s), nil
	default:
		return "", mperr.Newf(mperr.CodeConfigError,
			"invalid region %q: must be one of us, eu, in", s)
	}
}

// Credentials is a frozen identity for one Mixpanel project. Construct
// via Resolve or NewCredentials; treat as immutable.
type Credentials struct {
	Username  string
	Secret    Secret
	ProjectID string
	Region    Region
}

// NewCredentials builds validated credentials.
func NewCredentials(username, secret, projectID string, region Region) (Credentials, error) {
	c := Credentials{
		Username:  username,
		Secret:    NewSecret(secret),
		ProjectID: projectID,
		Region:    region,
	}
	if c.Region == "" {
		c.Region = RegionUS
	}
	if err := c.Validate(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Validate checks that all required fields are present and the region is
// known.
func (c Credentials) Validate() error {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Secret.IsZero() {
		missing = append(missing, "secret")
	}
	if c.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if len(missing) > 0 {
		return mperr.Newf(mperr.CodeConfigError,
			"incomplete credentials: missing %v", missing)
	}
	if _, err := ParseRegion(string(c.Region)); err != nil {
		return err
	}
	return nil
}

// String renders the credentials with the secret redacted.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{username: %s, secret: %s, project_id: %s, region: %s}",
		c.Username, c.Secret, c.ProjectID, c.Region)
}
