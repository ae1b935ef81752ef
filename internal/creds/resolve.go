// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package creds

import (
	"os"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// Credential environment variables. All four must be set for the
// environment to take precedence; partial sets are ignored.
const (
	EnvUsername   = "MP_USERNAME"
	EnvSecret     = "MP_SECRET"
	EnvProjectID  = "MP_PROJECT_ID"
	EnvRegion     = "MP_REGION"
	EnvConfigPath = "MP_CONFIG_PATH"
)

// Resolve produces credentials using the default accounts file location.
// The order is: environment (all four variables), then the named account
// when accountName is non-empty, then the default account.
func Resolve(accountName string) (Credentials, error) {
	store, err := DefaultStore()
	if err != nil {
		return Credentials{}, err
	}
	return ResolveWithStore(accountName, store)
}

// ResolveWithStore is Resolve against an explicit accounts store.
func ResolveWithStore(accountName string, store *Store) (Credentials, error) {
	if c, ok, err := fromEnvironment(); err != nil {
		return Credentials{}, err
	} else if ok {
		logging.Debug().
			Str("source", "environment").
			Str("username", logging.SanitizeUsername(c.Username)).
			Str("region", string(c.Region)).
			Msg("credentials resolved")
		return c, nil
	}

	if accountName != "" {
		c, err := store.Get(accountName)
		if err != nil {
			return Credentials{}, err
		}
		logging.Debug().
			Str("source", "account").
			Str("account", accountName).
			Msg("credentials resolved")
		return c, nil
	}

	c, name, err := store.GetDefault()
	if err != nil {
		if mperr.IsCode(err, mperr.CodeConfigError) {
			return Credentials{}, mperr.New(mperr.CodeConfigError,
				"no credentials found: set MP_USERNAME, MP_SECRET, MP_PROJECT_ID and MP_REGION, "+
					"or add an account to "+store.Path())
		}
		return Credentials{}, err
	}
	logging.Debug().
		Str("source", "default_account").
		Str("account", name).
		Msg("credentials resolved")
	return c, nil
}

// fromEnvironment reads the credential environment variables. It reports
// ok=false when any of the four is unset, so partially configured
// environments fall through to the accounts file.
func fromEnvironment() (Credentials, bool, error) {
	username := os.Getenv(EnvUsername)
	secret := os.Getenv(EnvSecret)
	projectID := os.Getenv(EnvProjectID)
	regionStr := os.Getenv(EnvRegion)

	if username == "" || secret == "" || projectID == "" || regionStr == "" {
		return Credentials{}, false, nil
	}

	region, err := ParseRegion(regionStr)
	if err != nil {
		return Credentials{}, false, err
	}

	return Credentials{
		Username:  username,
		Secret:    NewSecret(secret),
		ProjectID: projectID,
		Region:    region,
	}, true, nil
}
