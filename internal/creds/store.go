// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package creds

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

const (
	// AppDirName is the per-user directory holding the accounts file and
	// per-project database files.
	AppDirName = ".mixpanel-data"

	// ConfigFileName is the accounts file name inside AppDirName.
	ConfigFileName = "config.toml"
)

// AccountInfo is the exposure form of a stored account: everything except
// the secret, which is replaced by the redaction placeholder.
type AccountInfo struct {
	Name      string `json:"name"`
	Username  string `json:"username"`
	Secret    string `json:"secret"`
	ProjectID string `json:"project_id"`
	Region    Region `json:"region"`
	IsDefault bool   `json:"is_default"`
}

// storedAccount is the TOML wire form of one account. The secret is a
// plain string here because the file is the one place it legitimately
// persists; the file is written 0600.
type storedAccount struct {
	Username  string `toml:"username"`
	Secret    string `toml:"secret"`
	ProjectID string `toml:"project_id"`
	Region    string `toml:"region,omitempty"`
}

// accountsFile is the TOML document shape:
//
//	default = "prod"
//
//	[accounts.prod]
//	username = "svc.abc123.mp-service-account"
//	secret = "..."
//	project_id = "12345"
//	region = "us"
type accountsFile struct {
	Default  string                   `toml:"default,omitempty"`
	Accounts map[string]storedAccount `toml:"accounts"`
}

// Store manages the accounts file.
type Store struct {
	path string
}

// NewStore returns a Store over the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStore returns a Store at the resolved default path: MP_CONFIG_PATH
// when set, else ${HOME}/.mixpanel-data/config.toml.
func DefaultStore() (*Store, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return NewStore(path), nil
}

// DefaultConfigPath resolves the accounts file location.
func DefaultConfigPath() (string, error) {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", mperr.Wrap(mperr.CodeConfigError, "cannot determine home directory", err)
	}
	return filepath.Join(home, AppDirName, ConfigFileName), nil
}

// Path returns the accounts file path.
func (s *Store) Path() string {
	return s.path
}

// load reads the accounts file. A missing file yields an empty document.
func (s *Store) load() (*accountsFile, error) {
	doc := &accountsFile{Accounts: map[string]storedAccount{}}

	data, err := os.ReadFile(s.path) // #nosec G304 - controlled path from config
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeConfigError, err, "reading accounts file %s", s.path)
	}

	if err := toml.Unmarshal(data, doc); err != nil {
		return nil, mperr.Wrapf(mperr.CodeConfigError, err, "parsing accounts file %s", s.path)
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]storedAccount{}
	}
	return doc, nil
}

// save writes the accounts file with restrictive permissions.
func (s *Store) save(doc *accountsFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return mperr.Wrapf(mperr.CodeConfigError, err, "creating config directory %s", dir)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return mperr.Wrapf(mperr.CodeConfigError, err, "writing accounts file %s", s.path)
	}

	enc := toml.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return mperr.Wrapf(mperr.CodeConfigError, err, "encoding accounts file %s", s.path)
	}
	if err := f.Close(); err != nil {
		return mperr.Wrapf(mperr.CodeConfigError, err, "closing accounts file %s", s.path)
	}
	return nil
}

// Add stores a new named account. The first account added becomes the
// default; makeDefault forces it for later accounts.
func (s *Store) Add(name string, c Credentials, makeDefault bool) error {
	if name == "" {
		return mperr.New(mperr.CodeValidationError, "account name must not be empty")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	doc, err := s.load()
	if err != nil {
		return err
	}

	if _, exists := doc.Accounts[name]; exists {
		return mperr.Newf(mperr.CodeAccountExists, "account %q already exists", name).
			WithDetail("account", name)
	}

	doc.Accounts[name] = storedAccount{
		Username:  c.Username,
		Secret:    c.Secret.Reveal(),
		ProjectID: c.ProjectID,
		Region:    string(c.Region),
	}
	if makeDefault || len(doc.Accounts) == 1 {
		doc.Default = name
	}

	if err := s.save(doc); err != nil {
		return err
	}

	logging.Debug().
		Str("account", name).
		Str("username", logging.SanitizeUsername(c.Username)).
		Bool("default", doc.Default == name).
		Msg("account added")
	return nil
}

// Remove deletes a named account. Removing the default account leaves no
// default set.
func (s *Store) Remove(name string) error {
	doc, err := s.load()
	if err != nil {
		return err
	}

	if _, exists := doc.Accounts[name]; !exists {
		return notFound(name)
	}

	delete(doc.Accounts, name)
	if doc.Default == name {
		doc.Default = ""
	}

	return s.save(doc)
}

// SetDefault marks a named account as the default.
func (s *Store) SetDefault(name string) error {
	doc, err := s.load()
	if err != nil {
		return err
	}

	if _, exists := doc.Accounts[name]; !exists {
		return notFound(name)
	}

	doc.Default = name
	return s.save(doc)
}

// Get returns the credentials for a named account.
func (s *Store) Get(name string) (Credentials, error) {
	doc, err := s.load()
	if err != nil {
		return Credentials{}, err
	}

	acct, exists := doc.Accounts[name]
	if !exists {
		return Credentials{}, notFound(name)
	}
	return acct.credentials()
}

// GetDefault returns the default account's credentials and its name.
func (s *Store) GetDefault() (Credentials, string, error) {
	doc, err := s.load()
	if err != nil {
		return Credentials{}, "", err
	}

	if doc.Default == "" {
		return Credentials{}, "", mperr.New(mperr.CodeConfigError,
			"no default account configured; set one with set_default or pass an account name")
	}

	acct, exists := doc.Accounts[doc.Default]
	if !exists {
		return Credentials{}, "", mperr.Newf(mperr.CodeConfigError,
			"default account %q is not present in the accounts file", doc.Default)
	}

	c, err := acct.credentials()
	return c, doc.Default, err
}

// List returns all accounts sorted by name, secrets redacted.
func (s *Store) List() ([]AccountInfo, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	infos := make([]AccountInfo, 0, len(doc.Accounts))
	for name, acct := range doc.Accounts {
		region, rerr := ParseRegion(acct.Region)
		if rerr != nil {
			region = Region(acct.Region) // surface what the file says
		}
		infos = append(infos, AccountInfo{
			Name:      name,
			Username:  acct.Username,
			Secret:    logging.Redacted,
			ProjectID: acct.ProjectID,
			Region:    region,
			IsDefault: name == doc.Default,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (a storedAccount) credentials() (Credentials, error) {
	region, err := ParseRegion(a.Region)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		Username:  a.Username,
		Secret:    NewSecret(a.Secret),
		ProjectID: a.ProjectID,
		Region:    region,
	}, nil
}

func notFound(name string) error {
	return mperr.Newf(mperr.CodeAccountNotFound,
		"account %q not found; run list to see configured accounts", name).
		WithDetail("account", name)
}
