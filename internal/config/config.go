// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/dotandev/firma/internal/errors"
)

type KeystoreType string

const (
	KeystorePEM    KeystoreType = "pem"
	KeystorePKCS12 KeystoreType = "pkcs12"
	KeystorePKCS11 KeystoreType = "pkcs11"
)

var validKeystores = map[string]bool{
	string(KeystorePEM):    true,
	string(KeystorePKCS12): true,
	string(KeystorePKCS11): true,
}

// KeystoreConfig selects where signing certificates come from.
type KeystoreConfig struct {
	Type     KeystoreType `json:"type,omitempty" toml:"type"`
	Path     string       `json:"path,omitempty" toml:"path"`
	Password string       `json:"-" toml:"password"`
	// Alias is used when no interactive certificate selection is possible.
	Alias string `json:"alias,omitempty" toml:"alias"`
}

// Pkcs11Config holds the parameters needed to open a PKCS#11 session.
type Pkcs11Config struct {
	ModulePath string `json:"module_path,omitempty" toml:"module_path"`
	PIN        string `json:"-" toml:"pin"`
	TokenLabel string `json:"token_label,omitempty" toml:"token_label"`
	SlotIndex  int    `json:"slot_index,omitempty" toml:"slot_index"`
}

type DaemonConfig struct {
	Port      string `json:"port,omitempty" toml:"port"`
	AuthToken string `json:"-" toml:"auth_token"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty" toml:"enabled"`
	ExporterURL string `json:"exporter_url,omitempty" toml:"exporter_url"`
}

// CrashConfig opts into crash reports. Nothing is sent unless Enabled is
// set and at least one of SentryDSN or Endpoint is configured.
type CrashConfig struct {
	Enabled   bool   `json:"enabled,omitempty" toml:"enabled"`
	SentryDSN string `json:"-" toml:"sentry_dsn"`
	Endpoint  string `json:"endpoint,omitempty" toml:"endpoint"`
}

// Config represents the general configuration for firma
type Config struct {
	LogLevel         string          `json:"log_level,omitempty" toml:"log_level"`
	Headless         bool            `json:"headless,omitempty" toml:"headless"`
	DefaultAlgorithm string          `json:"default_algorithm,omitempty" toml:"default_algorithm"`
	HistoryPath      string          `json:"history_path,omitempty" toml:"history_path"`
	Keystore         KeystoreConfig  `json:"keystore" toml:"keystore"`
	Pkcs11           Pkcs11Config    `json:"pkcs11" toml:"pkcs11"`
	Daemon           DaemonConfig    `json:"daemon" toml:"daemon"`
	Telemetry        TelemetryConfig `json:"telemetry" toml:"telemetry"`
	Crash            CrashConfig     `json:"crash" toml:"crash"`
}

var defaultConfig = &Config{
	LogLevel:         "info",
	DefaultAlgorithm: "SHA256withRSA",
	HistoryPath:      filepath.Join(os.ExpandEnv("$HOME"), ".firma", "history.db"),
	Keystore:         KeystoreConfig{Type: KeystorePKCS12},
	Daemon:           DaemonConfig{Port: "8089"},
	Telemetry:        TelemetryConfig{ExporterURL: "http://localhost:4318"},
}

// ConfigPaths lists the files Load consults, first match wins.
func ConfigPaths() []string {
	return []string{
		".firma.toml",
		filepath.Join(os.ExpandEnv("$HOME"), ".firma.toml"),
		"/etc/firma/config.toml",
	}
}

// Load builds the configuration from defaults, the first TOML file found
// and finally FIRMA_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(ConfigPaths()); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := c.parseTOML(data); err != nil {
			return errors.WrapConfigError("failed to parse "+path, err)
		}
		return nil
	}
	return nil
}

func (c *Config) parseTOML(data []byte) error {
	return toml.Unmarshal(data, c)
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("FIRMA_LOG_LEVEL", c.LogLevel)
	c.DefaultAlgorithm = getEnv("FIRMA_ALGORITHM", c.DefaultAlgorithm)
	c.HistoryPath = getEnv("FIRMA_HISTORY_PATH", c.HistoryPath)
	c.Keystore.Type = KeystoreType(getEnv("FIRMA_KEYSTORE_TYPE", string(c.Keystore.Type)))
	c.Keystore.Path = getEnv("FIRMA_KEYSTORE_PATH", c.Keystore.Path)
	c.Keystore.Password = getEnv("FIRMA_KEYSTORE_PASSWORD", c.Keystore.Password)
	c.Keystore.Alias = getEnv("FIRMA_KEYSTORE_ALIAS", c.Keystore.Alias)
	c.Pkcs11.ModulePath = getEnv("FIRMA_PKCS11_MODULE", c.Pkcs11.ModulePath)
	c.Pkcs11.PIN = getEnv("FIRMA_PKCS11_PIN", c.Pkcs11.PIN)
	c.Pkcs11.TokenLabel = getEnv("FIRMA_PKCS11_TOKEN_LABEL", c.Pkcs11.TokenLabel)
	c.Daemon.Port = getEnv("FIRMA_DAEMON_PORT", c.Daemon.Port)
	c.Daemon.AuthToken = getEnv("FIRMA_DAEMON_TOKEN", c.Daemon.AuthToken)
	c.Telemetry.ExporterURL = getEnv("FIRMA_OTLP_URL", c.Telemetry.ExporterURL)
	c.Crash.SentryDSN = getEnv("FIRMA_SENTRY_DSN", c.Crash.SentryDSN)
	c.Crash.Endpoint = getEnv("FIRMA_CRASH_ENDPOINT", c.Crash.Endpoint)

	if v := os.Getenv("FIRMA_PKCS11_SLOT"); v != "" {
		slot, err := strconv.Atoi(v)
		if err != nil {
			return errors.WrapConfigError("FIRMA_PKCS11_SLOT must be an integer", err)
		}
		c.Pkcs11.SlotIndex = slot
	}

	if v, ok := getBoolEnv("FIRMA_HEADLESS"); ok {
		c.Headless = v
	}
	if v, ok := getBoolEnv("FIRMA_TRACING"); ok {
		c.Telemetry.Enabled = v
	}
	if v, ok := getBoolEnv("FIRMA_CRASH_REPORTING"); ok {
		c.Crash.Enabled = v
	}
	return nil
}

func (c *Config) Validate() error {
	return RunValidators(c, DefaultValidators())
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Keystore: %s:%s, Headless: %t, LogLevel: %s, History: %s}",
		c.Keystore.Type, c.Keystore.Path, c.Headless, c.LogLevel, c.HistoryPath,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func DefaultConfig() *Config {
	cfg := *defaultConfig
	return &cfg
}

func (c *Config) WithKeystore(typ KeystoreType, path, password string) *Config {
	c.Keystore.Type = typ
	c.Keystore.Path = path
	c.Keystore.Password = password
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.LogLevel = level
	return c
}

func (c *Config) WithHistoryPath(path string) *Config {
	c.HistoryPath = path
	return c
}
