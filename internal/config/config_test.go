// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, KeystorePKCS12, cfg.Keystore.Type)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.HistoryPath)
	assert.NoError(t, cfg.Validate())

	// callers get their own copy
	cfg.LogLevel = "debug"
	assert.Equal(t, "info", DefaultConfig().LogLevel)
}

func TestParseTOML(t *testing.T) {
	content := `
log_level = "debug"
headless = true
default_algorithm = "SHA512withRSA"

[keystore]
type = "pem"
path = "/etc/firma/signer.pem"
alias = "work"

[pkcs11]
module_path = "/usr/lib/softhsm/libsofthsm2.so"
token_label = "firma"
slot_index = 1

[daemon]
port = "9000"

[crash]
enabled = true
sentry_dsn = "https://key@sentry.example/1"
`
	cfg := DefaultConfig()
	require.NoError(t, cfg.parseTOML([]byte(content)))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "SHA512withRSA", cfg.DefaultAlgorithm)
	assert.Equal(t, KeystorePEM, cfg.Keystore.Type)
	assert.Equal(t, "/etc/firma/signer.pem", cfg.Keystore.Path)
	assert.Equal(t, "work", cfg.Keystore.Alias)
	assert.Equal(t, "firma", cfg.Pkcs11.TokenLabel)
	assert.Equal(t, 1, cfg.Pkcs11.SlotIndex)
	assert.Equal(t, "9000", cfg.Daemon.Port)
	assert.True(t, cfg.Crash.Enabled)
	assert.Equal(t, "https://key@sentry.example/1", cfg.Crash.SentryDSN)
	// untouched keys keep their defaults
	assert.Equal(t, defaultConfig.HistoryPath, cfg.HistoryPath)
}

func TestParseTOMLInvalid(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.parseTOML([]byte("log_level = ")))
}

func TestLoadFromFileFirstMatchWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	require.NoError(t, os.WriteFile(first, []byte(`log_level = "warn"`), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(`log_level = "error"`), 0o600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.loadFromFile([]string{filepath.Join(dir, "missing.toml"), first, second}))
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadFromFileReportsParseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[keystore\n"), 0o600))

	cfg := DefaultConfig()
	err := cfg.loadFromFile([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.toml")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FIRMA_KEYSTORE_TYPE", "pkcs11")
	t.Setenv("FIRMA_PKCS11_MODULE", "/opt/p11.so")
	t.Setenv("FIRMA_PKCS11_PIN", "0000")
	t.Setenv("FIRMA_PKCS11_SLOT", "3")
	t.Setenv("FIRMA_HEADLESS", "yes")
	t.Setenv("FIRMA_TRACING", "false")
	t.Setenv("FIRMA_CRASH_REPORTING", "true")
	t.Setenv("FIRMA_CRASH_ENDPOINT", "https://crash.example/report")

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv())

	assert.Equal(t, KeystorePKCS11, cfg.Keystore.Type)
	assert.Equal(t, "/opt/p11.so", cfg.Pkcs11.ModulePath)
	assert.Equal(t, "0000", cfg.Pkcs11.PIN)
	assert.Equal(t, 3, cfg.Pkcs11.SlotIndex)
	assert.True(t, cfg.Headless)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.Crash.Enabled)
	assert.Equal(t, "https://crash.example/report", cfg.Crash.Endpoint)
}

func TestApplyEnvBadSlot(t *testing.T) {
	t.Setenv("FIRMA_PKCS11_SLOT", "first")

	cfg := DefaultConfig()
	assert.Error(t, cfg.applyEnv())
}

func TestLoadUsesEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FIRMA_LOG_LEVEL", "error")
	t.Setenv("FIRMA_KEYSTORE_TYPE", "pem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, KeystorePEM, cfg.Keystore.Type)
}

func TestConfigBuilder(t *testing.T) {
	cfg := DefaultConfig().
		WithKeystore(KeystorePEM, "/tmp/key.pem", "secret").
		WithLogLevel("debug").
		WithHistoryPath("/tmp/history.db")

	assert.Equal(t, KeystorePEM, cfg.Keystore.Type)
	assert.Equal(t, "secret", cfg.Keystore.Password)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryPath)
}

func TestConfigStringHidesSecrets(t *testing.T) {
	cfg := DefaultConfig().WithKeystore(KeystorePKCS12, "/tmp/id.p12", "hunter2")
	str := cfg.String()

	assert.True(t, strings.Contains(str, "/tmp/id.p12"))
	assert.False(t, strings.Contains(str, "hunter2"))
}
