// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strconv"
	"strings"

	"github.com/dotandev/firma/internal/errors"
)

// Validator validates a specific aspect of the configuration.
type Validator interface {
	Validate(cfg *Config) error
}

// KeystoreValidator checks that the keystore type is known and has what it
// needs to be opened.
type KeystoreValidator struct{}

func (v KeystoreValidator) Validate(cfg *Config) error {
	if cfg.Keystore.Type == "" {
		return nil
	}
	if !validKeystores[string(cfg.Keystore.Type)] {
		return errors.WrapValidationError("keystore.type must be one of: pem, pkcs12, pkcs11")
	}
	if cfg.Keystore.Type == KeystorePKCS11 && cfg.Pkcs11.ModulePath == "" {
		return errors.WrapValidationError("pkcs11.module_path is required for the pkcs11 keystore")
	}
	return nil
}

// Pkcs11Validator checks the token selection parameters.
type Pkcs11Validator struct{}

func (v Pkcs11Validator) Validate(cfg *Config) error {
	if cfg.Pkcs11.SlotIndex < 0 {
		return errors.WrapValidationError("pkcs11.slot_index cannot be negative")
	}
	return nil
}

// DaemonValidator checks the listening port.
type DaemonValidator struct{}

func (v DaemonValidator) Validate(cfg *Config) error {
	if cfg.Daemon.Port == "" {
		return nil
	}
	port, err := strconv.Atoi(cfg.Daemon.Port)
	if err != nil || port <= 0 || port > 65535 {
		return errors.WrapValidationError("daemon.port must be a number between 1 and 65535")
	}
	return nil
}

// TelemetryValidator checks the exporter endpoint when tracing is on.
type TelemetryValidator struct{}

func (v TelemetryValidator) Validate(cfg *Config) error {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	u := cfg.Telemetry.ExporterURL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return errors.WrapValidationError("telemetry.exporter_url must use http or https scheme")
	}
	return nil
}

// LogLevelValidator checks that the log level is a known value.
type LogLevelValidator struct{}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

func (v LogLevelValidator) Validate(cfg *Config) error {
	if cfg.LogLevel == "" {
		return nil
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return errors.WrapValidationError("log_level must be one of: debug, info, warn, error")
	}
	return nil
}

// DefaultValidators returns the standard set of validators.
func DefaultValidators() []Validator {
	return []Validator{
		KeystoreValidator{},
		Pkcs11Validator{},
		DaemonValidator{},
		TelemetryValidator{},
		LogLevelValidator{},
	}
}

// RunValidators executes each validator against the config, returning the
// first error encountered.
func RunValidators(cfg *Config, validators []Validator) error {
	for _, v := range validators {
		if err := v.Validate(cfg); err != nil {
			return err
		}
	}
	return nil
}
