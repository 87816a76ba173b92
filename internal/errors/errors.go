// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	ErrUnsupportedFormat              = errors.New("unsupported signature format")
	ErrUnrecognizedSignatureContainer = errors.New("data is not a recognized signature container")
	ErrInvalidInputFormat             = errors.New("invalid input data format")
	ErrInvalidXML                     = errors.New("invalid XML document")
	ErrInvalidFacturae                = errors.New("invalid electronic invoice")
	ErrFacturaeAlreadySigned          = errors.New("electronic invoice is already signed")
	ErrNoDataToSign                   = errors.New("no data to sign")
	ErrNoSignatureFound               = errors.New("no signature found in data")
	ErrSigningArchivalSignature       = errors.New("long-term archival signatures cannot be signed again")
	ErrInvalidPdf                     = errors.New("invalid PDF document")
	ErrPdfPasswordProtected           = errors.New("PDF document is password protected")
	ErrPdfUnregisteredSignatures      = errors.New("PDF document contains unregistered signatures")
	ErrPdfCertified                   = errors.New("PDF document is certified and does not allow new signatures")
	ErrIncompatiblePolicy             = errors.New("signature policy is not compatible with the format")
	ErrUnsupportedOperation           = errors.New("operation not supported by the format")
	ErrInvalidSignature               = errors.New("existing signatures are not valid")
	ErrCancelled                      = errors.New("operation cancelled by the user")
	ErrInvalidParameters              = errors.New("invalid operation parameters")
	ErrCertificateEncoding            = errors.New("signer certificate could not be encoded")
	ErrVisibleSignatureMandatory      = errors.New("a visible signature is mandatory")
	ErrSigningFailed                  = errors.New("signature operation failed")
	ErrKeystoreAccess                 = errors.New("keystore could not be accessed")
	ErrNoCertificates                 = errors.New("no certificates available for signing")
	ErrMinimumVersion                 = errors.New("client version is lower than the minimum requested")
	ErrUnsupportedProtocol            = errors.New("unsupported protocol version")
	ErrReadingData                    = errors.New("data could not be read")
	ErrEncryptingData                 = errors.New("result could not be encrypted")
	ErrInvalidFormat                  = errors.New("invalid signature structure")
	ErrConfigFailed                   = errors.New("configuration error")
	ErrValidationFailed               = errors.New("validation failed")
	ErrConfirmationStalled            = errors.New("confirmation did not change the operation parameters")
)

// Wrap functions for consistent error wrapping
func WrapUnsupportedFormat(format string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func WrapInvalidInputFormat(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInputFormat, err)
}

func WrapInvalidXML(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidXML, err)
}

func WrapInvalidPdf(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidPdf, err)
}

func WrapUnsupportedOperation(format, op string) error {
	return fmt.Errorf("%w: %s does not support %s", ErrUnsupportedOperation, format, op)
}

func WrapIncompatiblePolicy(policy, format string) error {
	return fmt.Errorf("%w: policy %s cannot be used with %s", ErrIncompatiblePolicy, policy, format)
}

func WrapInvalidParameters(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, msg)
}

func WrapSigningFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrSigningFailed, err)
}

func WrapKeystoreAccess(err error) error {
	return fmt.Errorf("%w: %w", ErrKeystoreAccess, err)
}

func WrapInvalidFormat(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidFormat, msg)
}

func WrapReadingData(err error) error {
	return fmt.Errorf("%w: %w", ErrReadingData, err)
}

func WrapMinimumVersion(current, minimum string) error {
	return fmt.Errorf("%w: running %s, requested at least %s", ErrMinimumVersion, current, minimum)
}

func WrapUnsupportedProtocol(requested, supported int) error {
	return fmt.Errorf("%w: requested %d, supported up to %d", ErrUnsupportedProtocol, requested, supported)
}

func WrapConfigError(msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigFailed, msg, err)
	}
	return fmt.Errorf("%w: %s", ErrConfigFailed, msg)
}

func WrapValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, msg)
}
