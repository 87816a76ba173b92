// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable result code reported to callers. The string values are
// part of the wire contract and must not change between releases.
type Kind string

const (
	KindInvalidInputFormat             Kind = "InvalidInputFormat"
	KindInvalidXML                     Kind = "InvalidXml"
	KindInvalidFacturae                Kind = "InvalidFacturae"
	KindFacturaeAlreadySigned          Kind = "FacturaeAlreadySigned"
	KindNoDataToSign                   Kind = "NoDataToSign"
	KindNoSignatureFound               Kind = "NoSignatureFound"
	KindAlreadySignedArchivalFormat    Kind = "AlreadySignedArchivalFormat"
	KindInvalidPdfDocument             Kind = "InvalidPdfDocument"
	KindPasswordProtectedPdf           Kind = "PasswordProtectedPdf"
	KindPdfHasForeignUnregistered      Kind = "PdfHasForeignUnregisteredSignatures"
	KindPdfAlreadyCertified            Kind = "PdfAlreadyCertified"
	KindIncompatiblePolicyRequested    Kind = "IncompatiblePolicyRequested"
	KindUnsupportedOperation           Kind = "UnsupportedOperation"
	KindUnsupportedFormat              Kind = "UnsupportedFormat"
	KindUnrecognizedSignatureContainer Kind = "UnrecognizedSignatureContainer"
	KindInvalidSignature               Kind = "InvalidSignature"
	KindVisibleSignatureMandatory      Kind = "VisibleSignatureMandatory"
	KindCertificateEncodingFailure     Kind = "CertificateEncodingFailure"
	KindInvalidParameters              Kind = "InvalidParameters"
	KindKeystoreUnavailable            Kind = "KeystoreUnavailable"
	KindNoCertificatesInKeystore       Kind = "NoCertificatesInKeystore"
	KindMinimumVersionNotSatisfied     Kind = "MinimumVersionNotSatisfied"
	KindUnsupportedProtocolVersion     Kind = "UnsupportedProtocolVersion"
	KindCannotReadData                 Kind = "CannotReadData"
	KindEncryptingDataFailed           Kind = "EncryptingDataFailed"
	KindInvalidFormat                  Kind = "InvalidFormat"
	KindUserCancelled                  Kind = "UserCancelled"
	KindGenericSigningFailure          Kind = "GenericSigningFailure"
)

// kindTable is consulted in order. More specific sentinels come first so a
// failure wrapping several of them resolves to the narrowest kind.
var kindTable = []struct {
	target error
	kind   Kind
}{
	{ErrCancelled, KindUserCancelled},
	{context.Canceled, KindUserCancelled},
	{ErrVisibleSignatureMandatory, KindVisibleSignatureMandatory},
	{ErrCertificateEncoding, KindCertificateEncodingFailure},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrUnrecognizedSignatureContainer, KindUnrecognizedSignatureContainer},
	{ErrInvalidParameters, KindInvalidParameters},
	{ErrFacturaeAlreadySigned, KindFacturaeAlreadySigned},
	{ErrInvalidFacturae, KindInvalidFacturae},
	{ErrInvalidXML, KindInvalidXML},
	{ErrPdfPasswordProtected, KindPasswordProtectedPdf},
	{ErrPdfUnregisteredSignatures, KindPdfHasForeignUnregistered},
	{ErrPdfCertified, KindPdfAlreadyCertified},
	{ErrInvalidPdf, KindInvalidPdfDocument},
	{ErrInvalidInputFormat, KindInvalidInputFormat},
	{ErrNoDataToSign, KindNoDataToSign},
	{ErrNoSignatureFound, KindNoSignatureFound},
	{ErrSigningArchivalSignature, KindAlreadySignedArchivalFormat},
	{ErrIncompatiblePolicy, KindIncompatiblePolicyRequested},
	{ErrUnsupportedOperation, KindUnsupportedOperation},
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrNoCertificates, KindNoCertificatesInKeystore},
	{ErrKeystoreAccess, KindKeystoreUnavailable},
	{ErrMinimumVersion, KindMinimumVersionNotSatisfied},
	{ErrUnsupportedProtocol, KindUnsupportedProtocolVersion},
	{ErrReadingData, KindCannotReadData},
	{ErrEncryptingData, KindEncryptingDataFailed},
	{ErrInvalidFormat, KindInvalidFormat},
}

// KindOf classifies any error into the closed set of result kinds. Errors
// that match no entry are reported as KindGenericSigningFailure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *SignError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.target) {
			return entry.kind
		}
	}
	return KindGenericSigningFailure
}

// Kinds returns every result kind in a stable order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindTable)+1)
	seen := make(map[Kind]bool, len(kindTable)+1)
	for _, entry := range kindTable {
		if !seen[entry.kind] {
			seen[entry.kind] = true
			kinds = append(kinds, entry.kind)
		}
	}
	return append(kinds, KindGenericSigningFailure)
}

// SignError carries a classified failure of one signing operation.
type SignError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *SignError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]", e.Op, e.Kind)
}

func (e *SignError) Unwrap() error {
	return e.Err
}

// Classify wraps err in a SignError for op. A nil error stays nil and an
// error that is already classified is returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SignError
	if errors.As(err, &se) {
		return err
	}
	return &SignError{Kind: KindOf(err), Op: op, Err: err}
}
