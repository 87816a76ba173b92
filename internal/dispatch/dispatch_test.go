// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/builtin"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/testkeys"
	"github.com/dotandev/firma/internal/validity"
)

// recorder remembers what each operation received.
type recorder struct {
	called string
	data   []byte
	params *params.Params
	target format.Target
	err    error
}

func (r *recorder) Name() string { return format.XAdES }
func (r *recorder) IsSign([]byte) bool { return true }
func (r *recorder) Validate(context.Context, []byte, *params.Params) (validity.Outcome, error) {
	return validity.Valid(), nil
}
func (r *recorder) Sign(_ context.Context, data []byte, _ string, _ crypto.Signer, _ []*x509.Certificate, p *params.Params) ([]byte, error) {
	r.called, r.data, r.params = "sign", data, p
	return []byte("signed"), r.err
}
func (r *recorder) CoSign(_ context.Context, data []byte, _ string, _ crypto.Signer, _ []*x509.Certificate, p *params.Params) ([]byte, error) {
	r.called, r.data, r.params = "cosign", data, p
	return []byte("cosigned"), r.err
}
func (r *recorder) CounterSign(_ context.Context, data []byte, _ string, target format.Target, _ crypto.Signer, _ []*x509.Certificate, p *params.Params) ([]byte, error) {
	r.called, r.data, r.params, r.target = "countersign", data, p, target
	return []byte("countersigned"), r.err
}
func (r *recorder) SignInfo([]byte) (*format.SignInfo, error) { return nil, nil }
func (r *recorder) SignersStructure([]byte) (*format.SignerTree, error) { return nil, nil }
func (r *recorder) Data([]byte) ([]byte, error) { return nil, nil }

func resolved(requested string, c format.Capability) *format.Resolved {
	return &format.Resolved{ID: c.Name(), Requested: requested, Capability: c}
}

func TestRouting(t *testing.T) {
	alice := testkeys.ECDSA(t, "Alice")
	tests := []struct {
		op         operation.Kind
		target     string
		wantCalled string
		wantTarget format.Target
	}{
		{operation.Sign, "", "sign", ""},
		{operation.CoSign, "", "cosign", ""},
		{operation.CounterSign, "", "countersign", format.TargetLeafs},
		{operation.CounterSign, "TREE", "countersign", format.TargetTree},
		{operation.CounterSign, "bogus", "countersign", format.TargetLeafs},
	}
	for _, tt := range tests {
		rec := &recorder{}
		res, err := Dispatch(context.Background(), Request{
			Resolved:  resolved(format.XAdES, rec),
			Operation: tt.op,
			Data:      []byte("data"),
			Key:       alice.Key,
			Chain:     alice.Chain,
			Params:    params.Of(params.Target, tt.target),
		})
		require.NoError(t, err)
		assert.Equal(t, tt.wantCalled, rec.called)
		assert.Equal(t, tt.wantTarget, rec.target)
		assert.Equal(t, alice.Leaf().Raw, res.Certificate)
		assert.Equal(t, tt.op, res.Operation)
		assert.NotEmpty(t, res.RequestID)
	}
}

func TestDigestShim(t *testing.T) {
	data := []byte("<doc/>")
	digest := sha1.Sum(data)

	tests := []struct {
		name      string
		requested string
		op        operation.Kind
		mode      string
		shim      bool
	}{
		{"explicit xades", "XAdES Enveloping", operation.Sign, "explicit", true},
		{"explicit mixed case", "xades", operation.Sign, "EXPLICIT", true},
		{"xadestri is excluded", format.XAdESTri, operation.Sign, "explicit", false},
		{"implicit", format.XAdES, operation.Sign, "implicit", false},
		{"cosign", format.XAdES, operation.CoSign, "explicit", false},
		{"xmldsig alias", "XMLDSig", operation.Sign, "explicit", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := params.Of(params.Mode, tt.mode)
			got, p := PrepareData(resolved(tt.requested, &recorder{}), tt.op, data, original)
			if tt.shim {
				assert.Equal(t, digest[:], got)
				assert.Equal(t, params.MimeTypeSHA1Digest, p.Value(params.MimeType))
			} else {
				assert.Equal(t, data, got)
				assert.False(t, p.Has(params.MimeType))
			}
			assert.False(t, original.Has(params.MimeType), "request parameters must not change")
		})
	}
}

func TestDispatchSignsDataAsGiven(t *testing.T) {
	alice := testkeys.ECDSA(t, "Alice")
	data := []byte("<doc/>")

	rec := &recorder{}
	_, err := Dispatch(context.Background(), Request{
		Resolved: resolved("XAdES Enveloping", rec), Operation: operation.Sign,
		Data: data, Key: alice.Key, Chain: alice.Chain, Params: params.Of(params.Mode, params.ModeExplicit),
	})
	require.NoError(t, err)
	assert.Equal(t, data, rec.data, "the digest rewrite happens before dispatch")
	assert.False(t, rec.params.Has(params.MimeType))
}

func TestFailuresAreClassified(t *testing.T) {
	alice := testkeys.ECDSA(t, "Alice")

	rec := &recorder{err: firmaerrors.ErrPdfCertified}
	_, err := Dispatch(context.Background(), Request{Resolved: resolved(format.PAdES, rec), Operation: operation.Sign, Key: alice.Key, Chain: alice.Chain})
	var se *firmaerrors.SignError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, firmaerrors.KindPdfAlreadyCertified, se.Kind)
	assert.Equal(t, "sign", se.Op)

	rec = &recorder{err: errors.New("token removed")}
	_, err = Dispatch(context.Background(), Request{Resolved: resolved(format.XAdES, rec), Operation: operation.CoSign, Key: alice.Key, Chain: alice.Chain})
	assert.Equal(t, firmaerrors.KindGenericSigningFailure, firmaerrors.KindOf(err))

	_, err = Dispatch(context.Background(), Request{Resolved: resolved(format.XAdES, &recorder{}), Operation: operation.Sign, Key: alice.Key})
	assert.Equal(t, firmaerrors.KindCertificateEncodingFailure, firmaerrors.KindOf(err))

	_, err = Dispatch(context.Background(), Request{Resolved: resolved(format.XAdES, &recorder{}), Operation: operation.Kind(9), Key: alice.Key, Chain: alice.Chain})
	assert.Equal(t, firmaerrors.KindUnsupportedOperation, firmaerrors.KindOf(err))

	_, err = Dispatch(context.Background(), Request{Operation: operation.Sign})
	assert.Equal(t, firmaerrors.KindUnsupportedFormat, firmaerrors.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dispatch(ctx, Request{Resolved: resolved(format.XAdES, &recorder{}), Operation: operation.Sign, Key: alice.Key, Chain: alice.Chain})
	assert.Equal(t, firmaerrors.KindUserCancelled, firmaerrors.KindOf(err))
}

func TestDispatchWithBuiltinCapabilities(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	catalog := builtin.Catalog()

	r, err := catalog.Lookup("XAdES Detached")
	require.NoError(t, err)
	data, p := PrepareData(r, operation.Sign, []byte("binary payload"),
		params.Of(params.Mode, params.ModeExplicit, params.SignatureFormat, params.FormatDetached))
	res, err := Dispatch(context.Background(), Request{
		Resolved: r, Operation: operation.Sign, Data: data,
		Algorithm: "SHA256withRSA", Key: alice.Key, Chain: alice.Chain,
		Params: p,
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Signature), params.MimeTypeSHA1Digest)
	assert.Equal(t, format.XAdES, res.Format)
}
