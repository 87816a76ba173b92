// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/keystore"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/testkeys"
)

func unsupported() *operation.Descriptor {
	return operation.New(operation.Sign, "NoSuchFormat", "", []byte(payload), nil)
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	sel := &counting{alias: "alice"}
	o, _ := harness(t, Options{Certificates: sel})

	out := o.RunBatch(context.Background(), Batch{
		ID:    "b",
		Items: []*operation.Descriptor{sign([]byte(payload)), unsupported(), sign([]byte(payload))},
	})

	require.Len(t, out.Items, 3)
	assert.Equal(t, []string{"b-1", "b-2", "b-3"}, []string{out.Items[0].RequestID, out.Items[1].RequestID, out.Items[2].RequestID})
	assert.NotNil(t, out.Items[0].Result)
	assert.Equal(t, errors.KindUnsupportedFormat, errors.KindOf(out.Items[1].Err))
	assert.True(t, out.Items[2].Skipped)
	assert.Equal(t, errors.KindUnsupportedFormat, errors.KindOf(out.Err))
	assert.Equal(t, 1, out.Failed())
	assert.Equal(t, 1, sel.calls, "the certificate is chosen once per batch")
}

func TestBatchErrorsAllowed(t *testing.T) {
	o, _ := harness(t, Options{})

	out := o.RunBatch(context.Background(), Batch{
		Items:         []*operation.Descriptor{unsupported(), sign([]byte(payload))},
		ErrorsAllowed: true,
	})

	assert.NoError(t, out.Err)
	assert.Error(t, out.Items[0].Err)
	assert.NotNil(t, out.Items[1].Result)
	assert.False(t, out.Items[1].Skipped)
	assert.NotEmpty(t, out.ID)
}

func TestBatchAlwaysStopsOnMandatoryVisibleSignature(t *testing.T) {
	o, _ := harness(t, Options{})
	visible := sign(testkeys.BlankPDF(1), params.VisibleSignature, params.VisibleWant)

	out := o.RunBatch(context.Background(), Batch{
		Items:         []*operation.Descriptor{visible, sign([]byte(payload))},
		ErrorsAllowed: true,
	})

	assert.Equal(t, errors.KindVisibleSignatureMandatory, errors.KindOf(out.Err))
	assert.True(t, out.Items[1].Skipped)
}

func TestBatchAlwaysStopsOnCancel(t *testing.T) {
	o, _ := harness(t, Options{Certificates: &counting{err: errors.ErrCancelled}})

	out := o.RunBatch(context.Background(), Batch{
		Items:         []*operation.Descriptor{sign([]byte(payload)), sign([]byte(payload))},
		ErrorsAllowed: true,
	})

	assert.Equal(t, errors.KindUserCancelled, errors.KindOf(out.Err))
	assert.True(t, out.Items[1].Skipped)
}

func TestBatchResetSticky(t *testing.T) {
	sel := &counting{alias: "alice"}
	o, _ := harness(t, Options{Certificates: sel})
	ctx := context.Background()

	_, err := o.Run(ctx, Request{Descriptor: sign([]byte(payload)), Sticky: true})
	require.NoError(t, err)

	o.RunBatch(ctx, Batch{Items: []*operation.Descriptor{sign([]byte(payload))}})
	assert.Equal(t, 1, sel.calls, "the batch reuses the remembered certificate")

	o.RunBatch(ctx, Batch{Items: []*operation.Descriptor{sign([]byte(payload))}, ResetSticky: true})
	assert.Equal(t, 2, sel.calls)
}

func TestStickySlotConcurrentAcquire(t *testing.T) {
	slot := &StickySlot{}
	s := store(t, "Alice")
	calls := 0
	selectFn := func(context.Context) (keystore.CertificateContext, error) {
		calls++
		return keystore.CertificateContext{Store: s, Alias: "alice"}, nil
	}

	done := make(chan keystore.CertificateContext)
	for i := 0; i < 8; i++ {
		go func() {
			cc, _ := slot.Acquire(context.Background(), false, selectFn)
			done <- cc
		}()
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, "alice", (<-done).Alias)
	}
	assert.Equal(t, 1, calls)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.xml"), []byte(payload), 0o600))

	name, data, err := FileSource{}.SelectData(context.Background(), operation.Sign, DataHints{Dir: dir, Filename: "doc.xml"})
	require.NoError(t, err)
	assert.Equal(t, "doc.xml", name)
	assert.Equal(t, payload, string(data))

	_, _, err = FileSource{}.SelectData(context.Background(), operation.Sign, DataHints{})
	assert.ErrorIs(t, err, errors.ErrCancelled)

	_, _, err = FileSource{}.SelectData(context.Background(), operation.Sign, DataHints{Filename: filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestFirstMatchMandatory(t *testing.T) {
	s := store(t, "Alice", "Bob")

	cc, err := FirstMatch{}.SelectCertificate(context.Background(), s, nil, false)
	require.NoError(t, err)
	assert.False(t, cc.IsZero())

	_, err = FirstMatch{}.SelectCertificate(context.Background(), s, nil, true)
	assert.ErrorIs(t, err, errors.ErrCancelled)

	cc, err = FirstMatch{}.SelectCertificate(context.Background(), s, []keystore.Filter{keystore.SubjectContains("bob")}, true)
	require.NoError(t, err)
	assert.Equal(t, "bob", cc.Alias)
}

func TestByAlias(t *testing.T) {
	s := store(t, "Alice", "Bob")

	cc, err := ByAlias("bob").SelectCertificate(context.Background(), s, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "bob", cc.Alias)

	_, err = ByAlias("carol").SelectCertificate(context.Background(), s, nil, false)
	assert.ErrorIs(t, err, errors.ErrNoCertificates)

	_, err = ByAlias("bob").SelectCertificate(context.Background(), s, []keystore.Filter{keystore.SubjectContains("alice")}, false)
	assert.ErrorIs(t, err, errors.ErrNoCertificates)
}
