// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	e := &Entry{
		RequestID: "req-1",
		Operation: "sign",
		Format:    "PAdES",
		Status:    StatusSucceeded,
		Signer:    "CN=Alice",
		Filename:  "contract.pdf",
		Size:      4096,
	}
	require.NoError(t, s.Save(ctx, e))
	assert.NotZero(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	got, err := s.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "PAdES", got.Format)
	assert.Equal(t, "contract.pdf", got.Filename)
	assert.Equal(t, 4096, got.Size)
	assert.Empty(t, got.ErrorKind)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, s.Save(ctx, &Entry{RequestID: "req-1", Operation: "sign", Status: StatusFailed}), "request ids are unique")
}

func TestList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	entries := []*Entry{
		{RequestID: "a", Operation: "sign", Format: "XAdES", Status: StatusSucceeded, Timestamp: base},
		{RequestID: "b", Operation: "cosign", Format: "CAdES", Status: StatusFailed, ErrorKind: "InvalidSignature", Timestamp: base.Add(time.Minute)},
		{RequestID: "c", Operation: "sign", Format: "PAdES", Status: StatusCancelled, ErrorKind: "UserCancelled", Timestamp: base.Add(2 * time.Minute)},
		{RequestID: "d", Operation: "sign", Format: "XAdES", Status: StatusFailed, ErrorKind: "NoDataToSign", Timestamp: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.Save(ctx, e))
	}

	all, err := s.List(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].RequestID, "newest first")

	failed, err := s.List(ctx, ListParams{Status: StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	xades, err := s.List(ctx, ListParams{Format: "XAdES", Limit: 1})
	require.NoError(t, err)
	require.Len(t, xades, 1)
	assert.Equal(t, "d", xades[0].RequestID)

	byKind, err := s.List(ctx, ListParams{ErrorRegex: "Signature$"})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "b", byKind[0].RequestID)

	_, err = s.List(ctx, ListParams{ErrorRegex: "("})
	assert.Error(t, err)
}

func TestListErrorRegexMatchesKindOrMessage(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Entry{RequestID: "kind", Operation: "sign", Status: StatusFailed,
		ErrorKind: "SigningFailed", ErrorMsg: "token removed"}))
	require.NoError(t, s.Save(ctx, &Entry{RequestID: "msg", Operation: "sign", Status: StatusFailed,
		ErrorKind: "GenericSigningFailure", ErrorMsg: "timeout waiting for PIN"}))

	tests := []struct {
		pattern string
		want    []string
	}{
		{"^SigningFailed$", []string{"kind"}},
		{"^timeout", []string{"msg"}},
		{"removed$", []string{"kind"}},
		{"Failed token", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := s.List(ctx, ListParams{ErrorRegex: tt.pattern})
			require.NoError(t, err)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.RequestID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestCleanup(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Entry{RequestID: "old", Operation: "sign", Status: StatusSucceeded, Timestamp: time.Now().Add(-72 * time.Hour)}))
	require.NoError(t, s.Save(ctx, &Entry{RequestID: "new", Operation: "sign", Status: StatusSucceeded}))

	n, err := s.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.List(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].RequestID)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "history.db", filepath.Base(p))
	assert.Equal(t, ".firma", filepath.Base(filepath.Dir(p)))
}
