// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package params

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
)

func TestParamsKeepInsertionOrder(t *testing.T) {
	p := New()
	p.Set("z", "1")
	p.Set("a", "2")
	p.Set("m", "3")
	p.Set("z", "4")

	assert.Equal(t, []string{"z", "a", "m"}, p.Keys())
	assert.Equal(t, "4", p.Value("z"))
	assert.Equal(t, 3, p.Len())
}

func TestFromMapIsSorted(t *testing.T) {
	p := FromMap(map[string]string{"b": "2", "a": "1", "c": "3"})
	assert.Equal(t, []string{"a", "b", "c"}, p.Keys())
}

func TestNilParamsAreEmpty(t *testing.T) {
	var p *Params
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Has("x"))
	assert.Equal(t, "", p.Value("x"))
	assert.Nil(t, p.Keys())
}

func TestBoolAndValueOr(t *testing.T) {
	p := Of(Headless, "TRUE", CheckSignatures, "yes", Target, "")

	assert.True(t, p.Bool(Headless))
	assert.False(t, p.Bool(CheckSignatures))
	assert.False(t, p.Bool("missing"))
	assert.Equal(t, TargetLeafs, p.ValueOr(Target, TargetLeafs))
}

func TestMergeReportsGrowth(t *testing.T) {
	p := Of("a", "1")

	assert.True(t, p.Merge(Of("b", "2")), "new key")
	assert.True(t, p.Merge(Of("a", "9")), "changed value")
	assert.False(t, p.Merge(Of("a", "9", "b", "2")), "nothing new")
	assert.False(t, p.Merge(nil))
	assert.Equal(t, map[string]string{"a": "9", "b": "2"}, p.Map())
}

func TestCloneIsIndependent(t *testing.T) {
	p := Of("a", "1")
	c := p.Clone()
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "1", p.Value("a"))
	assert.False(t, p.Has("b"))
}

func TestJSONRoundTripKeepsOrder(t *testing.T) {
	p := Of("zeta", "1", "alpha", "2")
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":"1","alpha":"2"}`, string(data))

	var back Params
	require.NoError(t, json.Unmarshal([]byte(`{"y":"1","x":"2"}`), &back))
	assert.Equal(t, []string{"y", "x"}, back.Keys())
}

func TestParseProperties(t *testing.T) {
	text := `# comment
! also a comment
mode=explicit
format : XAdES
policy  FirmaAGE
layer2Text=Signed by $$SUBJECTCN$$\
  on $$SIGNDATE$$
escaped\=key=a\:b\nc
unicode=ñ
empty=
`
	p, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, []string{"mode", "format", "policy", "layer2Text", "escaped=key", "unicode", "empty"}, p.Keys())
	assert.Equal(t, "explicit", p.Value("mode"))
	assert.Equal(t, "XAdES", p.Value("format"))
	assert.Equal(t, "FirmaAGE", p.Value("policy"))
	assert.Equal(t, "Signed by $$SUBJECTCN$$on $$SIGNDATE$$", p.Value("layer2Text"))
	assert.Equal(t, "a:b\nc", p.Value("escaped=key"))
	assert.Equal(t, "ñ", p.Value("unicode"))
	assert.True(t, p.Has("empty"))
}

func TestParseRejectsBrokenUnicode(t *testing.T) {
	_, err := Parse(`k=\u00`)
	assert.Error(t, err)
	_, err = Parse(`k=\uzzzz`)
	assert.Error(t, err)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	p := Of("a key", "multi\nline", "b", "x=y:z", "c", " leading space")
	back, err := Parse(Encode(p))
	require.NoError(t, err)
	assert.Equal(t, p.Map(), back.Map())
	assert.Equal(t, p.Keys(), back.Keys())
}

func TestExpandPolicy(t *testing.T) {
	tests := []struct {
		family string
		want   Policy
	}{
		{"XAdES", AGE19XML},
		{"CAdES", AGE19CMS},
		{"PAdES", AGE19CMS},
	}
	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			in := Of(ExpPolicy, PolicyFirmaAGE, Mode, ModeImplicit)
			out, err := Expand(in, tt.family)
			require.NoError(t, err)

			assert.False(t, out.Has(ExpPolicy))
			assert.Equal(t, tt.want.Identifier, out.Value(PolicyIdentifier))
			assert.Equal(t, tt.want.Hash, out.Value(PolicyIdentifierHash))
			assert.Equal(t, tt.want.HashAlgorithm, out.Value(PolicyIdentifierHashAlgorithm))
			assert.Equal(t, ModeImplicit, out.Value(Mode))
			// the input is not modified
			assert.True(t, in.Has(ExpPolicy))
		})
	}
}

func TestExpandSetsPAdESSubFilter(t *testing.T) {
	out, err := Expand(Of(ExpPolicy, PolicyFirmaAGE), "PAdES")
	require.NoError(t, err)
	assert.Equal(t, "ETSI.CAdES.detached", out.Value(SignatureSubFilter))
}

func TestExpandIncompatiblePolicy(t *testing.T) {
	for _, family := range []string{"ODF", "OOXML", "FacturaE"} {
		_, err := Expand(Of(ExpPolicy, PolicyFirmaAGE), family)
		require.Error(t, err, family)
		assert.True(t, errors.Is(err, firmaerrors.ErrIncompatiblePolicy), family)
	}

	_, err := Expand(Of(ExpPolicy, PolicyFacturaE), "XAdES")
	assert.True(t, errors.Is(err, firmaerrors.ErrIncompatiblePolicy))
}

func TestExpandUnknownPolicy(t *testing.T) {
	_, err := Expand(Of(ExpPolicy, "MadeUp"), "XAdES")
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidParameters))
}

func TestExpandWithoutPolicyIsCopy(t *testing.T) {
	in := Of("a", "1")
	out, err := Expand(in, "ODF")
	require.NoError(t, err)
	assert.Equal(t, in.Map(), out.Map())
}

func TestLookupPolicy(t *testing.T) {
	p, ok := LookupPolicy("urn:oid:2.16.724.1.3.1.1.2.1.9")
	assert.True(t, ok)
	assert.Equal(t, AGE19XML.Name, p.Name)

	_, ok = LookupPolicy("1.2.3.4")
	assert.False(t, ok)
}
