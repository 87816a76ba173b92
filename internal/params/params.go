// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package params holds the ordered extra parameters that configure a
// signature operation.
package params

import (
	"encoding/json"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Params is an insertion-ordered string map. The zero value is not usable,
// build one with New, FromMap or Parse.
type Params struct {
	m *orderedmap.OrderedMap[string, string]
}

func New() *Params {
	return &Params{m: orderedmap.New[string, string]()}
}

// FromMap builds Params from a plain map. Keys are inserted in sorted order
// so the result does not depend on map iteration.
func FromMap(values map[string]string) *Params {
	p := New()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, values[k])
	}
	return p
}

// Of builds Params from alternating key and value arguments.
func Of(kv ...string) *Params {
	p := New()
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

func (p *Params) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	return p.m.Get(key)
}

// Value returns the value for key or the empty string.
func (p *Params) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// ValueOr returns the value for key, or def when the key is absent or empty.
func (p *Params) ValueOr(key, def string) string {
	if v, ok := p.Get(key); ok && v != "" {
		return v
	}
	return def
}

// Bool reports whether key holds "true" in any letter case.
func (p *Params) Bool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(p.Value(key)), "true")
}

func (p *Params) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

func (p *Params) Set(key, value string) {
	p.m.Set(key, value)
}

func (p *Params) Delete(key string) {
	p.m.Delete(key)
}

func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return p.m.Len()
}

func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for every entry in insertion order.
func (p *Params) Each(fn func(key, value string)) {
	if p == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

func (p *Params) Clone() *Params {
	c := New()
	p.Each(c.Set)
	return c
}

// Merge copies every entry of other into p, overwriting existing values.
// It reports whether p changed, that is whether a key was added or an
// existing value replaced by a different one.
func (p *Params) Merge(other *Params) bool {
	changed := false
	other.Each(func(k, v string) {
		if old, ok := p.m.Get(k); !ok || old != v {
			changed = true
		}
		p.m.Set(k, v)
	})
	return changed
}

// Map returns a plain copy of the entries.
func (p *Params) Map() map[string]string {
	out := make(map[string]string, p.Len())
	p.Each(func(k, v string) { out[k] = v })
	return out
}

func (p *Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

func (p *Params) UnmarshalJSON(data []byte) error {
	p.m = orderedmap.New[string, string]()
	return p.m.UnmarshalJSON(data)
}

// String renders the entries in properties text form.
func (p *Params) String() string {
	return Encode(p)
}

// compile-time interface checks
var (
	_ json.Marshaler   = (*Params)(nil)
	_ json.Unmarshaler = (*Params)(nil)
)
