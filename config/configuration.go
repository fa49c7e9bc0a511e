/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

// Group filters bulk operations by a key's framework-reserved status.
type Group uint8

const (
	GroupALL Group = iota
	GroupUSER
	GroupINTERNAL
)

// Usage filters bulk operations by whether a key has been read.
type Usage uint8

const (
	UsageANY Usage = iota
	UsageUSED
	UsageUNUSED
)

type entry struct {
	value protocol.Value
	used  bool
}

// Configuration is the case-folded key/value container ferried from
// controller to satellite as a CSCP payload and consumed by the FSM's
// transitional hooks. Keys are normalized to lower-case on entry; a key
// beginning with '_' is "internal" (framework-reserved), any other key
// is "user". Every read marks its entry used; the list of keys still
// unused at the end of initializing is logged as a WARNING.
type Configuration struct {
	mtx     sync.Mutex
	entries map[string]*entry
}

// New returns an empty Configuration.
func New() *Configuration {
	return &Configuration{entries: make(map[string]*entry)}
}

// FromDictionary builds a Configuration from a wire Dictionary, the
// shape a CSCP "initialize" payload arrives in.
func FromDictionary(d protocol.Dictionary) *Configuration {
	c := New()
	for k, v := range d {
		c.entries[normalize(k)] = &entry{value: v}
	}
	return c
}

func normalize(key string) string {
	return strings.ToLower(key)
}

func isInternal(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Has reports exact (case-insensitive) presence of key.
func (c *Configuration) Has(key string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, ok := c.entries[normalize(key)]
	return ok
}

func (c *Configuration) get(key string) (protocol.Value, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	k := normalize(key)
	e, ok := c.entries[k]
	if !ok {
		return protocol.Value{}, &MissingKeyError{Key: key}
	}
	e.used = true
	return e.value, nil
}

// GetBool reads key as a bool, marking it used.
func (c *Configuration) GetBool(key string) (bool, error) {
	v, err := c.get(key)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	if err != nil {
		return false, &InvalidTypeError{Key: key, Wanted: "bool", Got: v.Kind.String()}
	}
	return b, nil
}

// GetBoolDefault behaves like GetBool but calls SetDefault(key, def)
// first, so a missing key never fails.
func (c *Configuration) GetBoolDefault(key string, def bool) (bool, error) {
	c.SetDefault(key, protocol.Bool(def))
	return c.GetBool(key)
}

// GetInt64 reads key as an i64, marking it used.
func (c *Configuration) GetInt64(key string) (int64, error) {
	v, err := c.get(key)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt64()
	if err != nil {
		return 0, &InvalidTypeError{Key: key, Wanted: "i64", Got: v.Kind.String()}
	}
	return i, nil
}

func (c *Configuration) GetInt64Default(key string, def int64) (int64, error) {
	c.SetDefault(key, protocol.Int64(def))
	return c.GetInt64(key)
}

// GetFloat64 reads key as an f64, marking it used.
func (c *Configuration) GetFloat64(key string) (float64, error) {
	v, err := c.get(key)
	if err != nil {
		return 0, err
	}
	f, err := v.AsFloat64()
	if err != nil {
		return 0, &InvalidTypeError{Key: key, Wanted: "f64", Got: v.Kind.String()}
	}
	return f, nil
}

func (c *Configuration) GetFloat64Default(key string, def float64) (float64, error) {
	c.SetDefault(key, protocol.Float64(def))
	return c.GetFloat64(key)
}

// GetString reads key as a string, marking it used.
func (c *Configuration) GetString(key string) (string, error) {
	v, err := c.get(key)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	if err != nil {
		return "", &InvalidTypeError{Key: key, Wanted: "string", Got: v.Kind.String()}
	}
	return s, nil
}

func (c *Configuration) GetStringDefault(key string, def string) (string, error) {
	c.SetDefault(key, protocol.String(def))
	return c.GetString(key)
}

// GetStringSlice reads key as a string[], marking it used.
func (c *Configuration) GetStringSlice(key string) ([]string, error) {
	v, err := c.get(key)
	if err != nil {
		return nil, err
	}
	s, err := v.AsStringSlice()
	if err != nil {
		return nil, &InvalidTypeError{Key: key, Wanted: "string[]", Got: v.Kind.String()}
	}
	return s, nil
}

func (c *Configuration) GetStringSliceDefault(key string, def []string) ([]string, error) {
	c.SetDefault(key, protocol.StringSlice(def))
	return c.GetStringSlice(key)
}

// GetPath reads key as a path and resolves it to an absolute form with
// filepath.Abs. If checkExists is set the path must also exist; it is
// then canonicalized with filepath.EvalSymlinks.
func (c *Configuration) GetPath(key string, checkExists bool) (string, error) {
	v, err := c.get(key)
	if err != nil {
		return "", err
	}
	p, err := v.AsPath()
	if err != nil {
		return "", &InvalidTypeError{Key: key, Wanted: "path", Got: v.Kind.String()}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &InvalidValueError{Key: key, Reason: err.Error()}
	}
	if checkExists {
		canon, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", &InvalidValueError{Key: key, Reason: err.Error()}
		}
		abs = canon
	}
	return abs, nil
}

// SetBool inserts or overwrites key. markUsed pre-marks the entry as
// read, matching set<T>(k, v, mark_used) in the behavior matrix.
func (c *Configuration) SetBool(key string, v bool, markUsed bool) {
	c.set(key, protocol.Bool(v), markUsed)
}

func (c *Configuration) SetInt64(key string, v int64, markUsed bool) {
	c.set(key, protocol.Int64(v), markUsed)
}

func (c *Configuration) SetFloat64(key string, v float64, markUsed bool) {
	c.set(key, protocol.Float64(v), markUsed)
}

func (c *Configuration) SetString(key string, v string, markUsed bool) {
	c.set(key, protocol.String(v), markUsed)
}

func (c *Configuration) SetPath(key string, v string, markUsed bool) {
	c.set(key, protocol.Path(v), markUsed)
}

func (c *Configuration) set(key string, v protocol.Value, markUsed bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.entries[normalize(key)] = &entry{value: v, used: markUsed}
}

// SetDefault inserts v under key only if key is currently absent. It
// never marks the entry used, so a subsequent get<T> still counts as
// the first read.
func (c *Configuration) SetDefault(key string, v protocol.Value) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	k := normalize(key)
	if _, ok := c.entries[k]; !ok {
		c.entries[k] = &entry{value: v}
	}
}

// SetAlias adds newKey = oldKey's value if newKey is absent and oldKey
// is present, marking oldKey used. It logs nothing itself; any warning
// about the renamed key is up to the caller.
func (c *Configuration) SetAlias(newKey, oldKey string) (aliased bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	nk := normalize(newKey)
	if _, present := c.entries[nk]; present {
		return false
	}
	old, present := c.entries[normalize(oldKey)]
	if !present {
		return false
	}
	old.used = true
	c.entries[nk] = &entry{value: old.value}
	return true
}

// Update copies every used key/value from other into c, overwriting
// existing entries.
func (c *Configuration) Update(other *Configuration) {
	other.mtx.Lock()
	snapshot := make(map[string]protocol.Value, len(other.entries))
	for k, e := range other.entries {
		if e.used {
			snapshot[k] = e.value
		}
	}
	other.mtx.Unlock()

	c.mtx.Lock()
	defer c.mtx.Unlock()
	for k, v := range snapshot {
		c.entries[k] = &entry{value: v, used: true}
	}
}

// ApplyDictionary sets every key in d as a fresh, unused entry,
// overwriting any existing value under that key but leaving keys not
// present in d untouched. This is how a "reconfigure" payload patches
// a satellite's running Configuration.
func (c *Configuration) ApplyDictionary(d protocol.Dictionary) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for k, v := range d {
		c.entries[normalize(k)] = &entry{value: v}
	}
}

// Size reports the number of keys matching the given filters.
func (c *Configuration) Size(group Group, usage Usage) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	n := 0
	for k, e := range c.entries {
		if matches(k, e, group, usage) {
			n++
		}
	}
	return n
}

// GetDictionary returns a snapshot of the keys matching the given
// filters as a wire Dictionary.
func (c *Configuration) GetDictionary(group Group, usage Usage) protocol.Dictionary {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	d := make(protocol.Dictionary)
	for k, e := range c.entries {
		if matches(k, e, group, usage) {
			d[k] = e.value
		}
	}
	return d
}

func matches(key string, e *entry, group Group, usage Usage) bool {
	switch group {
	case GroupUSER:
		if isInternal(key) {
			return false
		}
	case GroupINTERNAL:
		if !isInternal(key) {
			return false
		}
	}
	switch usage {
	case UsageUSED:
		if !e.used {
			return false
		}
	case UsageUNUSED:
		if e.used {
			return false
		}
	}
	return true
}

// Assemble produces the wire Dictionary transmitted in a CSCP payload,
// equivalent to GetDictionary(GroupALL, UsageANY).
func (c *Configuration) Assemble() protocol.Dictionary {
	return c.GetDictionary(GroupALL, UsageANY)
}

// UnusedKeys returns the keys, in no particular order, that have never
// been read. Callers log these as a WARNING at the end of initializing.
func (c *Configuration) UnusedKeys() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var keys []string
	for k, e := range c.entries {
		if !e.used {
			keys = append(keys, k)
		}
	}
	return keys
}

// LogUnused emits a WARNING through l listing any keys left unused.
func (c *Configuration) LogUnused(l *log.Logger) {
	keys := c.UnusedKeys()
	if len(keys) == 0 {
		return
	}
	l.Warningf("configuration has %d unused keys: %v", len(keys), keys)
}
