/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the variants of Value, grounded on the teacher's
// byte-tagged entry.EnumeratedData union (ingest/entry/enumerated_types.go),
// extended with the array and path/timepoint kinds this data model needs.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindPath
	KindTime
	KindInt64Slice
	KindFloat64Slice
	KindBoolSlice
	KindStringSlice
	KindPathSlice
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt64:
		return "i64"
	case KindFloat64:
		return "f64"
	case KindString:
		return "string"
	case KindPath:
		return "path"
	case KindTime:
		return "timepoint"
	case KindInt64Slice:
		return "i64[]"
	case KindFloat64Slice:
		return "f64[]"
	case KindBoolSlice:
		return "bool[]"
	case KindStringSlice:
		return "string[]"
	case KindPathSlice:
		return "path[]"
	}
	return "unknown"
}

// ErrInvalidValueType reports a Value read attempted against the wrong Kind.
var ErrInvalidValueType = errors.New("protocol: value has a different type")

// Value is the tagged-union payload type carried by both Dictionary (wire)
// and the Configuration container: a sum type over
// {none, bool, i64, f64, string, path, timepoint, i64[], f64[], bool[],
// string[], path[]}. All fields are exported so the type gob-encodes
// directly, the same approach the teacher takes for its on-disk cache
// state in ingest/muxer.go (which imports encoding/gob for exactly this
// purpose).
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	T    time.Time
	Bs   []bool
	Is   []int64
	Fs   []float64
	Ss   []string
}

func None() Value                  { return Value{Kind: KindNone} }
func Bool(v bool) Value            { return Value{Kind: KindBool, B: v} }
func Int64(v int64) Value          { return Value{Kind: KindInt64, I: v} }
func Float64(v float64) Value      { return Value{Kind: KindFloat64, F: v} }
func String(v string) Value        { return Value{Kind: KindString, S: v} }
func Path(v string) Value          { return Value{Kind: KindPath, S: v} }
func Time(v time.Time) Value       { return Value{Kind: KindTime, T: v} }
func Int64Slice(v []int64) Value   { return Value{Kind: KindInt64Slice, Is: v} }
func Float64Slice(v []float64) Value { return Value{Kind: KindFloat64Slice, Fs: v} }
func BoolSlice(v []bool) Value     { return Value{Kind: KindBoolSlice, Bs: v} }
func StringSlice(v []string) Value { return Value{Kind: KindStringSlice, Ss: v} }
func PathSlice(v []string) Value   { return Value{Kind: KindPathSlice, Ss: v} }

func (v Value) IsNone() bool { return v.Kind == KindNone }

func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, fmt.Errorf("%w: wanted bool, have %s", ErrInvalidValueType, v.Kind)
	}
	return v.B, nil
}

func (v Value) AsInt64() (int64, error) {
	if v.Kind != KindInt64 {
		return 0, fmt.Errorf("%w: wanted i64, have %s", ErrInvalidValueType, v.Kind)
	}
	return v.I, nil
}

func (v Value) AsFloat64() (float64, error) {
	if v.Kind != KindFloat64 {
		return 0, fmt.Errorf("%w: wanted f64, have %s", ErrInvalidValueType, v.Kind)
	}
	return v.F, nil
}

func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", fmt.Errorf("%w: wanted string, have %s", ErrInvalidValueType, v.Kind)
	}
	return v.S, nil
}

func (v Value) AsPath() (string, error) {
	if v.Kind != KindPath {
		return "", fmt.Errorf("%w: wanted path, have %s", ErrInvalidValueType, v.Kind)
	}
	return v.S, nil
}

func (v Value) AsTime() (time.Time, error) {
	if v.Kind != KindTime {
		return time.Time{}, fmt.Errorf("%w: wanted timepoint, have %s", ErrInvalidValueType, v.Kind)
	}
	return v.T, nil
}

func (v Value) AsInt64Slice() ([]int64, error) {
	if v.Kind != KindInt64Slice {
		return nil, fmt.Errorf("%w: wanted i64[], have %s", ErrInvalidValueType, v.Kind)
	}
	return v.Is, nil
}

func (v Value) AsFloat64Slice() ([]float64, error) {
	if v.Kind != KindFloat64Slice {
		return nil, fmt.Errorf("%w: wanted f64[], have %s", ErrInvalidValueType, v.Kind)
	}
	return v.Fs, nil
}

func (v Value) AsBoolSlice() ([]bool, error) {
	if v.Kind != KindBoolSlice {
		return nil, fmt.Errorf("%w: wanted bool[], have %s", ErrInvalidValueType, v.Kind)
	}
	return v.Bs, nil
}

func (v Value) AsStringSlice() ([]string, error) {
	if v.Kind != KindStringSlice {
		return nil, fmt.Errorf("%w: wanted string[], have %s", ErrInvalidValueType, v.Kind)
	}
	return v.Ss, nil
}

func (v Value) AsPathSlice() ([]string, error) {
	if v.Kind != KindPathSlice {
		return nil, fmt.Errorf("%w: wanted path[], have %s", ErrInvalidValueType, v.Kind)
	}
	return v.Ss, nil
}

// InferValue builds a Value from a native Go type, analogous to the
// teacher's entry.InferEnumeratedData.
func InferValue(val interface{}) (Value, error) {
	switch v := val.(type) {
	case nil:
		return None(), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int64(int64(v)), nil
	case int64:
		return Int64(v), nil
	case float64:
		return Float64(v), nil
	case string:
		return String(v), nil
	case time.Time:
		return Time(v), nil
	case []int64:
		return Int64Slice(v), nil
	case []float64:
		return Float64Slice(v), nil
	case []bool:
		return BoolSlice(v), nil
	case []string:
		return StringSlice(v), nil
	}
	return Value{}, fmt.Errorf("protocol: unsupported native type %T", val)
}
