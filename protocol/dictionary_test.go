/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDictionaryMarshalRoundTrip(t *testing.T) {
	d := Dictionary{
		"name":    String("sat1"),
		"seq":     Int64(9),
		"good":    Bool(true),
		"samples": Float64Slice([]float64{1.5, 2.5}),
	}
	raw, err := d.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalDictionary(raw)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestDictionaryCloneIsIndependent(t *testing.T) {
	d := Dictionary{"a": Int64(1)}
	c := d.Clone()
	c["a"] = Int64(2)
	require.Equal(t, int64(1), d["a"].I)
}

func TestDictionaryMergePrefersOther(t *testing.T) {
	base := Dictionary{"a": Int64(1), "b": Int64(2)}
	over := Dictionary{"b": Int64(9), "c": Int64(3)}
	merged := base.Merge(over)

	require.Equal(t, int64(1), merged["a"].I)
	require.Equal(t, int64(9), merged["b"].I)
	require.Equal(t, int64(3), merged["c"].I)
	require.Equal(t, int64(2), base["b"].I)
}
