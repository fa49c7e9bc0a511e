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
	"time"

	"github.com/stretchr/testify/require"
)

func TestCDTPRoundTripBOR(t *testing.T) {
	m := CDTPMessage{
		Header:   Header{Sender: "sat1", Time: time.Now()},
		Sequence: 0,
		Type:     BOR,
		Frames:   [][]byte{[]byte("run-42")},
	}
	raw, err := m.Assemble()
	require.NoError(t, err)

	got, err := DecodeCDTP(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Sequence)
	require.Equal(t, BOR, got.Type)
	require.Equal(t, [][]byte{[]byte("run-42")}, got.Frames)
}

func TestCDTPRoundTripMultiFrameData(t *testing.T) {
	m := CDTPMessage{
		Header:   Header{Sender: "sat1", Time: time.Now()},
		Sequence: 5,
		Type:     DATA,
		Frames:   [][]byte{[]byte("a"), {}, []byte("ccc")},
	}
	raw, err := m.Assemble()
	require.NoError(t, err)

	got, err := DecodeCDTP(raw)
	require.NoError(t, err)
	require.Equal(t, m.Frames, got.Frames)
}

func TestCDTPSequenceRunShape(t *testing.T) {
	// Invariant 9: sequence numbers [0,1,...,N,N+1] with types
	// [BOR, DATA,...,DATA, EOR].
	msgs := []CDTPMessage{
		{Header: Header{Sender: "s", Time: time.Now()}, Sequence: 0, Type: BOR},
		{Header: Header{Sender: "s", Time: time.Now()}, Sequence: 1, Type: DATA},
		{Header: Header{Sender: "s", Time: time.Now()}, Sequence: 2, Type: DATA},
		{Header: Header{Sender: "s", Time: time.Now()}, Sequence: 3, Type: EOR},
	}
	for i, m := range msgs {
		raw, err := m.Assemble()
		require.NoError(t, err)
		got, err := DecodeCDTP(raw)
		require.NoError(t, err)
		require.Equal(t, uint64(i), got.Sequence)
	}
}

func TestCDTPRejectsInvalidType(t *testing.T) {
	m := CDTPMessage{Header: Header{Sender: "s", Time: time.Now()}, Type: FrameType(99)}
	_, err := m.Assemble()
	require.Error(t, err)
}

func TestCDTPRejectsForeignProtocol(t *testing.T) {
	m := CHPMessage{Header: Header{Sender: "sat1", Time: time.Now()}, State: "RUN"}
	raw, err := m.Assemble()
	require.NoError(t, err)

	_, err = DecodeCDTP(raw)
	require.Error(t, err)
}
