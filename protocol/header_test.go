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

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Protocol: CSCP1,
		Sender:   "sat1",
		Time:     time.Now().UTC().Truncate(time.Nanosecond),
		Tags:     Dictionary{"run_id": String("run-42")},
	}
	raw, err := h.Assemble()
	require.NoError(t, err)

	got, rest, err := DecodeHeader(raw)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h.Protocol, got.Protocol)
	require.Equal(t, h.Sender, got.Sender)
	require.True(t, h.Time.Equal(got.Time))
	require.Equal(t, h.Tags, got.Tags)
}

func TestHeaderCarriesTrailingPayload(t *testing.T) {
	h := Header{Protocol: CMDP1, Sender: "sat1", Time: time.Now(), Tags: nil}
	raw, err := h.Assemble()
	require.NoError(t, err)
	raw = append(raw, []byte("payload")...)

	got, rest, err := DecodeHeader(raw)
	require.NoError(t, err)
	require.Equal(t, CMDP1, got.Protocol)
	require.Equal(t, []byte("payload"), rest)
}

func TestHeaderRejectsUnknownProtocol(t *testing.T) {
	h := Header{Protocol: Protocol("BOGUS1"), Sender: "sat1", Time: time.Now()}
	raw, err := h.Assemble()
	require.NoError(t, err)

	_, _, err = DecodeHeader(raw)
	require.Error(t, err)
}
