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

func TestCSCPRoundTrip(t *testing.T) {
	m := CSCPMessage{
		Header:  Header{Sender: "controller1", Time: time.Now()},
		Verb:    REQUEST,
		Command: "get_state",
	}
	raw, err := m.Assemble()
	require.NoError(t, err)

	got, err := DecodeCSCP(raw)
	require.NoError(t, err)
	require.Equal(t, REQUEST, got.Verb)
	require.Equal(t, "get_state", got.Command)
}

func TestCSCPCarriesPayload(t *testing.T) {
	m := CSCPMessage{
		Header:  Header{Sender: "sat1", Time: time.Now()},
		Verb:    SUCCESS,
		Command: "get_state",
		Payload: Int64(3),
	}
	raw, err := m.Assemble()
	require.NoError(t, err)

	got, err := DecodeCSCP(raw)
	require.NoError(t, err)
	i, err := got.Payload.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(3), i)
}

func TestCSCPRejectsForeignProtocol(t *testing.T) {
	m := CMDPMessage{Header: Header{Sender: "sat1", Time: time.Now()}, Topic: "LOG/INFO"}
	raw, err := m.Assemble()
	require.NoError(t, err)

	_, err = DecodeCSCP(raw)
	require.Error(t, err)
	var upe *UnexpectedProtocolError
	require.ErrorAs(t, err, &upe)
}

func TestCSCPRejectsInvalidVerb(t *testing.T) {
	m := CSCPMessage{Header: Header{Sender: "sat1", Time: time.Now()}, Verb: VerbType(99), Command: "x"}
	_, err := m.Assemble()
	require.Error(t, err)
}
