/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package satellite

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/command"
	"github.com/constellation-daq/Constellation-sub001/fsm"
	"github.com/constellation-daq/Constellation-sub001/protocol"
	"github.com/constellation-daq/Constellation-sub001/transport"
)

func newTestChirpManager(t *testing.T, host string) *chirp.Manager {
	t.Helper()
	recv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	addr := recv.LocalAddr().(*net.UDPAddr)
	recv.Close()

	m, err := chirp.NewManager(addr, addr, "group1", host)
	require.NoError(t, err)
	return m
}

func roundTrip(t *testing.T, sock *transport.StreamSocket, req protocol.CSCPMessage) protocol.CSCPMessage {
	t.Helper()
	raw, err := req.Assemble()
	require.NoError(t, err)
	require.NoError(t, sock.Send(raw))
	resp, err := sock.Receive(time.Second)
	require.NoError(t, err)
	msg, err := protocol.DecodeCSCP(resp)
	require.NoError(t, err)
	return msg
}

func TestSatelliteGetStateAndName(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.t1")
	defer cm.Close()

	bs := New("Dummy", "t1", cm, fsm.Hooks{}, false, nil)
	require.NoError(t, bs.Start(context.Background(), "127.0.0.1:0", nil, ""))
	defer bs.Stop()

	ln := bs.listener
	sock, err := transport.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer sock.Close()

	resp := roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "get_state"})
	require.Equal(t, protocol.SUCCESS, resp.Verb)
	n, err := resp.Payload.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(fsm.NEW), n)
	_, hasLastChanged := resp.Header.Tags["last_changed"]
	require.True(t, hasLastChanged)

	resp = roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "get_name"})
	require.Equal(t, protocol.SUCCESS, resp.Verb)
	name, err := resp.Payload.AsString()
	require.NoError(t, err)
	require.Equal(t, "Dummy.t1", name)
}

func TestSatelliteLifecycleTransitions(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.t2")
	defer cm.Close()

	hooks := fsm.Hooks{}
	bs := New("Dummy", "t2", cm, hooks, false, nil)
	require.NoError(t, bs.Start(context.Background(), "127.0.0.1:0", nil, ""))
	defer bs.Stop()

	sock, err := transport.Dial("tcp", bs.listener.Addr().String())
	require.NoError(t, err)
	defer sock.Close()

	resp := roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "initialize"})
	require.Equal(t, protocol.SUCCESS, resp.Verb)
	waitForSatelliteState(t, bs, fsm.INIT)

	resp = roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "launch"})
	require.Equal(t, protocol.SUCCESS, resp.Verb)
	waitForSatelliteState(t, bs, fsm.ORBIT)

	resp = roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "reconfigure"})
	require.Equal(t, protocol.NOTIMPLEMENTED, resp.Verb)
}

func TestSatelliteUnknownCommand(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.t3")
	defer cm.Close()

	bs := New("Dummy", "t3", cm, fsm.Hooks{}, false, nil)
	require.NoError(t, bs.Start(context.Background(), "127.0.0.1:0", nil, ""))
	defer bs.Stop()

	sock, err := transport.Dial("tcp", bs.listener.Addr().String())
	require.NoError(t, err)
	defer sock.Close()

	resp := roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "frobnicate"})
	require.Equal(t, protocol.UNKNOWN, resp.Verb)
}

func TestSatelliteUserCommandDispatch(t *testing.T) {
	cm := newTestChirpManager(t, "Dummy.t4")
	defer cm.Close()

	bs := New("Dummy", "t4", cm, fsm.Hooks{}, false, nil)
	bs.Commands.Register(command.Command{
		Name:          "double",
		Description:   "doubles its argument",
		AllowedStates: command.AnyState(),
		Arity:         1,
		Invoke: func(args []protocol.Value) (protocol.Value, error) {
			n, err := args[0].AsInt64()
			if err != nil {
				return protocol.None(), err
			}
			return protocol.Int64(n * 2), nil
		},
	})
	require.NoError(t, bs.Start(context.Background(), "127.0.0.1:0", nil, ""))
	defer bs.Stop()

	sock, err := transport.Dial("tcp", bs.listener.Addr().String())
	require.NoError(t, err)
	defer sock.Close()

	resp := roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "double", Payload: protocol.Int64(21)})
	require.Equal(t, protocol.SUCCESS, resp.Verb)
	n, err := resp.Payload.AsInt64()
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	resp = roundTrip(t, sock, protocol.CSCPMessage{Verb: protocol.REQUEST, Command: "get_commands"})
	require.Equal(t, protocol.SUCCESS, resp.Verb)
}

func waitForSatelliteState(t *testing.T, bs *BaseSatellite, want fsm.State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bs.Machine.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, bs.Machine.State())
}
