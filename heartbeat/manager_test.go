/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package heartbeat

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

func newTestManager(t *testing.T, host string) *chirp.Manager {
	t.Helper()
	recv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	addr := recv.LocalAddr().(*net.UDPAddr)
	recv.Close()

	m, err := chirp.NewManager(addr, addr, "group1", host)
	require.NoError(t, err)
	return m
}

type fakeForgetter struct {
	mtx       sync.Mutex
	forgotten []chirp.MD5Hash
}

func (f *fakeForgetter) ForgetDiscoveredService(id chirp.ServiceIdentifier, hostID chirp.MD5Hash) {
	f.mtx.Lock()
	f.forgotten = append(f.forgotten, hostID)
	f.mtx.Unlock()
}

func (f *fakeForgetter) forgottenHosts() []chirp.MD5Hash {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	out := make([]chirp.MD5Hash, len(f.forgotten))
	copy(out, f.forgotten)
	return out
}

func TestHeartbeatOnHeartbeatUpdatesPeerState(t *testing.T) {
	cm := newTestManager(t, "sat2")
	defer cm.Close()

	h := New(cm, &fakeForgetter{}, "sat2", nil, nil, nil)
	require.NoError(t, h.Start(context.Background(), "127.0.0.1:0"))
	defer h.Stop()

	msg := protocol.CHPMessage{
		Header:   protocol.Header{Sender: "sat1", Time: time.Now()},
		State:    "ORBIT",
		Interval: 30 * time.Millisecond,
	}
	h.onHeartbeat(chirp.DiscoveredService{HostID: chirp.NewMD5Hash("sat1")}, msg)

	require.Equal(t, "ORBIT", h.PeerState(chirp.NewMD5Hash("sat1")))
}

func TestHeartbeatInterruptsOnFailureState(t *testing.T) {
	cm := newTestManager(t, "sat5")
	defer cm.Close()

	var reason string
	interrupt := func(r string) { reason = r }
	isFailure := func(state string) bool { return state == "ERROR" || state == "SAFE" }

	h := New(cm, &fakeForgetter{}, "sat5", interrupt, isFailure, nil)
	require.NoError(t, h.Start(context.Background(), "127.0.0.1:0"))
	defer h.Stop()

	h.onHeartbeat(chirp.DiscoveredService{HostID: chirp.NewMD5Hash("peerX")}, protocol.CHPMessage{
		State:    "ERROR",
		Interval: 30 * time.Millisecond,
	})

	require.Contains(t, reason, "ERROR")
}

func TestSweepForgetsPeerPastGraceWindow(t *testing.T) {
	cm := newTestManager(t, "sat3")
	defer cm.Close()

	forgetter := &fakeForgetter{}
	h := New(cm, forgetter, "sat3", nil, nil, nil)
	h.SetInterval(10 * time.Millisecond)

	host := chirp.NewMD5Hash("peer1")
	h.mtx.Lock()
	h.peers[host] = &peerInfo{lastSeen: time.Now().Add(-1 * time.Second), declaredInterval: 10 * time.Millisecond}
	h.mtx.Unlock()

	h.sweepOnce()
	require.Contains(t, forgetter.forgottenHosts(), host)

	h.mtx.Lock()
	_, stillPresent := h.peers[host]
	h.mtx.Unlock()
	require.False(t, stillPresent)
}

func TestSweepMarksLikelyDeadBeforeGraceExpires(t *testing.T) {
	cm := newTestManager(t, "sat6")
	defer cm.Close()

	forgetter := &fakeForgetter{}
	h := New(cm, forgetter, "sat6", nil, nil, nil)

	host := chirp.NewMD5Hash("peer2")
	interval := 10 * time.Millisecond
	// deadThreshold = 3*interval = 30ms, graceThreshold = 4*interval = 40ms;
	// 35ms sits past the missed-beat threshold but short of the grace window.
	h.mtx.Lock()
	h.peers[host] = &peerInfo{lastSeen: time.Now().Add(-35 * time.Millisecond), declaredInterval: interval}
	h.mtx.Unlock()

	h.sweepOnce()
	require.Empty(t, forgetter.forgottenHosts())
	require.Contains(t, h.LikelyDeadPeers(), host)
}

func TestSetStateUpdatesReportedState(t *testing.T) {
	cm := newTestManager(t, "sat4")
	defer cm.Close()

	h := New(cm, &fakeForgetter{}, "sat4", nil, nil, nil)
	require.NoError(t, h.Start(context.Background(), "127.0.0.1:0"))
	defer h.Stop()

	h.SetState("RUN")
	require.Equal(t, "RUN", h.getState())
}
