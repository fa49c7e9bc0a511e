/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pool

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/transport"
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

func decodeEcho(b []byte) (string, error) { return string(b), nil }

func TestPoolConnectAndReceive(t *testing.T) {
	pub, err := transport.NewPublisher("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()
	go pub.Serve()

	m := newTestManager(t, "sat1")
	defer m.Close()

	var mu sync.Mutex
	var received []string
	connectedCh := make(chan struct{}, 1)

	hooks := Hooks[string]{
		OnMessage: func(_ chirp.DiscoveredService, msg string) {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
		},
		OnConnected: func(_ chirp.DiscoveredService) {
			select {
			case connectedCh <- struct{}{}:
			default:
			}
		},
	}

	p := New[string](m, chirp.MONITORING, decodeEcho, hooks, nil)
	require.NoError(t, p.StartPool())
	defer p.StopPool()

	addr := pub.Addr().(*net.TCPAddr)
	svc := chirp.DiscoveredService{
		Address:    net.ParseIP("127.0.0.1"),
		HostID:     chirp.NewMD5Hash("peer1"),
		Identifier: chirp.MONITORING,
		Port:       uint16(addr.Port),
	}
	p.handleDiscovery(svc, chirp.DISCOVERED)

	select {
	case <-connectedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer connect")
	}

	require.Eventually(t, func() bool { return pub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	p.Subscribe("LOG/")
	require.Eventually(t, func() bool { return true }, 50*time.Millisecond, 10*time.Millisecond)
	pub.Publish("LOG/INFO", []byte("hello"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "hello"
	}, time.Second, 10*time.Millisecond)
}

func TestPoolDisconnectRunsHook(t *testing.T) {
	pub, err := transport.NewPublisher("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()
	go pub.Serve()

	m := newTestManager(t, "sat2")
	defer m.Close()

	disconnected := make(chan struct{}, 1)
	hooks := Hooks[string]{
		OnDisconnected: func(_ chirp.DiscoveredService) {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		},
	}
	p := New[string](m, chirp.MONITORING, decodeEcho, hooks, nil)
	require.NoError(t, p.StartPool())
	defer p.StopPool()

	addr := pub.Addr().(*net.TCPAddr)
	svc := chirp.DiscoveredService{
		Address:    net.ParseIP("127.0.0.1"),
		HostID:     chirp.NewMD5Hash("peer2"),
		Identifier: chirp.MONITORING,
		Port:       uint16(addr.Port),
	}
	p.handleDiscovery(svc, chirp.DISCOVERED)
	require.Eventually(t, func() bool { return len(p.ConnectedPeers()) == 1 }, time.Second, 5*time.Millisecond)

	p.handleDiscovery(svc, chirp.DEPARTED)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect hook")
	}
	require.Empty(t, p.ConnectedPeers())
}
