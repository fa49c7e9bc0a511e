/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package chirp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newPeerPair builds two managers that point their "broadcast" address
// directly at each other over loopback, modeling a two-host CHIRP domain
// without requiring OS-level UDP broadcast permissions in a test sandbox.
func newPeerPair(t *testing.T, groupA, hostA, groupB, hostB string) (a, b *Manager) {
	t.Helper()

	recvA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	recvB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	addrA := recvA.LocalAddr().(*net.UDPAddr)
	addrB := recvB.LocalAddr().(*net.UDPAddr)
	recvA.Close()
	recvB.Close()

	a, err = NewManager(addrB, addrA, groupA, hostA)
	require.NoError(t, err)
	b, err = NewManager(addrA, addrB, groupB, hostB)
	require.NoError(t, err)
	return
}

// TestDiscoveryRoundTrip implements scenario S1: within 100ms of A
// registering CONTROL@23999 and B sending a REQUEST, B's callback fires
// once with the expected fields.
func TestDiscoveryRoundTrip(t *testing.T) {
	a, b := newPeerPair(t, "group1", "sat1", "group1", "sat2")
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var got []DiscoveredService
	done := make(chan struct{}, 1)
	cb := DiscoverCallback(func(svc DiscoveredService, status ServiceStatus, _ interface{}) {
		mu.Lock()
		got = append(got, svc)
		mu.Unlock()
		if status == DISCOVERED {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, b.RegisterDiscoverCallback(cb, CONTROL, nil))

	newlyReg, err := a.RegisterService(CONTROL, 23999)
	require.NoError(t, err)
	require.True(t, newlyReg)

	require.NoError(t, b.SendRequest(CONTROL))

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for discovery callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, NewMD5Hash("sat1"), got[0].HostID)
	require.Equal(t, CONTROL, got[0].Identifier)
	require.Equal(t, uint16(23999), got[0].Port)

	discovered := b.GetDiscoveredServices(serviceIDPtr(CONTROL))
	require.Len(t, discovered, 1)
}

// TestGroupIsolation implements scenario S2: a synthetic OFFER from a
// foreign group is ignored entirely.
func TestGroupIsolation(t *testing.T) {
	a, b := newPeerPair(t, "group1", "sat1", "group1", "sat2")
	defer a.Close()
	defer b.Close()

	foreign := Message{Type: OFFER, GroupID: NewMD5Hash("other"), HostID: NewMD5Hash("sat9"), Service: CONTROL, Port: 1}
	b.handle(foreign, net.ParseIP("127.0.0.1"))

	require.Empty(t, b.GetDiscoveredServices(nil))
}

// TestSelfFilter checks that a manager ignores datagrams bearing its own host id.
func TestSelfFilter(t *testing.T) {
	a, _ := newPeerPair(t, "group1", "sat1", "group1", "sat2")
	defer a.Close()

	self := Message{Type: OFFER, GroupID: a.GroupID(), HostID: a.HostID(), Service: CONTROL, Port: 1}
	a.handle(self, net.ParseIP("127.0.0.1"))
	require.Empty(t, a.GetDiscoveredServices(nil))
}

// TestDepartRemovesDiscovered implements invariant 6: unregistering a
// service drives the peer's callback to DEPARTED and removes the entry.
func TestDepartRemovesDiscovered(t *testing.T) {
	a, b := newPeerPair(t, "group1", "sat1", "group1", "sat2")
	defer a.Close()
	defer b.Close()

	statusCh := make(chan ServiceStatus, 4)
	cb := DiscoverCallback(func(_ DiscoveredService, status ServiceStatus, _ interface{}) {
		statusCh <- status
	})
	require.NoError(t, b.RegisterDiscoverCallback(cb, CONTROL, nil))

	_, err := a.RegisterService(CONTROL, 1000)
	require.NoError(t, err)
	require.NoError(t, b.SendRequest(CONTROL))
	require.Equal(t, DISCOVERED, <-statusCh)

	_, err = a.UnregisterService(CONTROL, 1000)
	require.NoError(t, err)
	require.Equal(t, DEPARTED, <-statusCh)

	require.Empty(t, b.GetDiscoveredServices(serviceIDPtr(CONTROL)))
}

func TestRegisteredServiceOrdering(t *testing.T) {
	services := []RegisteredService{
		{Identifier: DATA, Port: 1},
		{Identifier: CONTROL, Port: 2},
		{Identifier: CONTROL, Port: 1},
	}
	sortRegistered(services)
	require.Equal(t, []RegisteredService{
		{Identifier: CONTROL, Port: 1},
		{Identifier: CONTROL, Port: 2},
		{Identifier: DATA, Port: 1},
	}, services)
}

func serviceIDPtr(id ServiceIdentifier) *ServiceIdentifier { return &id }
