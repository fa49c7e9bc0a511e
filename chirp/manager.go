/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package chirp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultPort is the well-known UDP port CHIRP broadcasts/listens on.
	DefaultPort uint16 = 7123

	recvWake = 50 * time.Millisecond

	// requestRateLimit/requestBurst bound how often this process may
	// broadcast a REQUEST, so a caller hammering SendRequest cannot
	// flood the local discovery group.
	requestRateLimit = 10.0 // per second
	requestBurst     = 5
)

var (
	ErrAlreadyRunning = errors.New("chirp: manager already running")
	ErrNotRunning     = errors.New("chirp: manager not running")
	ErrRequestLimited = errors.New("chirp: request rate limited")
)

// RegisteredService is a locally advertised {identifier, port} pair, owned
// by the Manager's own registry.
type RegisteredService struct {
	Identifier ServiceIdentifier
	Port       uint16
}

// less orders RegisteredServices by identifier, then port.
func (r RegisteredService) less(o RegisteredService) bool {
	if r.Identifier != o.Identifier {
		return r.Identifier < o.Identifier
	}
	return r.Port < o.Port
}

// ServiceStatus is the lifecycle state communicated to discover callbacks.
type ServiceStatus uint8

const (
	DISCOVERED ServiceStatus = 1
	DEPARTED   ServiceStatus = 2
	DEAD       ServiceStatus = 3
)

func (s ServiceStatus) String() string {
	switch s {
	case DISCOVERED:
		return "DISCOVERED"
	case DEPARTED:
		return "DEPARTED"
	case DEAD:
		return "DEAD"
	}
	return "UNKNOWN"
}

// DiscoveredService is a peer's advertised endpoint. Ordering ignores the
// address: the same peer reachable via two NICs collapses to one entry.
type DiscoveredService struct {
	Address    net.IP
	HostID     MD5Hash
	Identifier ServiceIdentifier
	Port       uint16
}

func (d DiscoveredService) key() discoveredKey {
	return discoveredKey{HostID: d.HostID, Identifier: d.Identifier, Port: d.Port}
}

type discoveredKey struct {
	HostID     MD5Hash
	Identifier ServiceIdentifier
	Port       uint16
}

func (k discoveredKey) less(o discoveredKey) bool {
	if c := k.HostID.Compare(o.HostID); c != 0 {
		return c < 0
	}
	if k.Identifier != o.Identifier {
		return k.Identifier < o.Identifier
	}
	return k.Port < o.Port
}

// DiscoverCallback is notified of DISCOVERED/DEPARTED/DEAD transitions for
// services matching the identifier it was registered against.
type DiscoverCallback func(svc DiscoveredService, status ServiceStatus, userData interface{})

type callbackEntry struct {
	cb       *DiscoverCallback
	id       ServiceIdentifier
	userData interface{}
}

// Manager implements the CHIRP discovery plane for one local process:
// it advertises the services that process offers, discovers peers'
// services restricted to the local group, and dispatches discover
// callbacks on arrival/departure. Registry, discovered set and callback
// set are each protected by their own mutex; callbacks always run with
// every lock released, mirroring the teacher's per-collection locking in
// ingest/muxer.go.
type Manager struct {
	groupID MD5Hash
	hostID  MD5Hash

	broadcastAddr *net.UDPAddr
	anyAddr       *net.UDPAddr

	sendConn *net.UDPConn
	recvConn *net.UDPConn

	regMtx     sync.Mutex
	registered []RegisteredService

	discMtx    sync.Mutex
	discovered map[discoveredKey]DiscoveredService

	cbMtx     sync.Mutex
	callbacks []callbackEntry

	group  *errgroup.Group
	cancel context.CancelFunc

	running bool
	mtx     sync.Mutex

	requestLimiter *rate.Limiter
}

// NewManager constructs a Manager for the given group/host names. It opens
// one UDP send socket bound to an ephemeral port (0.0.0.0:0) and one UDP
// receive socket bound to anyAddr (typically 0.0.0.0:DefaultPort). The
// receive socket is opened with a plain net.ListenUDP: SO_REUSEADDR is not
// set, so a second process on the same host cannot bind the same
// discovery port.
func NewManager(broadcastAddr, anyAddr *net.UDPAddr, groupName, hostName string) (*Manager, error) {
	sendConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("chirp: open send socket: %w", err)
	}
	sendConn.SetWriteBuffer(1 << 20)

	recvConn, err := net.ListenUDP("udp4", anyAddr)
	if err != nil {
		sendConn.Close()
		return nil, fmt.Errorf("chirp: open recv socket: %w", err)
	}
	recvConn.SetReadBuffer(1 << 20)

	m := &Manager{
		groupID:        NewMD5Hash(groupName),
		hostID:         NewMD5Hash(hostName),
		broadcastAddr:  broadcastAddr,
		anyAddr:        anyAddr,
		sendConn:       sendConn,
		recvConn:       recvConn,
		discovered:     make(map[discoveredKey]DiscoveredService),
		requestLimiter: rate.NewLimiter(requestRateLimit, requestBurst),
	}
	m.start()
	return m, nil
}

func (m *Manager) start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	m.group = g
	m.running = true
	g.Go(func() error {
		m.recvLoop(ctx)
		return nil
	})
}

// Close stops the receive loop, then broadcasts DEPART for every still
// registered service before releasing the sockets.
func (m *Manager) Close() error {
	m.mtx.Lock()
	if !m.running {
		m.mtx.Unlock()
		return ErrNotRunning
	}
	m.running = false
	m.mtx.Unlock()

	m.cancel()
	m.group.Wait()

	m.UnregisterServices()

	m.sendConn.Close()
	return m.recvConn.Close()
}

// GroupID returns this manager's group identifier.
func (m *Manager) GroupID() MD5Hash { return m.groupID }

// HostID returns this manager's host identifier.
func (m *Manager) HostID() MD5Hash { return m.hostID }

// RegisterService inserts {id,port} into the registry and, if it was not
// already present, broadcasts an OFFER. Returns whether it was newly
// registered.
func (m *Manager) RegisterService(id ServiceIdentifier, port uint16) (bool, error) {
	rs := RegisteredService{Identifier: id, Port: port}

	m.regMtx.Lock()
	for _, e := range m.registered {
		if e == rs {
			m.regMtx.Unlock()
			return false, nil
		}
	}
	m.registered = append(m.registered, rs)
	sortRegistered(m.registered)
	m.regMtx.Unlock()

	return true, m.send(OFFER, id, port)
}

// UnregisterService removes {id,port} from the registry and, if it was
// present, broadcasts a DEPART. Returns whether it had been registered.
func (m *Manager) UnregisterService(id ServiceIdentifier, port uint16) (bool, error) {
	rs := RegisteredService{Identifier: id, Port: port}

	m.regMtx.Lock()
	idx := -1
	for i, e := range m.registered {
		if e == rs {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.regMtx.Unlock()
		return false, nil
	}
	m.registered = append(m.registered[:idx], m.registered[idx+1:]...)
	m.regMtx.Unlock()

	return true, m.send(DEPART, id, port)
}

// UnregisterServices broadcasts DEPART for every registered service and
// clears the registry.
func (m *Manager) UnregisterServices() error {
	m.regMtx.Lock()
	services := m.registered
	m.registered = nil
	m.regMtx.Unlock()

	var errs *multierror.Error
	for _, s := range services {
		if err := m.send(DEPART, s.Identifier, s.Port); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// GetRegisteredServices returns a snapshot copy of the registry.
func (m *Manager) GetRegisteredServices() []RegisteredService {
	m.regMtx.Lock()
	defer m.regMtx.Unlock()
	out := make([]RegisteredService, len(m.registered))
	copy(out, m.registered)
	return out
}

// SendRequest broadcasts a REQUEST for id; peers that offer services with
// that identifier reply with their own OFFER. Bounded by requestLimiter
// so a caller issuing repeated requests cannot storm the discovery group.
func (m *Manager) SendRequest(id ServiceIdentifier) error {
	if !m.requestLimiter.Allow() {
		return ErrRequestLimited
	}
	return m.send(REQUEST, id, 0)
}

// RegisterDiscoverCallback adds a (cb, id, userData) entry, ordered by
// callback address then id. Duplicate (cb, id) pairs are rejected.
func (m *Manager) RegisterDiscoverCallback(cb DiscoverCallback, id ServiceIdentifier, userData interface{}) error {
	m.cbMtx.Lock()
	defer m.cbMtx.Unlock()
	p := &cb
	for _, e := range m.callbacks {
		if fmt.Sprintf("%p", *e.cb) == fmt.Sprintf("%p", cb) && e.id == id {
			return errors.New("chirp: duplicate discover callback")
		}
	}
	m.callbacks = append(m.callbacks, callbackEntry{cb: p, id: id, userData: userData})
	slices.SortStableFunc(m.callbacks, func(a, b callbackEntry) bool {
		pa, pb := fmt.Sprintf("%p", *a.cb), fmt.Sprintf("%p", *b.cb)
		if len(pa) != len(pb) {
			return len(pa) < len(pb)
		}
		if pa != pb {
			return pa < pb
		}
		return a.id < b.id
	})
	return nil
}

// UnregisterDiscoverCallback removes every entry matching (cb, id)
// regardless of userData.
func (m *Manager) UnregisterDiscoverCallback(cb DiscoverCallback, id ServiceIdentifier) {
	target := fmt.Sprintf("%p", cb)
	m.cbMtx.Lock()
	defer m.cbMtx.Unlock()
	out := m.callbacks[:0]
	for _, e := range m.callbacks {
		if fmt.Sprintf("%p", *e.cb) == target && e.id == id {
			continue
		}
		out = append(out, e)
	}
	m.callbacks = out
}

// GetDiscoveredServices returns a snapshot of the discovered set, optionally
// filtered to a single service identifier.
func (m *Manager) GetDiscoveredServices(id *ServiceIdentifier) []DiscoveredService {
	m.discMtx.Lock()
	defer m.discMtx.Unlock()
	out := make([]DiscoveredService, 0, len(m.discovered))
	for _, d := range m.discovered {
		if id != nil && d.Identifier != *id {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b DiscoveredService) bool { return a.key().less(b.key()) })
	return out
}

// ForgetDiscoveredService removes every discovered entry for (id, hostID)
// and fires DEAD callbacks for each, used by the heartbeat manager when a
// peer is declared dead.
func (m *Manager) ForgetDiscoveredService(id ServiceIdentifier, hostID MD5Hash) {
	m.discMtx.Lock()
	var removed []DiscoveredService
	for k, d := range m.discovered {
		if d.Identifier == id && d.HostID == hostID {
			removed = append(removed, d)
			delete(m.discovered, k)
		}
	}
	m.discMtx.Unlock()

	for _, d := range removed {
		m.dispatch(d, DEAD)
	}
}

func (m *Manager) send(mt MessageType, id ServiceIdentifier, port uint16) error {
	msg := Message{Type: mt, GroupID: m.groupID, HostID: m.hostID, Service: id, Port: port}
	_, err := m.sendConn.WriteToUDP(msg.Assemble(), m.broadcastAddr)
	return err
}

func (m *Manager) recvLoop(ctx context.Context) {
	buf := make([]byte, MessageLen+16)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.recvConn.SetReadDeadline(time.Now().Add(recvWake))
		n, addr, err := m.recvConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		msg, err := Disassemble(buf[:n])
		if err != nil {
			continue // MessageDecodingError: drop and keep listening
		}
		m.handle(msg, addr.IP)
	}
}

func (m *Manager) handle(msg Message, from net.IP) {
	if msg.GroupID != m.groupID {
		return
	}
	if msg.HostID == m.hostID {
		return
	}
	switch msg.Type {
	case REQUEST:
		for _, rs := range m.GetRegisteredServices() {
			if rs.Identifier == msg.Service {
				m.send(OFFER, rs.Identifier, rs.Port)
			}
		}
	case OFFER:
		d := DiscoveredService{Address: from, HostID: msg.HostID, Identifier: msg.Service, Port: msg.Port}
		m.discMtx.Lock()
		_, exists := m.discovered[d.key()]
		if !exists {
			m.discovered[d.key()] = d
		}
		m.discMtx.Unlock()
		if !exists {
			m.dispatch(d, DISCOVERED)
		}
	case DEPART:
		d := DiscoveredService{Address: from, HostID: msg.HostID, Identifier: msg.Service, Port: msg.Port}
		m.discMtx.Lock()
		_, exists := m.discovered[d.key()]
		delete(m.discovered, d.key())
		m.discMtx.Unlock()
		if exists {
			m.dispatch(d, DEPARTED)
		}
	}
}

// dispatch fires every matching discover callback in its own goroutine,
// never holding the callback-set mutex while a callback runs. The manager
// does not wait for callbacks past this point; a blocking callback starves
// no other dispatch but can itself stall if it never returns.
func (m *Manager) dispatch(svc DiscoveredService, status ServiceStatus) {
	m.cbMtx.Lock()
	matches := make([]callbackEntry, 0, len(m.callbacks))
	for _, e := range m.callbacks {
		if e.id == svc.Identifier {
			matches = append(matches, e)
		}
	}
	m.cbMtx.Unlock()

	for _, e := range matches {
		cb := *e.cb
		ud := e.userData
		go cb(svc, status, ud)
	}
}

func sortRegistered(s []RegisteredService) {
	slices.SortFunc(s, func(a, b RegisteredService) bool { return a.less(b) })
}
