/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package heartbeat implements the liveness beacon: a publisher of the
// local FSM state at a configurable interval, combined with a
// subscriber pool over the HEARTBEAT service that tracks peer health
// and forgets peers that stop beaconing.
package heartbeat

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/pool"
	"github.com/constellation-daq/Constellation-sub001/protocol"
	"github.com/constellation-daq/Constellation-sub001/transport"
)

// DefaultInterval is the beacon period absent a _heartbeat_interval
// configuration override.
const DefaultInterval = time.Second

// MissedBeatsThreshold (k) is the implementation-defined multiplier
// for the dead-peer detection window: a peer is "likely dead" once
// now - last_seen exceeds k * its declared interval.
const MissedBeatsThreshold = 3

// GraceIntervals extends the window an additional interval beyond
// MissedBeatsThreshold before a likely-dead peer is forgotten outright.
const GraceIntervals = 1

const checkWake = 200 * time.Millisecond

// interruptRateLimit bounds how often a single flapping peer can raise
// a local FSM interrupt, so a peer oscillating in and out of a failure
// state cannot storm the FSM with repeated interrupt calls.
const interruptRateLimit = 1.0 // per second
const interruptBurst = 1

// Forgetter is the one-way handle into the CHIRP manager the heartbeat
// manager uses to retire a dead peer, breaking the logical cycle
// between the two components (§9 design note).
type Forgetter interface {
	ForgetDiscoveredService(id chirp.ServiceIdentifier, hostID chirp.MD5Hash)
}

// InterruptFunc raises a local FSM interrupt; called when a peer
// reports a remote failure state.
type InterruptFunc func(reason string)

// IsFailureState reports whether a remote FSM state name should raise
// a local interrupt when observed in a peer's heartbeat.
type IsFailureState func(state string) bool

type peerInfo struct {
	lastSeen         time.Time
	declaredInterval time.Duration
	currentState     string
	likelyDeadSince  time.Time
	interruptLimiter *rate.Limiter
}

// Manager is the heartbeat component (C4): an emitter of this
// process's own FSM state plus a subscriber pool tracking every peer
// advertising HEARTBEAT.
type Manager struct {
	chirpManager *chirp.Manager
	forgetter    Forgetter
	sender       string
	logger       *log.Logger
	interrupt    InterruptFunc
	isFailure    IsFailureState

	pub  *transport.Publisher
	pool *pool.Pool[protocol.CHPMessage]

	instanceID string

	intervalMtx sync.Mutex
	interval    time.Duration

	stateMtx sync.Mutex
	state    string

	mtx   sync.Mutex
	peers map[chirp.MD5Hash]*peerInfo

	group  *errgroup.Group
	cancel context.CancelFunc

	emitCh chan struct{}
}

// New constructs a Manager bound to the given CHIRP manager. sender is
// this process's canonical name, carried in every CHPMessage header.
func New(chirpManager *chirp.Manager, forgetter Forgetter, sender string, interrupt InterruptFunc, isFailure IsFailureState, logger *log.Logger) *Manager {
	return &Manager{
		chirpManager: chirpManager,
		forgetter:    forgetter,
		sender:       sender,
		logger:       logger,
		interrupt:    interrupt,
		isFailure:    isFailure,
		interval:     DefaultInterval,
		state:        "NEW",
		peers:        make(map[chirp.MD5Hash]*peerInfo),
		emitCh:       make(chan struct{}, 1),
		instanceID:   uuid.NewString(),
	}
}

// SetInterval updates the beacon period. Applied on the next emitter
// cycle, matching the "updated dynamically" behavior of
// _heartbeat_interval.
func (m *Manager) SetInterval(d time.Duration) {
	m.intervalMtx.Lock()
	m.interval = d
	m.intervalMtx.Unlock()
}

func (m *Manager) getInterval() time.Duration {
	m.intervalMtx.Lock()
	defer m.intervalMtx.Unlock()
	return m.interval
}

// SetState updates the locally reported FSM state and immediately
// emits an out-of-band heartbeat (the "extrasystole"), so peers learn
// of a transition without waiting for the next regular interval.
func (m *Manager) SetState(state string) {
	m.stateMtx.Lock()
	m.state = state
	m.stateMtx.Unlock()

	select {
	case m.emitCh <- struct{}{}:
	default:
	}
}

func (m *Manager) getState() string {
	m.stateMtx.Lock()
	defer m.stateMtx.Unlock()
	return m.state
}

// Start binds the publisher socket, registers it with CHIRP under
// HEARTBEAT, starts the subscriber pool, the emitter loop and the
// dead-peer sweep, all joined through one errgroup.
func (m *Manager) Start(ctx context.Context, bindAddr string) error {
	pub, err := transport.NewPublisher("tcp", bindAddr)
	if err != nil {
		return err
	}
	m.pub = pub

	addr := pub.Addr().(*net.TCPAddr)
	if _, err := m.chirpManager.RegisterService(chirp.HEARTBEAT, uint16(addr.Port)); err != nil {
		m.pub.Close()
		return err
	}

	hooks := pool.Hooks[protocol.CHPMessage]{
		OnMessage: m.onHeartbeat,
	}
	m.pool = pool.New[protocol.CHPMessage](m.chirpManager, chirp.HEARTBEAT, protocol.DecodeCHP, hooks, m.logger)
	if err := m.pool.StartPool(); err != nil {
		m.pub.Close()
		return err
	}
	// "" is a universal prefix match in the publisher's topic filter;
	// heartbeats carry no topic of their own.
	m.pool.Subscribe("")

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	group, runCtx := errgroup.WithContext(runCtx)
	m.group = group

	group.Go(func() error { return m.pub.Serve() })
	group.Go(func() error { return m.emitLoop(runCtx) })
	group.Go(func() error { return m.sweepLoop(runCtx) })

	return nil
}

// Stop cancels the emitter and sweep loops, stops the subscriber pool
// and closes the publisher, joining every worker task.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.pool != nil {
		m.pool.StopPool()
	}
	if m.pub != nil {
		m.pub.Close()
	}
	if m.group != nil {
		return m.group.Wait()
	}
	return nil
}

func (m *Manager) emitLoop(ctx context.Context) error {
	for {
		m.emitOnce()
		select {
		case <-ctx.Done():
			return nil
		case <-m.emitCh:
			continue
		case <-time.After(m.getInterval()):
			continue
		}
	}
}

func (m *Manager) emitOnce() {
	msg := protocol.CHPMessage{
		Header: protocol.Header{
			Sender: m.sender,
			Time:   time.Now(),
			Tags:   protocol.Dictionary{"instance_id": protocol.String(m.instanceID)},
		},
		State:    m.getState(),
		Interval: m.getInterval(),
		Status:   protocol.StatusNone,
	}
	raw, err := msg.Assemble()
	if err != nil {
		if m.logger != nil {
			m.logger.Warningf("heartbeat: assemble failed: %v", err)
		}
		return
	}
	m.pub.Publish("", raw)
}

func (m *Manager) onHeartbeat(svc chirp.DiscoveredService, msg protocol.CHPMessage) {
	m.mtx.Lock()
	pi, ok := m.peers[svc.HostID]
	if !ok {
		pi = &peerInfo{interruptLimiter: rate.NewLimiter(interruptRateLimit, interruptBurst)}
		m.peers[svc.HostID] = pi
	}
	pi.lastSeen = time.Now()
	pi.declaredInterval = msg.Interval
	pi.currentState = msg.State
	pi.likelyDeadSince = time.Time{}
	limiter := pi.interruptLimiter
	m.mtx.Unlock()

	if m.isFailure != nil && m.interrupt != nil && m.isFailure(msg.State) && limiter.Allow() {
		m.interrupt("peer " + svc.HostID.String() + " reported state " + msg.State)
	}
}

func (m *Manager) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(checkWake)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	now := time.Now()
	var toForget []chirp.MD5Hash

	m.mtx.Lock()
	for host, pi := range m.peers {
		interval := pi.declaredInterval
		if interval <= 0 {
			interval = DefaultInterval
		}
		deadThreshold := interval * MissedBeatsThreshold
		graceThreshold := interval * (MissedBeatsThreshold + GraceIntervals)

		since := now.Sub(pi.lastSeen)
		if since > graceThreshold {
			toForget = append(toForget, host)
			delete(m.peers, host)
		} else if since > deadThreshold && pi.likelyDeadSince.IsZero() {
			pi.likelyDeadSince = now
		}
	}
	m.mtx.Unlock()

	for _, host := range toForget {
		m.forgetter.ForgetDiscoveredService(chirp.HEARTBEAT, host)
	}
}

// PeerState returns the last-known state for host, or "" if unknown.
func (m *Manager) PeerState(host chirp.MD5Hash) string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if pi, ok := m.peers[host]; ok {
		return pi.currentState
	}
	return ""
}

// LikelyDeadPeers returns peers currently past the missed-beat
// threshold but not yet past the grace window.
func (m *Manager) LikelyDeadPeers() []chirp.MD5Hash {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	var out []chirp.MD5Hash
	for host, pi := range m.peers {
		if !pi.likelyDeadSince.IsZero() {
			out = append(out, host)
		}
	}
	return out
}
