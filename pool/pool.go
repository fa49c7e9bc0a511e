/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package pool implements the subscriber pool: a dynamic set of
// inbound subscriber sockets, one per discovered peer advertising a
// given CHIRP service, feeding decoded messages of type M to a
// user-supplied callback.
package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/transport"
)

const recvWake = 50 * time.Millisecond

// Decoder turns a raw published frame into a message of type M.
type Decoder[M any] func([]byte) (M, error)

// Hooks are the derived-class callbacks the pool invokes with its own
// lock released, matching host_connected/host_disconnected/
// host_disposed in the behavior description.
type Hooks[M any] struct {
	// ShouldConnect, if set, gates every discovered peer before a
	// socket is opened; a peer for which it returns false is ignored.
	ShouldConnect  func(peer chirp.DiscoveredService) bool
	OnMessage      func(peer chirp.DiscoveredService, msg M)
	OnConnected    func(peer chirp.DiscoveredService)
	OnDisconnected func(peer chirp.DiscoveredService)
	OnDisposed     func(peer chirp.DiscoveredService)
}

type peerConn struct {
	svc    chirp.DiscoveredService
	sub    *transport.Subscriber
	mtx    sync.Mutex
	topics map[string]struct{}
	cancel context.CancelFunc
}

// Pool maintains one transport.Subscriber per discovered peer
// advertising Service, decoding each incoming frame with Decode and
// handing it to Hooks.OnMessage.
type Pool[M any] struct {
	manager *chirp.Manager
	service chirp.ServiceIdentifier
	decode  Decoder[M]
	hooks   Hooks[M]
	logger  *log.Logger

	mtx          sync.Mutex
	peers        map[chirp.MD5Hash]*peerConn
	globalTopics map[string]struct{}

	cb      chirp.DiscoverCallback
	group   *errgroup.Group
	cancel  context.CancelFunc
	running bool

	excMtx sync.Mutex
	exc    error
}

// New constructs a Pool bound to svc's discovery stream on manager.
// The pool is inert until StartPool is called.
func New[M any](manager *chirp.Manager, svc chirp.ServiceIdentifier, decode Decoder[M], hooks Hooks[M], logger *log.Logger) *Pool[M] {
	return &Pool[M]{
		manager:      manager,
		service:      svc,
		decode:       decode,
		hooks:        hooks,
		logger:       logger,
		peers:        make(map[chirp.MD5Hash]*peerConn),
		globalTopics: make(map[string]struct{}),
	}
}

// StartPool registers a CHIRP discover callback for Service and begins
// servicing already-discovered peers; it then issues a fresh
// discovery request so any peer that appeared before this call is
// replayed through the callback.
func (p *Pool[M]) StartPool() error {
	p.mtx.Lock()
	if p.running {
		p.mtx.Unlock()
		return fmt.Errorf("pool: already running")
	}
	p.running = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)
	p.mtx.Unlock()

	cb := chirp.DiscoverCallback(func(svc chirp.DiscoveredService, status chirp.ServiceStatus, _ interface{}) {
		p.handleDiscovery(svc, status)
	})
	p.cb = cb
	if err := p.manager.RegisterDiscoverCallback(cb, p.service, nil); err != nil {
		return err
	}

	for _, svc := range p.manager.GetDiscoveredServices(&p.service) {
		p.handleDiscovery(svc, chirp.DISCOVERED)
	}

	return p.manager.SendRequest(p.service)
}

// StopPool unregisters the discover callback, cancels every per-peer
// receive goroutine, joins them and disconnects every socket.
func (p *Pool[M]) StopPool() error {
	p.mtx.Lock()
	if !p.running {
		p.mtx.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	group := p.group
	p.manager.UnregisterDiscoverCallback(p.cb, p.service)
	peers := make([]*peerConn, 0, len(p.peers))
	for _, pc := range p.peers {
		peers = append(peers, pc)
	}
	p.peers = make(map[chirp.MD5Hash]*peerConn)
	p.mtx.Unlock()

	cancel()
	var errs *multierror.Error
	for _, pc := range peers {
		if err := pc.sub.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := group.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// CheckPoolException returns and clears any error captured by a
// background receive goroutine, the cooperating inspection point the
// behavior description calls checkPoolException().
func (p *Pool[M]) CheckPoolException() error {
	p.excMtx.Lock()
	defer p.excMtx.Unlock()
	err := p.exc
	p.exc = nil
	return err
}

func (p *Pool[M]) recordException(err error) {
	p.excMtx.Lock()
	if p.exc == nil {
		p.exc = err
	}
	p.excMtx.Unlock()
}

func (p *Pool[M]) handleDiscovery(svc chirp.DiscoveredService, status chirp.ServiceStatus) {
	switch status {
	case chirp.DISCOVERED:
		p.connectPeer(svc)
	case chirp.DEPARTED:
		p.disconnectPeer(svc, false)
	case chirp.DEAD:
		p.disconnectPeer(svc, true)
	}
}

func (p *Pool[M]) connectPeer(svc chirp.DiscoveredService) {
	if p.hooks.ShouldConnect != nil && !p.hooks.ShouldConnect(svc) {
		return
	}
	addr := net.JoinHostPort(svc.Address.String(), fmt.Sprintf("%d", svc.Port))
	sub, err := transport.Subscribe("tcp", addr)
	if err != nil {
		if p.logger != nil {
			p.logger.Warningf("pool: connect to %s failed: %v", addr, err)
		}
		return
	}

	p.mtx.Lock()
	if _, exists := p.peers[svc.HostID]; exists {
		p.mtx.Unlock()
		sub.Close()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pc := &peerConn{svc: svc, sub: sub, topics: make(map[string]struct{}), cancel: cancel}
	for t := range p.globalTopics {
		pc.topics[t] = struct{}{}
		sub.SubscribeTopic(t)
	}
	p.peers[svc.HostID] = pc
	group := p.group
	p.mtx.Unlock()

	group.Go(func() error {
		return p.serviceLoop(ctx, pc)
	})

	if p.hooks.OnConnected != nil {
		p.hooks.OnConnected(svc)
	}
}

func (p *Pool[M]) disconnectPeer(svc chirp.DiscoveredService, disposed bool) {
	p.mtx.Lock()
	pc, ok := p.peers[svc.HostID]
	if ok {
		delete(p.peers, svc.HostID)
	}
	p.mtx.Unlock()
	if !ok {
		return
	}
	pc.cancel()
	pc.sub.Close()

	if disposed {
		if p.hooks.OnDisposed != nil {
			p.hooks.OnDisposed(svc)
		}
	} else if p.hooks.OnDisconnected != nil {
		p.hooks.OnDisconnected(svc)
	}
}

func (p *Pool[M]) serviceLoop(ctx context.Context, pc *peerConn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		raw, err := pc.sub.Receive(recvWake)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return nil
		}
		msg, err := p.decode(raw)
		if err != nil {
			if p.logger != nil {
				p.logger.Warningf("pool: decode failed from %s: %v", pc.svc.HostID, err)
			}
			continue
		}
		if p.hooks.OnMessage != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						p.recordException(fmt.Errorf("pool: callback panic: %v", r))
					}
				}()
				p.hooks.OnMessage(pc.svc, msg)
			}()
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Subscribe applies topic to every currently connected peer and adds
// it to the global set so future peers pick it up on connect.
func (p *Pool[M]) Subscribe(topic string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.globalTopics[topic] = struct{}{}
	for _, pc := range p.peers {
		pc.mtx.Lock()
		if _, have := pc.topics[topic]; !have {
			pc.topics[topic] = struct{}{}
			pc.sub.SubscribeTopic(topic)
		}
		pc.mtx.Unlock()
	}
}

// Unsubscribe removes topic from the global set and every connected peer.
func (p *Pool[M]) Unsubscribe(topic string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	delete(p.globalTopics, topic)
	for _, pc := range p.peers {
		pc.mtx.Lock()
		if _, have := pc.topics[topic]; have {
			delete(pc.topics, topic)
			pc.sub.UnsubscribeTopic(topic)
		}
		pc.mtx.Unlock()
	}
}

// SubscribeHost applies topic to a single peer only, without affecting
// the global set.
func (p *Pool[M]) SubscribeHost(host chirp.MD5Hash, topic string) {
	p.mtx.Lock()
	pc, ok := p.peers[host]
	p.mtx.Unlock()
	if !ok {
		return
	}
	pc.mtx.Lock()
	defer pc.mtx.Unlock()
	if _, have := pc.topics[topic]; !have {
		pc.topics[topic] = struct{}{}
		pc.sub.SubscribeTopic(topic)
	}
}

// UnsubscribeHost removes topic from a single peer only.
func (p *Pool[M]) UnsubscribeHost(host chirp.MD5Hash, topic string) {
	p.mtx.Lock()
	pc, ok := p.peers[host]
	p.mtx.Unlock()
	if !ok {
		return
	}
	pc.mtx.Lock()
	defer pc.mtx.Unlock()
	if _, have := pc.topics[topic]; have {
		delete(pc.topics, topic)
		pc.sub.UnsubscribeTopic(topic)
	}
}

// ConnectedPeers returns a snapshot of the peers currently connected.
func (p *Pool[M]) ConnectedPeers() []chirp.DiscoveredService {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	out := make([]chirp.DiscoveredService, 0, len(p.peers))
	for _, pc := range p.peers {
		out = append(out, pc.svc)
	}
	return out
}
