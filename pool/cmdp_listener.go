/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pool

import (
	"sync"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

// CMDPListener specializes Pool for CMDP telemetry/log streams: a
// global topic set shared by every peer, plus per-host "extra" topics
// layered on top. The active subscription set at any connected peer H
// is always exactly global ∪ extras(H); no duplicate subscribe frames
// are ever sent for a topic already covered by the global set.
type CMDPListener struct {
	pool *Pool[protocol.CMDPMessage]

	mtx    sync.Mutex
	global map[string]struct{}
	extra  map[chirp.MD5Hash]map[string]struct{}
}

// NewCMDPListener builds a CMDPListener bound to the MONITORING
// service, the CHIRP identifier CMDP publishers advertise themselves
// under.
func NewCMDPListener(manager *chirp.Manager, onMessage func(chirp.DiscoveredService, protocol.CMDPMessage), logger *log.Logger) *CMDPListener {
	l := &CMDPListener{
		global: make(map[string]struct{}),
		extra:  make(map[chirp.MD5Hash]map[string]struct{}),
	}
	hooks := Hooks[protocol.CMDPMessage]{
		OnMessage:   onMessage,
		OnConnected: l.replayExtras,
	}
	l.pool = New[protocol.CMDPMessage](manager, chirp.MONITORING, protocol.DecodeCMDP, hooks, logger)
	return l
}

func (l *CMDPListener) replayExtras(svc chirp.DiscoveredService) {
	l.mtx.Lock()
	var topics []string
	for t := range l.extra[svc.HostID] {
		if _, global := l.global[t]; !global {
			topics = append(topics, t)
		}
	}
	l.mtx.Unlock()
	for _, t := range topics {
		l.pool.SubscribeHost(svc.HostID, t)
	}
}

func (l *CMDPListener) StartPool() error { return l.pool.StartPool() }
func (l *CMDPListener) StopPool() error  { return l.pool.StopPool() }
func (l *CMDPListener) CheckPoolException() error { return l.pool.CheckPoolException() }

// MultiscribeTopics mutates the global topic set. A topic removed from
// the global set is re-subscribed at any peer whose extra set still
// wants it, so that peer's active subscriptions are unaffected.
func (l *CMDPListener) MultiscribeTopics(remove, add []string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	for _, t := range remove {
		if _, ok := l.global[t]; !ok {
			continue
		}
		delete(l.global, t)
		l.pool.Unsubscribe(t)
		for host, extras := range l.extra {
			if _, want := extras[t]; want {
				l.pool.SubscribeHost(host, t)
			}
		}
	}
	for _, t := range add {
		if _, ok := l.global[t]; ok {
			continue
		}
		l.global[t] = struct{}{}
		l.pool.Subscribe(t)
	}
}

// MultiscribeExtraTopics mutates host's per-host extra topic set. Ops
// for a topic already covered by the global set are suppressed: the
// peer is already receiving it, and unsubscribing an extra that
// overlaps the global set must not disturb global delivery.
func (l *CMDPListener) MultiscribeExtraTopics(host chirp.MD5Hash, remove, add []string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	extras := l.extra[host]
	if extras == nil {
		extras = make(map[string]struct{})
		l.extra[host] = extras
	}

	for _, t := range remove {
		if _, ok := extras[t]; !ok {
			continue
		}
		delete(extras, t)
		if _, global := l.global[t]; !global {
			l.pool.UnsubscribeHost(host, t)
		}
	}
	for _, t := range add {
		if _, ok := extras[t]; ok {
			continue
		}
		extras[t] = struct{}{}
		if _, global := l.global[t]; !global {
			l.pool.SubscribeHost(host, t)
		}
	}
}
