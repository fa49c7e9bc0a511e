/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package data

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/config"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/pool"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

var canonicalNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+\.[A-Za-z0-9_]+$`)

const stopPollInterval = 20 * time.Millisecond

// BORFunc observes a sender's Begin-of-Run, carrying its advertised
// configuration.
type BORFunc func(peer chirp.DiscoveredService, header protocol.Header, cfg *config.Configuration)

// DataFunc observes one DATA frame from a sender.
type DataFunc func(peer chirp.DiscoveredService, msg protocol.CDTPMessage)

// EORFunc observes a sender's End-of-Run, real or synthetic, carrying
// the merged run-metadata dictionary.
type EORFunc func(peer chirp.DiscoveredService, header protocol.Header, meta protocol.Dictionary)

type senderState struct {
	svc chirp.DiscoveredService

	mtx         sync.Mutex
	expectedSeq uint64
	borReceived bool
	eorReceived bool
	condition   protocol.RunCondition
}

func (st *senderState) isDone() (bor, eor bool) {
	st.mtx.Lock()
	defer st.mtx.Unlock()
	return st.borReceived, st.eorReceived
}

// Receiver is the CDTP receiving half of the data plane (C8): a
// subscriber pool filtered to a fixed allowlist of transmitter
// canonical names, tracking per-sender sequencing and run condition.
type Receiver struct {
	chirpManager *chirp.Manager
	logger       *log.Logger
	pool         *pool.Pool[protocol.CDTPMessage]

	allowed map[chirp.MD5Hash]string

	eorTimeout time.Duration

	OnBOR  BORFunc
	OnData DataFunc
	OnEOR  EORFunc

	mtx     sync.Mutex
	senders map[chirp.MD5Hash]*senderState
}

// NewReceiver constructs a Receiver; Configure must be called before Start.
func NewReceiver(chirpManager *chirp.Manager, logger *log.Logger) *Receiver {
	return &Receiver{
		chirpManager: chirpManager,
		logger:       logger,
		eorTimeout:   defaultTimeout,
		senders:      make(map[chirp.MD5Hash]*senderState),
	}
}

// Configure applies _data_transmitters (a list of canonical names,
// each hashed to the MD5 host identifier it must match) and
// _eor_timeout. Any name violating the type.name grammar fails
// initialization.
func (r *Receiver) Configure(cfg *config.Configuration) error {
	names, err := cfg.GetStringSliceDefault("_data_transmitters", nil)
	if err != nil {
		return err
	}
	eor, err := cfg.GetInt64Default("_eor_timeout", 10)
	if err != nil {
		return err
	}

	allowed := make(map[chirp.MD5Hash]string, len(names))
	for _, n := range names {
		if !canonicalNameRE.MatchString(n) {
			return fmt.Errorf("data: %q is not a valid canonical name", n)
		}
		allowed[chirp.NewMD5Hash(n)] = n
	}

	r.mtx.Lock()
	r.allowed = allowed
	r.eorTimeout = time.Duration(eor) * time.Second
	r.mtx.Unlock()
	return nil
}

// CheckReconfigure rejects a reconfigure payload that attempts to
// change _data_transmitters; a receiver-capable satellite must call
// this from its own reconfiguring hook before merging the payload.
func (r *Receiver) CheckReconfigure(d protocol.Dictionary) error {
	if _, ok := d["_data_transmitters"]; ok {
		return fmt.Errorf("data: _data_transmitters cannot be changed by reconfigure")
	}
	return nil
}

func (r *Receiver) shouldConnect(svc chirp.DiscoveredService) bool {
	r.mtx.Lock()
	_, ok := r.allowed[svc.HostID]
	r.mtx.Unlock()
	return ok
}

// Start begins the subscriber pool over the DATA service, connecting
// only to peers in the configured allowlist.
func (r *Receiver) Start() error {
	hooks := pool.Hooks[protocol.CDTPMessage]{
		ShouldConnect: r.shouldConnect,
		OnMessage:     r.handleMessage,
	}
	r.pool = pool.New[protocol.CDTPMessage](r.chirpManager, chirp.DATA, protocol.DecodeCDTP, hooks, r.logger)
	if err := r.pool.StartPool(); err != nil {
		return err
	}
	r.pool.Subscribe("")
	return nil
}

// Stop tears down the subscriber pool.
func (r *Receiver) Stop() error {
	if r.pool == nil {
		return nil
	}
	return r.pool.StopPool()
}

func (r *Receiver) handleMessage(peer chirp.DiscoveredService, msg protocol.CDTPMessage) {
	r.mtx.Lock()
	st, ok := r.senders[peer.HostID]
	if !ok {
		st = &senderState{svc: peer}
		r.senders[peer.HostID] = st
	}
	r.mtx.Unlock()

	switch msg.Type {
	case protocol.BOR:
		st.mtx.Lock()
		st.condition = protocol.ConditionGOOD
		if msg.Sequence != 0 {
			if r.logger != nil {
				r.logger.Warningf("data: %s sent BOR with seq=%d", peer.HostID, msg.Sequence)
			}
			st.condition |= protocol.ConditionINCOMPLETE
		}
		st.borReceived = true
		st.expectedSeq = 1
		st.mtx.Unlock()

		if r.OnBOR != nil {
			var cfg *config.Configuration
			if len(msg.Frames) > 0 {
				dict, err := protocol.UnmarshalDictionary(msg.Frames[0])
				if err == nil {
					cfg = config.FromDictionary(dict)
				}
			}
			if cfg == nil {
				cfg = config.New()
			}
			r.OnBOR(peer, msg.Header, cfg)
		}

	case protocol.DATA:
		st.mtx.Lock()
		if msg.Sequence != st.expectedSeq {
			st.condition |= protocol.ConditionINCOMPLETE
		}
		if msg.Sequence >= st.expectedSeq {
			st.expectedSeq = msg.Sequence + 1
		}
		st.mtx.Unlock()
		if r.OnData != nil {
			r.OnData(peer, msg)
		}

	case protocol.EOR:
		meta := protocol.Dictionary{}
		if len(msg.Frames) > 0 {
			if d, err := protocol.UnmarshalDictionary(msg.Frames[0]); err == nil {
				meta = d
			}
		}
		st.mtx.Lock()
		if code, ok := meta["condition_code"]; ok {
			if n, err := code.AsInt64(); err == nil {
				st.condition |= protocol.RunCondition(n)
			}
		}
		st.eorReceived = true
		cond := st.condition
		st.mtx.Unlock()

		meta["condition"] = protocol.String(cond.String())
		meta["condition_code"] = protocol.Int64(int64(cond))

		if r.OnEOR != nil {
			r.OnEOR(peer, msg.Header, meta)
		}
	}
}

// Run yields until ctx is cancelled, surfacing any exception recorded
// by the subscriber pool's receive goroutines.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(stopPollInterval):
		}
		if err := r.pool.CheckPoolException(); err != nil {
			return err
		}
	}
}

// Stopping waits, bounded by _eor_timeout, for every sender that sent
// a BOR to also send an EOR. Senders that never reply are given a
// synthetic EOR with condition ABORTED, and a non-nil error is
// returned so the caller's FSM hook drives the satellite to ERROR.
func (r *Receiver) Stopping(ctx context.Context) error {
	deadline := time.Now().Add(r.eorTimeout)
	for {
		if r.allEORsReceived() {
			return nil
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return r.insertSyntheticEORs()
		}
		time.Sleep(stopPollInterval)
	}
}

// Interrupting drains any pending EORs on a best-effort basis, running
// before the generic interrupt teardown. Stragglers are left for the
// next stopping() to resolve and never force an error here.
func (r *Receiver) Interrupting(ctx context.Context) error {
	deadline := time.Now().Add(r.eorTimeout)
	for !r.allEORsReceived() {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	return nil
}

func (r *Receiver) allEORsReceived() bool {
	r.mtx.Lock()
	senders := make([]*senderState, 0, len(r.senders))
	for _, st := range r.senders {
		senders = append(senders, st)
	}
	r.mtx.Unlock()

	for _, st := range senders {
		bor, eor := st.isDone()
		if bor && !eor {
			return false
		}
	}
	return true
}

func (r *Receiver) insertSyntheticEORs() error {
	r.mtx.Lock()
	var missing []*senderState
	for _, st := range r.senders {
		if bor, eor := st.isDone(); bor && !eor {
			missing = append(missing, st)
		}
	}
	r.mtx.Unlock()

	for _, st := range missing {
		st.mtx.Lock()
		st.condition |= protocol.ConditionABORTED
		st.eorReceived = true
		cond := st.condition
		st.mtx.Unlock()
		if r.OnEOR != nil {
			meta := protocol.Dictionary{
				"condition":      protocol.String(cond.String()),
				"condition_code": protocol.Int64(int64(cond)),
			}
			r.mtx.Lock()
			name := r.allowed[st.svc.HostID]
			r.mtx.Unlock()
			r.OnEOR(st.svc, protocol.Header{Sender: name}, meta)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("data: %d sender(s) never sent an EOR", len(missing))
}
