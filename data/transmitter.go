/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package data implements the CDTP data plane (C8): a Transmitter that
// opens a run with a BOR frame, streams DATA frames and closes it with
// an EOR, and a Receiver that tracks per-sender sequence numbers and
// reassembles run-condition bookkeeping out of what its senders report.
package data

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/config"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/protocol"
	"github.com/constellation-daq/Constellation-sub001/transport"
	"github.com/constellation-daq/Constellation-sub001/version"
)

const defaultTimeout = 10 * time.Second

// SendTimeoutError is raised when a BOR, DATA or EOR send could not
// complete within its configured timeout.
type SendTimeoutError struct {
	Timeout time.Duration
}

func (e *SendTimeoutError) Error() string {
	return fmt.Sprintf("data: send timed out after %s", e.Timeout)
}

// DataMessage is the builder returned by NewDataMessage: the caller
// fills Frames and Tags before handing it to TrySendDataMessage or
// SendDataMessage.
type DataMessage struct {
	Sequence uint64
	Frames   [][]byte
	Tags     protocol.Dictionary
}

// Transmitter is the CDTP sending half of the data plane. It owns a
// push-style socket advertised over CHIRP as DATA, and is driven by a
// satellite's starting/stopping hooks.
type Transmitter struct {
	chirpManager *chirp.Manager
	sender       string
	logger       *log.Logger

	pub *transport.Publisher

	borTimeout  time.Duration
	dataTimeout time.Duration
	eorTimeout  time.Duration
	license     string

	seqMtx sync.Mutex
	seq    uint64

	condMtx   sync.Mutex
	condition protocol.RunCondition

	runMtx  sync.Mutex
	runID   string
	borSent bool
}

// NewTransmitter constructs a Transmitter; Configure and Start must be
// called before a run can begin.
func NewTransmitter(chirpManager *chirp.Manager, sender string, logger *log.Logger) *Transmitter {
	return &Transmitter{
		chirpManager: chirpManager,
		sender:       sender,
		logger:       logger,
		borTimeout:   defaultTimeout,
		dataTimeout:  defaultTimeout,
		eorTimeout:   defaultTimeout,
	}
}

// Configure applies the reserved _bor_timeout/_data_timeout/
// _eor_timeout/_data_license keys from cfg, each timeout defaulting to
// 10 s absent an override.
func (t *Transmitter) Configure(cfg *config.Configuration) error {
	bor, err := cfg.GetInt64Default("_bor_timeout", 10)
	if err != nil {
		return err
	}
	dt, err := cfg.GetInt64Default("_data_timeout", 10)
	if err != nil {
		return err
	}
	eor, err := cfg.GetInt64Default("_eor_timeout", 10)
	if err != nil {
		return err
	}
	t.borTimeout = time.Duration(bor) * time.Second
	t.dataTimeout = time.Duration(dt) * time.Second
	t.eorTimeout = time.Duration(eor) * time.Second

	if cfg.Has("_data_license") {
		lic, err := cfg.GetString("_data_license")
		if err != nil {
			return err
		}
		t.license = lic
	}
	return nil
}

// Start binds the push socket and advertises it over CHIRP as DATA.
// Serve must be run (typically joined through the owning satellite's
// errgroup) to actually service subscriber connections.
func (t *Transmitter) Start(bindAddr string) error {
	pub, err := transport.NewPublisher("tcp", bindAddr)
	if err != nil {
		return err
	}
	addr, ok := pub.Addr().(*net.TCPAddr)
	if !ok {
		pub.Close()
		return fmt.Errorf("data: transmitter listener is not TCP")
	}
	if _, err := t.chirpManager.RegisterService(chirp.DATA, uint16(addr.Port)); err != nil {
		pub.Close()
		return err
	}
	t.pub = pub
	return nil
}

// Serve runs the publisher's subscriber accept loop until Close stops it.
func (t *Transmitter) Serve() error {
	return t.pub.Serve()
}

// Close shuts down the push socket.
func (t *Transmitter) Close() error {
	if t.pub == nil {
		return nil
	}
	return t.pub.Close()
}

// Starting opens a run: it resets sequencing and condition state and
// sends the BOR frame carrying cfg's configuration as its single
// payload frame. borTags are merged into the header's tag set, on top
// of the framework's own version/version_full/run_id/license tags. An
// empty runID is replaced with a freshly generated UUID, matching a
// controller that issues "start" without one.
func (t *Transmitter) Starting(runID string, cfg *config.Configuration, borTags protocol.Dictionary) error {
	if runID == "" {
		runID = uuid.NewString()
	}

	t.runMtx.Lock()
	t.runID = runID
	t.borSent = false
	t.runMtx.Unlock()

	t.seqMtx.Lock()
	t.seq = 0
	t.seqMtx.Unlock()

	t.condMtx.Lock()
	t.condition = protocol.ConditionGOOD
	t.condMtx.Unlock()

	tags := protocol.Dictionary{
		"version":      protocol.String(version.Version()),
		"version_full": protocol.String(version.Full()),
		"run_id":       protocol.String(runID),
	}
	if t.license != "" {
		tags["license"] = protocol.String(t.license)
	}
	for k, v := range borTags {
		tags[k] = v
	}

	payload, err := cfg.Assemble().Marshal()
	if err != nil {
		return err
	}

	msg := protocol.CDTPMessage{
		Header:   protocol.Header{Sender: t.sender, Time: time.Now(), Tags: tags},
		Sequence: 0,
		Type:     protocol.BOR,
		Frames:   [][]byte{payload},
	}
	raw, err := msg.Assemble()
	if err != nil {
		return err
	}
	if err := t.publishWithTimeout(raw, t.borTimeout); err != nil {
		return err
	}

	t.runMtx.Lock()
	t.borSent = true
	t.runMtx.Unlock()
	return nil
}

// NewDataMessage allocates the next sequence number and a builder with
// n empty payload frames for the caller to fill.
func (t *Transmitter) NewDataMessage(n int) *DataMessage {
	t.seqMtx.Lock()
	t.seq++
	seq := t.seq
	t.seqMtx.Unlock()
	return &DataMessage{
		Sequence: seq,
		Frames:   make([][]byte, n),
		Tags:     make(protocol.Dictionary),
	}
}

func (t *Transmitter) assemble(m *DataMessage) ([]byte, error) {
	msg := protocol.CDTPMessage{
		Header:   protocol.Header{Sender: t.sender, Time: time.Now(), Tags: m.Tags},
		Sequence: m.Sequence,
		Type:     protocol.DATA,
		Frames:   m.Frames,
	}
	return msg.Assemble()
}

// TrySendDataMessage attempts a send bounded by _data_timeout and
// returns false, without raising, if it could not complete in time.
func (t *Transmitter) TrySendDataMessage(m *DataMessage) bool {
	raw, err := t.assemble(m)
	if err != nil {
		if t.logger != nil {
			t.logger.Warningf("data: assemble failed: %v", err)
		}
		return false
	}
	return t.publishWithTimeout(raw, t.dataTimeout) == nil
}

// SendDataMessage sends m, returning a SendTimeoutError if it could
// not complete within _data_timeout.
func (t *Transmitter) SendDataMessage(m *DataMessage) error {
	raw, err := t.assemble(m)
	if err != nil {
		return err
	}
	return t.publishWithTimeout(raw, t.dataTimeout)
}

// MarkRunTainted ORs TAINTED into the outgoing run condition.
func (t *Transmitter) MarkRunTainted() {
	t.condMtx.Lock()
	t.condition |= protocol.ConditionTAINTED
	t.condMtx.Unlock()
}

// MarkAborted ORs ABORTED into the outgoing run condition, for a run
// that failed without an orderly stop.
func (t *Transmitter) MarkAborted() {
	t.condMtx.Lock()
	t.condition |= protocol.ConditionABORTED
	t.condMtx.Unlock()
}

// MarkInterrupted ORs INTERRUPTED into the outgoing run condition.
func (t *Transmitter) MarkInterrupted() {
	t.condMtx.Lock()
	t.condition |= protocol.ConditionINTERRUPTED
	t.condMtx.Unlock()
}

// Stopping closes the run, sending an EOR frame whose payload is the
// run metadata dictionary (condition, condition_code, version,
// version_full, run_id, plus eorTags). A no-op if no BOR was ever sent.
func (t *Transmitter) Stopping(eorTags protocol.Dictionary) error {
	t.runMtx.Lock()
	runID := t.runID
	borSent := t.borSent
	t.runMtx.Unlock()
	if !borSent {
		return nil
	}

	t.condMtx.Lock()
	cond := t.condition
	t.condMtx.Unlock()

	t.seqMtx.Lock()
	t.seq++
	seq := t.seq
	t.seqMtx.Unlock()

	meta := protocol.Dictionary{
		"condition":      protocol.String(cond.String()),
		"condition_code": protocol.Int64(int64(cond)),
		"version":        protocol.String(version.Version()),
		"version_full":   protocol.String(version.Full()),
		"run_id":         protocol.String(runID),
	}
	for k, v := range eorTags {
		meta[k] = v
	}

	payload, err := meta.Marshal()
	if err != nil {
		return err
	}

	msg := protocol.CDTPMessage{
		Header:   protocol.Header{Sender: t.sender, Time: time.Now(), Tags: nil},
		Sequence: seq,
		Type:     protocol.EOR,
		Frames:   [][]byte{payload},
	}
	raw, err := msg.Assemble()
	if err != nil {
		return err
	}

	t.runMtx.Lock()
	t.borSent = false
	t.runMtx.Unlock()

	return t.publishWithTimeout(raw, t.eorTimeout)
}

// publishWithTimeout runs a Publisher.Publish call (fire-and-forget by
// design) on its own goroutine and bounds how long the caller waits
// for it, since the underlying pub/sub transport has no per-send
// deadline of its own.
func (t *Transmitter) publishWithTimeout(raw []byte, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.pub.Publish("", raw)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return &SendTimeoutError{Timeout: timeout}
	}
}
