/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package satellite wires the FSM, the CSCP request/reply loop and the
// user command registry into BaseSatellite, the lifecycle-controlled
// process every Constellation satellite embeds.
package satellite

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/constellation-daq/Constellation-sub001/chirp"
	"github.com/constellation-daq/Constellation-sub001/command"
	"github.com/constellation-daq/Constellation-sub001/config"
	"github.com/constellation-daq/Constellation-sub001/fsm"
	"github.com/constellation-daq/Constellation-sub001/heartbeat"
	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/protocol"
	"github.com/constellation-daq/Constellation-sub001/transport"
	"github.com/constellation-daq/Constellation-sub001/version"
)

const cscpReceiveTimeout = 100 * time.Millisecond

var transitionTrigger = map[string]fsm.Trigger{
	"initialize":  fsm.Initialize,
	"launch":      fsm.Launch,
	"land":        fsm.Land,
	"reconfigure": fsm.Reconfigure,
	"start":       fsm.Start,
	"stop":        fsm.Stop,
	"shutdown":    fsm.Shutdown,
}

// BaseSatellite is the lifecycle-controlled process instance uniquely
// named by type.name (C6 + C7 integration point).
type BaseSatellite struct {
	typeName     string
	instanceName string

	chirpManager *chirp.Manager
	logger       *log.Logger

	Machine  *fsm.Machine
	Commands *command.Registry

	cfgMtx sync.Mutex
	cfg    *config.Configuration

	Heartbeat *heartbeat.Manager

	listener *transport.Listener
	connMtx  sync.Mutex
	active   *transport.StreamSocket

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a BaseSatellite. hooks supplies the domain behavior
// for each transitional/RUN state; supportReconfigure gates the
// reconfigure command per the satellite's own declared capability.
func New(typeName, instanceName string, chirpManager *chirp.Manager, hooks fsm.Hooks, supportReconfigure bool, logger *log.Logger) *BaseSatellite {
	bs := &BaseSatellite{
		typeName:     typeName,
		instanceName: instanceName,
		chirpManager: chirpManager,
		logger:       logger,
		Commands:     command.NewRegistry(),
		cfg:          config.New(),
	}
	bs.Machine = fsm.New(hooks, supportReconfigure, logger)
	bs.Machine.ApplyPayload = bs.applyPayload
	bs.Machine.OnStateChange(func(old, new fsm.State) {
		if bs.Heartbeat != nil {
			bs.Heartbeat.SetState(new.String())
		}
		if old.String() == "initializing" && new == fsm.INIT && bs.logger != nil {
			bs.Config().LogUnused(bs.logger)
		}
	})
	return bs
}

// CanonicalName returns "Type.instance", the satellite's unique identity.
func (bs *BaseSatellite) CanonicalName() string {
	return bs.typeName + "." + bs.instanceName
}

// Config returns the satellite's current configuration. Valid only
// after the initializing hook has run; callers must not retain it
// across a later reconfigure.
func (bs *BaseSatellite) Config() *config.Configuration {
	bs.cfgMtx.Lock()
	defer bs.cfgMtx.Unlock()
	return bs.cfg
}

func (bs *BaseSatellite) applyPayload(trigger fsm.Trigger, payload protocol.Value) error {
	switch trigger {
	case fsm.Initialize:
		dict, err := parseDictionaryPayload(payload)
		if err != nil {
			return fmt.Errorf("malformed initialize payload: %w", err)
		}
		bs.cfgMtx.Lock()
		bs.cfg = config.FromDictionary(dict)
		bs.cfgMtx.Unlock()
	case fsm.Reconfigure:
		dict, err := parseDictionaryPayload(payload)
		if err != nil {
			return fmt.Errorf("malformed reconfigure payload: %w", err)
		}
		bs.cfgMtx.Lock()
		bs.cfg.ApplyDictionary(dict)
		bs.cfgMtx.Unlock()
	case fsm.Start:
		if payload.IsNone() {
			return fmt.Errorf("start requires a run_id")
		}
		runID, err := payload.AsString()
		if err != nil {
			return fmt.Errorf("start run_id must be a string: %w", err)
		}
		bs.Machine.SetRunID(runID)
	}
	return nil
}

// Start binds the CSCP reply socket, advertises it over CHIRP as
// CONTROL and begins servicing requests. If hb is non-nil it is
// started too and wired to the FSM's state-change callback.
func (bs *BaseSatellite) Start(ctx context.Context, cscpBindAddr string, hb *heartbeat.Manager, heartbeatBindAddr string) error {
	ln, err := transport.Listen("tcp", cscpBindAddr)
	if err != nil {
		return err
	}
	bs.listener = ln

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return fmt.Errorf("satellite: CSCP listener is not TCP")
	}
	if _, err := bs.chirpManager.RegisterService(chirp.CONTROL, uint16(addr.Port)); err != nil {
		ln.Close()
		return err
	}

	if hb != nil {
		bs.Heartbeat = hb
		if err := hb.Start(ctx, heartbeatBindAddr); err != nil {
			ln.Close()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	bs.cancel = cancel
	group, runCtx := errgroup.WithContext(runCtx)
	bs.group = group

	group.Go(func() error {
		<-runCtx.Done()
		return ln.Close()
	})
	group.Go(func() error { return bs.acceptLoop(runCtx) })

	return nil
}

// Stop cancels the CSCP accept loop, the heartbeat manager (if any) and
// joins every worker task.
func (bs *BaseSatellite) Stop() error {
	if bs.cancel != nil {
		bs.cancel()
	}
	if bs.Heartbeat != nil {
		bs.Heartbeat.Stop()
	}
	bs.connMtx.Lock()
	if bs.active != nil {
		bs.active.Close()
	}
	bs.connMtx.Unlock()
	if bs.group != nil {
		return bs.group.Wait()
	}
	return nil
}

func (bs *BaseSatellite) acceptLoop(ctx context.Context) error {
	for {
		sock, err := bs.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil
		}

		bs.connMtx.Lock()
		if bs.active != nil {
			bs.connMtx.Unlock()
			sock.Close()
			continue
		}
		bs.active = sock
		bs.connMtx.Unlock()

		if err := bs.serveConn(ctx, sock); err != nil && bs.logger != nil {
			bs.logger.Warningf("satellite: CSCP connection error: %v", err)
		}

		bs.connMtx.Lock()
		if bs.active == sock {
			bs.active = nil
		}
		bs.connMtx.Unlock()
		sock.Close()
	}
}

func (bs *BaseSatellite) serveConn(ctx context.Context, sock *transport.StreamSocket) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := sock.Receive(cscpReceiveTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil
		}

		req, err := protocol.DecodeCSCP(raw)
		if err != nil {
			if bs.logger != nil {
				bs.logger.Warningf("satellite: CSCP decode failed: %v", err)
			}
			continue
		}

		reply := bs.handleRequest(req)
		out, err := reply.Assemble()
		if err != nil {
			return err
		}
		if err := sock.Send(out); err != nil {
			return err
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (bs *BaseSatellite) reply(command string, verb protocol.VerbType, payload protocol.Value, tags protocol.Dictionary) protocol.CSCPMessage {
	return protocol.CSCPMessage{
		Header: protocol.Header{
			Sender: bs.CanonicalName(),
			Time:   time.Now(),
			Tags:   tags,
		},
		Verb:    verb,
		Command: command,
		Payload: payload,
	}
}

func (bs *BaseSatellite) handleRequest(req protocol.CSCPMessage) protocol.CSCPMessage {
	if req.Verb != protocol.REQUEST {
		return bs.reply(req.Command, protocol.ERROR, protocol.String("expected a REQUEST"), nil)
	}

	cmd := strings.ToLower(req.Command)

	if trig, ok := transitionTrigger[cmd]; ok {
		verb, msg := bs.Machine.RequestTransition(trig, req.Payload)
		return bs.reply(req.Command, verb, protocol.String(msg), nil)
	}

	if verb, payload, tags, ok := bs.handleBuiltin(cmd); ok {
		return bs.reply(req.Command, verb, payload, tags)
	}

	var args []protocol.Value
	if !req.Payload.IsNone() {
		args = []protocol.Value{req.Payload}
	}
	result, err := bs.Commands.Dispatch(cmd, bs.Machine.State(), args)
	if err == nil {
		return bs.reply(req.Command, protocol.SUCCESS, result, nil)
	}
	switch {
	case err == command.ErrNotFound:
		return bs.reply(req.Command, protocol.UNKNOWN, protocol.String("unknown command"), nil)
	case err == command.ErrWrongState:
		return bs.reply(req.Command, protocol.INVALID, protocol.String("not allowed in current state"), nil)
	default:
		return bs.reply(req.Command, protocol.INCOMPLETE, protocol.String(err.Error()), nil)
	}
}

func (bs *BaseSatellite) handleBuiltin(cmd string) (protocol.VerbType, protocol.Value, protocol.Dictionary, bool) {
	switch cmd {
	case "get_name":
		return protocol.SUCCESS, protocol.String(bs.CanonicalName()), nil, true
	case "get_version":
		return protocol.SUCCESS, protocol.String(version.Full()), nil, true
	case "get_commands":
		dict := protocol.Dictionary{}
		for _, line := range bs.Commands.Describe() {
			parts := strings.SplitN(line, ": ", 2)
			if len(parts) == 2 {
				dict[parts[0]] = protocol.String(parts[1])
			}
		}
		v, err := dictionaryPayload(dict)
		if err != nil {
			return protocol.ERROR, protocol.String(err.Error()), nil, true
		}
		return protocol.SUCCESS, v, nil, true
	case "get_state":
		state := bs.Machine.State()
		tags := protocol.Dictionary{"last_changed": protocol.Time(bs.Machine.LastChanged())}
		return protocol.SUCCESS, protocol.Int64(int64(state)), tags, true
	case "get_status":
		return protocol.SUCCESS, protocol.String(bs.Machine.Status()), nil, true
	case "get_config":
		v, err := dictionaryPayload(bs.Config().Assemble())
		if err != nil {
			return protocol.ERROR, protocol.String(err.Error()), nil, true
		}
		return protocol.SUCCESS, v, nil, true
	case "get_run_id":
		return protocol.SUCCESS, protocol.String(bs.Machine.RunID()), nil, true
	}
	return 0, protocol.None(), nil, false
}
