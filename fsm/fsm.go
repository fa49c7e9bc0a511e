/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/constellation-daq/Constellation-sub001/log"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

// Trigger names a CSCP transition command understood by the machine.
type Trigger string

const (
	Initialize  Trigger = "initialize"
	Launch      Trigger = "launch"
	Land        Trigger = "land"
	Reconfigure Trigger = "reconfigure"
	Start       Trigger = "start"
	Stop        Trigger = "stop"
	Shutdown    Trigger = "shutdown"
)

// HookFunc is a transitional or RUN state's body. Hooks for transitional
// states must complete promptly; the RUN hook is expected to run until
// ctx is cancelled and should check ctx.Err() periodically.
type HookFunc func(ctx context.Context) error

// Hooks bundles the user-supplied callable executed on entry to each
// hook-bearing state. A nil hook is treated as an immediate success.
type Hooks struct {
	Initializing  HookFunc
	Launching     HookFunc
	Landing       HookFunc
	Reconfiguring HookFunc
	Starting      HookFunc
	Run           HookFunc
	Stopping      HookFunc
	Interrupting  HookFunc
}

func (h Hooks) of(s State) HookFunc {
	switch s {
	case initializing:
		return h.Initializing
	case launching:
		return h.Launching
	case landing:
		return h.Landing
	case reconfiguring:
		return h.Reconfiguring
	case starting:
		return h.Starting
	case RUN:
		return h.Run
	case stopping:
		return h.Stopping
	case interrupting:
		return h.Interrupting
	}
	return nil
}

// okTarget is the steady state a transitional state advances to when its
// hook completes without error.
var okTarget = map[State]State{
	initializing:  INIT,
	launching:     ORBIT,
	landing:       INIT,
	reconfiguring: ORBIT,
	starting:      RUN,
	stopping:      ORBIT,
	interrupting:  SAFE,
}

// operatorTarget gives the transitional or terminal state entered when
// trigger is accepted from a given steady state.
var operatorTarget = map[State]map[Trigger]State{
	NEW:   {Initialize: initializing},
	INIT:  {Initialize: initializing, Launch: launching},
	ORBIT: {Land: landing, Reconfigure: reconfiguring, Start: starting},
	RUN:   {Stop: stopping},
	SAFE:  {Initialize: initializing},
	ERROR: {Initialize: initializing},
}

var shutdownAllowed = map[State]bool{
	NEW: true, INIT: true, SAFE: true, ERROR: true,
}

// StateChangeFunc observes a completed state transition.
type StateChangeFunc func(old, new State)

// Machine is the satellite's finite-state machine (C6): 14 states,
// transitional hooks executed on a cancellable worker, and internal
// interrupt/failure triggers layered over the CSCP-driven table.
type Machine struct {
	mtx                sync.Mutex
	state              State
	lastChanged        time.Time
	status             string
	supportReconfigure bool
	runID              string

	hooks        Hooks
	logger       *log.Logger
	ApplyPayload func(trigger Trigger, payload protocol.Value) error

	cbMtx     sync.Mutex
	callbacks []StateChangeFunc

	workMtx     sync.Mutex
	hookCancel  context.CancelFunc
	hookRunning bool
	generation  uint64
}

// New constructs a Machine in the NEW state.
func New(hooks Hooks, supportReconfigure bool, logger *log.Logger) *Machine {
	return &Machine{
		state:              NEW,
		lastChanged:        time.Now(),
		supportReconfigure: supportReconfigure,
		hooks:              hooks,
		logger:             logger,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.state
}

// LastChanged returns the timestamp of the most recent state change.
func (m *Machine) LastChanged() time.Time {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.lastChanged
}

// Status returns the last hook error message, or "" if none.
func (m *Machine) Status() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.status
}

// RunID returns the identifier of the most recently started run.
func (m *Machine) RunID() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.runID
}

// OnStateChange registers a callback fired, outside any internal lock,
// after every state change. The heartbeat manager uses this to emit an
// extrasystole.
func (m *Machine) OnStateChange(cb StateChangeFunc) {
	m.cbMtx.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.cbMtx.Unlock()
}

func (m *Machine) fireCallbacks(old, new State) {
	m.cbMtx.Lock()
	cbs := make([]StateChangeFunc, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.cbMtx.Unlock()
	for _, cb := range cbs {
		cb(old, new)
	}
}

func (m *Machine) setState(new State, status string) {
	m.mtx.Lock()
	old := m.state
	m.state = new
	m.lastChanged = time.Now()
	m.status = status
	m.mtx.Unlock()
	m.fireCallbacks(old, new)
}

// RequestTransition processes a CSCP transition command. It returns the
// CSCP verb and message to reply with; the hook for the entered
// transitional state (if any) runs asynchronously on its own worker.
func (m *Machine) RequestTransition(trigger Trigger, payload protocol.Value) (protocol.VerbType, string) {
	if trigger == Shutdown {
		return m.requestShutdown()
	}

	m.mtx.Lock()
	cur := m.state
	m.mtx.Unlock()

	if trigger == Reconfigure && !m.supportReconfigure {
		return protocol.NOTIMPLEMENTED, "reconfigure not supported by this satellite"
	}

	targets, ok := operatorTarget[cur]
	if !ok {
		return protocol.INVALID, fmt.Sprintf("%s is not valid from state %s", trigger, cur)
	}
	target, ok := targets[trigger]
	if !ok {
		return protocol.INVALID, fmt.Sprintf("%s is not valid from state %s", trigger, cur)
	}

	if cur == RUN {
		// stop ends the run: cancel the RUN hook before entering stopping.
		m.cancelRunningHook()
	}

	m.workMtx.Lock()
	if m.hookRunning {
		m.workMtx.Unlock()
		return protocol.INVALID, "a transition is already in progress"
	}
	m.hookRunning = true
	m.workMtx.Unlock()

	if m.ApplyPayload != nil {
		if err := m.ApplyPayload(trigger, payload); err != nil {
			m.workMtx.Lock()
			m.hookRunning = false
			m.workMtx.Unlock()
			return protocol.INCOMPLETE, err.Error()
		}
	}

	m.setState(target, "")
	m.runHookAsync(target)
	return protocol.SUCCESS, fmt.Sprintf("transitioning to %s", target)
}

func (m *Machine) requestShutdown() (protocol.VerbType, string) {
	m.mtx.Lock()
	cur := m.state
	m.mtx.Unlock()
	if !shutdownAllowed[cur] {
		return protocol.INVALID, fmt.Sprintf("shutdown is not valid from state %s", cur)
	}
	m.setState(terminated, "")
	return protocol.SUCCESS, "shutting down"
}

// runHookAsync executes the hook for a freshly-entered transitional or
// RUN state on a cancellable worker, advancing to the ok/err target on
// completion.
func (m *Machine) runHookAsync(entered State) {
	hook := m.hooks.of(entered)
	ctx, cancel := context.WithCancel(context.Background())

	m.workMtx.Lock()
	m.generation++
	gen := m.generation
	m.hookCancel = cancel
	m.hookRunning = true
	m.workMtx.Unlock()

	go func() {
		defer func() {
			m.workMtx.Lock()
			if m.generation == gen {
				m.hookRunning = false
				m.hookCancel = nil
			}
			m.workMtx.Unlock()
		}()

		var err error
		if hook != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("hook panic: %v", r)
					}
				}()
				err = hook(ctx)
			}()
		}

		// A preempting Interrupt/Failure call bumped the generation
		// counter while this hook was still running; its outcome no
		// longer owns the state and must not overwrite the newer one.
		m.workMtx.Lock()
		stale := m.generation != gen
		m.workMtx.Unlock()
		if stale {
			return
		}

		if entered == RUN {
			return
		}

		if err != nil {
			if m.logger != nil {
				m.logger.Criticalf("fsm: %s hook failed: %v", entered, err)
			}
			m.setState(ERROR, err.Error())
			return
		}
		next := okTarget[entered]
		m.setState(next, "")
		if next == RUN {
			m.runHookAsync(RUN)
		}
	}()
}

// Interrupt is the internal trigger raised by local failure detection
// or a remote peer's failure heartbeat. It cancels any running
// transitional/RUN hook and transitions to interrupting, whose hook
// then runs to completion and advances to SAFE or ERROR.
func (m *Machine) Interrupt(reason string) {
	m.mtx.Lock()
	cur := m.state
	m.mtx.Unlock()
	if cur == terminated || cur == interrupting {
		return
	}

	m.cancelRunningHook()
	m.setState(interrupting, reason)
	m.runHookAsync(interrupting)
}

// Failure is the internal trigger that bypasses all orderly teardown
// and enters ERROR directly.
func (m *Machine) Failure(reason string) {
	m.cancelRunningHook()
	m.setState(ERROR, reason)
}

func (m *Machine) cancelRunningHook() {
	m.workMtx.Lock()
	cancel := m.hookCancel
	m.generation++
	m.hookRunning = false
	m.hookCancel = nil
	m.workMtx.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetRunID records the identifier of the run entered via the starting
// hook, surfaced through get_run_id.
func (m *Machine) SetRunID(id string) {
	m.mtx.Lock()
	m.runID = id
	m.mtx.Unlock()
}
