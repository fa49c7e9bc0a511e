/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package command implements the user command registry (C7): callables
// exposed over CSCP alongside the satellite's built-in queries and
// transition commands.
package command

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/constellation-daq/Constellation-sub001/fsm"
	"github.com/constellation-daq/Constellation-sub001/protocol"
)

// Callable is a user command body. args has already been arity-checked
// against the owning Command's Arity before Invoke is called.
type Callable func(args []protocol.Value) (protocol.Value, error)

// Command describes one user-registered callable.
type Command struct {
	Name          string
	Description   string
	AllowedStates map[fsm.State]struct{}
	Arity         int // -1 accepts any number of arguments
	Invoke        Callable
}

// AnyState builds an AllowedStates set that matches every state,
// implemented as a nil map (Registry.Dispatch treats nil as unrestricted).
func AnyState() map[fsm.State]struct{} { return nil }

// States builds an AllowedStates set from the given state list.
func States(states ...fsm.State) map[fsm.State]struct{} {
	set := make(map[fsm.State]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// Registry holds the set of user commands a satellite exposes over CSCP.
type Registry struct {
	mtx      sync.Mutex
	commands map[string]*Command
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds cmd under its lower-cased name, replacing any existing
// command of the same name.
func (r *Registry) Register(cmd Command) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = &cmd
}

// Get returns the command registered under name, case-insensitively.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// Names returns every registered command name, sorted, for get_commands.
func (r *Registry) Names() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Describe returns a human-readable "name: description" line per
// registered command, sorted by name, for a richer get_commands reply.
func (r *Registry) Describe() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	slices.Sort(names)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%s: %s", n, r.commands[n].Description)
	}
	return out
}

// Dispatch looks up name, verifies it is allowed from state, unpacks
// args against the command's declared arity and invokes it.
func (r *Registry) Dispatch(name string, state fsm.State, args []protocol.Value) (protocol.Value, error) {
	cmd, ok := r.Get(name)
	if !ok {
		return protocol.None(), ErrNotFound
	}

	if cmd.AllowedStates != nil {
		if _, allowed := cmd.AllowedStates[state]; !allowed {
			return protocol.None(), ErrWrongState
		}
	}

	if cmd.Arity >= 0 && len(args) != cmd.Arity {
		return protocol.None(), &UserCommandError{
			Msg: fmt.Sprintf("%s expects %d argument(s), got %d", name, cmd.Arity, len(args)),
		}
	}

	var result protocol.Value
	var callErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				callErr = &UserCommandError{Msg: fmt.Sprintf("%v", p)}
			}
		}()
		result, callErr = cmd.Invoke(args)
	}()
	if callErr != nil {
		if _, ok := callErr.(*UserCommandError); ok {
			return protocol.None(), callErr
		}
		return protocol.None(), &UserCommandError{Msg: callErr.Error()}
	}
	return result, nil
}
