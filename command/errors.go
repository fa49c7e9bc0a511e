/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package command

import "errors"

// ErrNotFound is returned by Dispatch when no command by that name is
// registered. Callers fall back to an UNKNOWN CSCP reply.
var ErrNotFound = errors.New("command: not found")

// ErrWrongState is returned when a registered command exists but is not
// allowed in the satellite's current FSM state.
var ErrWrongState = errors.New("command: not allowed in current state")

// UserCommandError wraps an arity/type mismatch during argument
// unpacking, or an error raised by the callable itself. Both map to an
// INCOMPLETE CSCP reply carrying the message.
type UserCommandError struct {
	Msg string
}

func (e *UserCommandError) Error() string { return e.Msg }
