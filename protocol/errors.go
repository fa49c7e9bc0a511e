/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package protocol implements wire framing for the four protocols layered
// on the transport socket library: CSCP (control), CMDP (telemetry/logs),
// CHP (heartbeats) and CDTP (data). All four share a common frame-0
// protocol header; framing failures are reported as MessageDecodingError,
// and a protocol-tag mismatch is reported as UnexpectedProtocolError.
package protocol

import "errors"

// MessageDecodingError wraps any failure to parse a physical frame into a
// protocol message. Callers log a WARNING and drop the message.
type MessageDecodingError struct {
	Reason string
}

func (e *MessageDecodingError) Error() string {
	return "protocol: message decoding error: " + e.Reason
}

func decodeErr(reason string) error {
	return &MessageDecodingError{Reason: reason}
}

// UnexpectedProtocolError is raised when a frame-0 header names a protocol
// other than the one the reader expected (e.g. a CMDP header handed to a
// CSCP decoder).
type UnexpectedProtocolError struct {
	Wanted, Got string
}

func (e *UnexpectedProtocolError) Error() string {
	return "protocol: unexpected protocol: wanted " + e.Wanted + ", got " + e.Got
}

var (
	// ErrInvalidPayload reports a CSCP request whose payload is missing or
	// malformed for the verb that was requested.
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)
