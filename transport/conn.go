/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package transport implements the length-prefixed multipart framing
// shared by CSCP, CMDP, CHP and CDTP, plus the pub/sub subscription
// control frames that stand in for native broker-side topic filtering.
package transport

import (
	"net"
	"time"
)

// Conn augments net.Conn with deadline helpers expressed as durations
// rather than absolute times, the same shape the teacher wraps around
// net.Conn for its ingest connections.
type Conn interface {
	net.Conn
	SetReadTimeout(time.Duration) error
	SetWriteTimeout(time.Duration) error
	ClearReadTimeout() error
	ClearWriteTimeout() error
}

type timeoutConn struct {
	net.Conn
}

// WrapConn adapts a plain net.Conn to Conn.
func WrapConn(c net.Conn) Conn {
	return timeoutConn{Conn: c}
}

func (c timeoutConn) SetReadTimeout(d time.Duration) error {
	return c.Conn.SetReadDeadline(time.Now().Add(d))
}

func (c timeoutConn) ClearReadTimeout() error {
	return c.Conn.SetReadDeadline(time.Time{})
}

func (c timeoutConn) SetWriteTimeout(d time.Duration) error {
	return c.Conn.SetWriteDeadline(time.Now().Add(d))
}

func (c timeoutConn) ClearWriteTimeout() error {
	return c.Conn.SetWriteDeadline(time.Time{})
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
