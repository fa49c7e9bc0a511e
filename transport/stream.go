/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transport

import (
	"bufio"
	"net"
	"sync"
	"time"
)

const defaultBufferSize = 64 * 1024

// StreamSocket is a single point-to-point connection carrying one
// length-prefixed protocol frame per logical message. CSCP rides one
// StreamSocket per request/reply exchange; CDTP rides one per run.
type StreamSocket struct {
	conn Conn
	mtx  sync.Mutex
	w    *bufio.Writer
	r    *bufio.Reader
}

// NewStreamSocket wraps an already-connected net.Conn.
func NewStreamSocket(c net.Conn) *StreamSocket {
	wc := WrapConn(c)
	return &StreamSocket{
		conn: wc,
		w:    bufio.NewWriterSize(wc, defaultBufferSize),
		r:    bufio.NewReaderSize(wc, defaultBufferSize),
	}
}

// Dial opens a new StreamSocket to addr.
func Dial(network, addr string) (*StreamSocket, error) {
	c, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return NewStreamSocket(c), nil
}

// Send writes one frame and flushes it onto the wire.
func (s *StreamSocket) Send(b []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := WriteFrame(s.w, b); err != nil {
		return err
	}
	return s.w.Flush()
}

// Receive blocks until one frame arrives or timeout elapses. timeout <=
// 0 means block indefinitely.
func (s *StreamSocket) Receive(timeout time.Duration) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if timeout > 0 {
		if err := s.conn.SetReadTimeout(timeout); err != nil {
			return nil, err
		}
		defer s.conn.ClearReadTimeout()
	}
	return ReadFrame(s.r)
}

func (s *StreamSocket) Close() error {
	return s.conn.Close()
}

func (s *StreamSocket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *StreamSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Listener accepts incoming StreamSockets, one per connection, the way
// the CSCP and CDTP transports expose a bound port advertised via
// CHIRP.
type Listener struct {
	ln net.Listener
}

func Listen(network, addr string) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Accept() (*StreamSocket, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewStreamSocket(c), nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }
