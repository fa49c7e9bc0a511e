/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transport

import (
	"net"
	"strings"
	"sync"
	"time"
)

// controlKind tags the first byte of every frame exchanged on a
// pub/sub connection, standing in for the subscription filtering a
// message broker would otherwise provide natively.
type controlKind byte

const (
	ctrlSubscribe   controlKind = 1
	ctrlUnsubscribe controlKind = 2
	ctrlPublish     controlKind = 3
)

// Publisher accepts subscriber connections and fans out published
// messages to whichever subscribers have a matching topic filter.
// Topic matching is prefix-based: a subscription to "LOG/" matches any
// published topic beginning with "LOG/", mirroring CMDP's hierarchical
// topic grammar.
type Publisher struct {
	ln net.Listener

	mtx  sync.Mutex
	subs map[*publisherConn]struct{}
}

type publisherConn struct {
	sock *StreamSocket

	mtx    sync.Mutex
	topics map[string]struct{}
}

func (c *publisherConn) matches(topic string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for t := range c.topics {
		if strings.HasPrefix(topic, t) {
			return true
		}
	}
	return false
}

// NewPublisher binds addr; it does not accept subscriber connections
// itself. Call Serve to run the accept loop; Close stops it.
func NewPublisher(network, addr string) (*Publisher, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{ln: ln, subs: make(map[*publisherConn]struct{})}, nil
}

func (p *Publisher) Addr() net.Addr { return p.ln.Addr() }

// Serve runs the accept loop until Close is called. Intended to run in
// its own goroutine, joined through an errgroup by the caller.
func (p *Publisher) Serve() error {
	for {
		c, err := p.ln.Accept()
		if err != nil {
			return err
		}
		pc := &publisherConn{sock: NewStreamSocket(c), topics: make(map[string]struct{})}
		p.mtx.Lock()
		p.subs[pc] = struct{}{}
		p.mtx.Unlock()
		go p.serviceSubscriber(pc)
	}
}

func (p *Publisher) serviceSubscriber(pc *publisherConn) {
	defer func() {
		p.mtx.Lock()
		delete(p.subs, pc)
		p.mtx.Unlock()
		pc.sock.Close()
	}()
	for {
		raw, err := pc.sock.Receive(0)
		if err != nil {
			return
		}
		if len(raw) < 1 {
			continue
		}
		topic := string(raw[1:])
		switch controlKind(raw[0]) {
		case ctrlSubscribe:
			pc.mtx.Lock()
			pc.topics[topic] = struct{}{}
			pc.mtx.Unlock()
		case ctrlUnsubscribe:
			pc.mtx.Lock()
			delete(pc.topics, topic)
			pc.mtx.Unlock()
		}
	}
}

// Publish sends payload, tagged with topic, to every subscriber whose
// filter set matches. Send failures to an individual subscriber are
// silently dropped; a dead subscriber is reaped by its own service
// loop when the connection errors out.
func (p *Publisher) Publish(topic string, payload []byte) {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, byte(ctrlPublish))
	frame = append(frame, payload...)

	p.mtx.Lock()
	targets := make([]*publisherConn, 0, len(p.subs))
	for pc := range p.subs {
		if pc.matches(topic) {
			targets = append(targets, pc)
		}
	}
	p.mtx.Unlock()

	for _, pc := range targets {
		pc.sock.Send(frame)
	}
}

func (p *Publisher) SubscriberCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.subs)
}

func (p *Publisher) Close() error {
	return p.ln.Close()
}

// Subscriber connects to a single Publisher and receives messages for
// whichever topics it has subscribed to.
type Subscriber struct {
	sock *StreamSocket
}

func Subscribe(network, addr string) (*Subscriber, error) {
	sock, err := Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return &Subscriber{sock: sock}, nil
}

func (s *Subscriber) SubscribeTopic(topic string) error {
	return s.sock.Send(append([]byte{byte(ctrlSubscribe)}, []byte(topic)...))
}

func (s *Subscriber) UnsubscribeTopic(topic string) error {
	return s.sock.Send(append([]byte{byte(ctrlUnsubscribe)}, []byte(topic)...))
}

// Receive blocks for the next published message matching an active
// subscription. timeout <= 0 blocks indefinitely.
func (s *Subscriber) Receive(timeout time.Duration) ([]byte, error) {
	for {
		raw, err := s.sock.Receive(timeout)
		if err != nil {
			return nil, err
		}
		if len(raw) < 1 || controlKind(raw[0]) != ctrlPublish {
			continue
		}
		return raw[1:], nil
	}
}

func (s *Subscriber) Close() error { return s.sock.Close() }
