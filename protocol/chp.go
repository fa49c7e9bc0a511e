/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package protocol

import (
	"encoding/binary"
	"time"
)

// CHPStatus flags a heartbeat with an out-of-band note, independent of
// the sender's FSM state: StatusNone in steady operation, StatusBored
// when the sender has nothing better to report, StatusInterrupt to ask
// peers to interrupt. The heartbeat manager never interprets these on
// its own; the FSM layer decides what to do with them.
type CHPStatus uint8

const (
	StatusNone CHPStatus = iota
	StatusBored
	StatusInterrupt
)

// CHPMessage is the heartbeat pub/sub unit. State is carried as a plain
// string (the FSM's canonical state name) rather than a concrete FSM
// type, so this package never imports the fsm package. The heartbeat
// manager also handles the state only as a string; the satellite passes
// it fsm.State.String().
type CHPMessage struct {
	Header   Header
	State    string
	Interval time.Duration
	Status   CHPStatus
}

// Assemble encodes m as Header || u16 state-len || state || u64
// interval-millis || u8 status.
func (m CHPMessage) Assemble() ([]byte, error) {
	m.Header.Protocol = CHP1
	head, err := m.Header.Assemble()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(head)+len(m.State)+11)
	body = append(body, head...)

	stateLen := make([]byte, 2)
	binary.BigEndian.PutUint16(stateLen, uint16(len(m.State)))
	body = append(body, stateLen...)
	body = append(body, []byte(m.State)...)

	interval := make([]byte, 8)
	binary.BigEndian.PutUint64(interval, uint64(m.Interval.Milliseconds()))
	body = append(body, interval...)

	return append(body, byte(m.Status)), nil
}

// DecodeCHP parses a frame produced by Assemble.
func DecodeCHP(raw []byte) (CHPMessage, error) {
	head, rest, err := DecodeHeader(raw)
	if err != nil {
		return CHPMessage{}, err
	}
	if head.Protocol != CHP1 {
		return CHPMessage{}, &UnexpectedProtocolError{Wanted: string(CHP1), Got: string(head.Protocol)}
	}
	if len(rest) < 2 {
		return CHPMessage{}, decodeErr("chp: truncated state length")
	}
	stateLen := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	if len(rest) < int(stateLen)+9 {
		return CHPMessage{}, decodeErr("chp: truncated state/interval/status")
	}
	state := string(rest[:stateLen])
	rest = rest[stateLen:]

	intervalMs := binary.BigEndian.Uint64(rest[:8])
	status := CHPStatus(rest[8])

	return CHPMessage{
		Header:   head,
		State:    state,
		Interval: time.Duration(intervalMs) * time.Millisecond,
		Status:   status,
	}, nil
}
