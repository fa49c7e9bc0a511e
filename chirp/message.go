/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package chirp

import (
	"encoding/binary"
)

// MessageDecodingError wraps any failure to parse a CHIRP datagram. Callers
// discard the offending datagram and keep listening.
type MessageDecodingError struct {
	Reason string
}

func (e *MessageDecodingError) Error() string {
	return "chirp: message decoding error: " + e.Reason
}

func decodeErr(reason string) error {
	return &MessageDecodingError{Reason: reason}
}

// ServiceIdentifier is the closed enumeration of services a satellite may
// advertise over CHIRP.
type ServiceIdentifier uint8

const (
	CONTROL    ServiceIdentifier = 1
	HEARTBEAT  ServiceIdentifier = 2
	MONITORING ServiceIdentifier = 3
	DATA       ServiceIdentifier = 4
)

func (s ServiceIdentifier) Valid() bool {
	switch s {
	case CONTROL, HEARTBEAT, MONITORING, DATA:
		return true
	}
	return false
}

func (s ServiceIdentifier) String() string {
	switch s {
	case CONTROL:
		return "CONTROL"
	case HEARTBEAT:
		return "HEARTBEAT"
	case MONITORING:
		return "MONITORING"
	case DATA:
		return "DATA"
	}
	return "UNKNOWN"
}

// MessageType is the CHIRP datagram's request/offer/depart discriminator.
type MessageType uint8

const (
	REQUEST MessageType = 1
	OFFER   MessageType = 2
	DEPART  MessageType = 3
)

func (t MessageType) Valid() bool {
	switch t {
	case REQUEST, OFFER, DEPART:
		return true
	}
	return false
}

func (t MessageType) String() string {
	switch t {
	case REQUEST:
		return "REQUEST"
	case OFFER:
		return "OFFER"
	case DEPART:
		return "DEPART"
	}
	return "UNKNOWN"
}

const (
	protocolTag     = "CHIRP"
	protocolVersion = 1

	// MessageLen is the fixed, exact wire length of a CHIRP datagram.
	MessageLen = len(protocolTag) + 1 + 1 + 16 + 16 + 1 + 2
)

// Message is the in-memory representation of a CHIRP datagram:
// 'CHIRP' | version | type | group_id:16 | host_id:16 | service_id | port_be.
type Message struct {
	Type    MessageType
	GroupID MD5Hash
	HostID  MD5Hash
	Service ServiceIdentifier
	Port    uint16
}

// Assemble renders m into the fixed 42-byte CHIRP wire format.
func (m Message) Assemble() []byte {
	buf := make([]byte, MessageLen)
	n := copy(buf, protocolTag)
	buf[n] = protocolVersion
	n++
	buf[n] = byte(m.Type)
	n++
	n += copy(buf[n:], m.GroupID[:])
	n += copy(buf[n:], m.HostID[:])
	buf[n] = byte(m.Service)
	n++
	binary.BigEndian.PutUint16(buf[n:], m.Port)
	return buf
}

// Disassemble parses a raw datagram into a Message. Any structural failure
// (wrong length, bad magic, unknown version/type/service) yields a
// MessageDecodingError.
func Disassemble(raw []byte) (m Message, err error) {
	if len(raw) != MessageLen {
		err = decodeErr("invalid length")
		return
	}
	if string(raw[0:len(protocolTag)]) != protocolTag {
		err = decodeErr("bad magic")
		return
	}
	off := len(protocolTag)
	if raw[off] != protocolVersion {
		err = decodeErr("unsupported version")
		return
	}
	off++
	mt := MessageType(raw[off])
	if !mt.Valid() {
		err = decodeErr("unknown message type")
		return
	}
	off++
	copy(m.GroupID[:], raw[off:off+16])
	off += 16
	copy(m.HostID[:], raw[off:off+16])
	off += 16
	sid := ServiceIdentifier(raw[off])
	if !sid.Valid() {
		err = decodeErr("unknown service identifier")
		return
	}
	off++
	port := binary.BigEndian.Uint16(raw[off : off+2])

	m.Type = mt
	m.Service = sid
	m.Port = port
	return
}
