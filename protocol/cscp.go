/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package protocol

import "encoding/binary"

// VerbType classifies a CSCP message. A controller always sends REQUEST;
// a satellite replies with one of the remaining six.
type VerbType uint8

const (
	REQUEST VerbType = iota + 1
	SUCCESS
	NOTIMPLEMENTED
	INCOMPLETE
	INVALID
	UNKNOWN
	ERROR
)

func (v VerbType) Valid() bool {
	return v >= REQUEST && v <= ERROR
}

func (v VerbType) String() string {
	switch v {
	case REQUEST:
		return "REQUEST"
	case SUCCESS:
		return "SUCCESS"
	case NOTIMPLEMENTED:
		return "NOTIMPLEMENTED"
	case INCOMPLETE:
		return "INCOMPLETE"
	case INVALID:
		return "INVALID"
	case UNKNOWN:
		return "UNKNOWN"
	case ERROR:
		return "ERROR"
	}
	return "INVALID_VERB"
}

// CSCPMessage is the synchronous control-plane request/reply unit: a
// protocol header, a verb (type plus a human-readable string, e.g.
// REQUEST "get_state"), and an optional payload gob-encoded as a Value.
type CSCPMessage struct {
	Header  Header
	Verb    VerbType
	Command string
	Payload Value
}

// Assemble encodes m as Header || u8 verb-type || u16 command-len ||
// command || gob(payload).
func (m CSCPMessage) Assemble() ([]byte, error) {
	m.Header.Protocol = CSCP1
	head, err := m.Header.Assemble()
	if err != nil {
		return nil, err
	}
	if !m.Verb.Valid() {
		return nil, decodeErr("cscp: invalid verb type")
	}

	body := make([]byte, 0, len(head)+len(m.Command)+16)
	body = append(body, head...)
	body = append(body, byte(m.Verb))

	cmdLen := make([]byte, 2)
	binary.BigEndian.PutUint16(cmdLen, uint16(len(m.Command)))
	body = append(body, cmdLen...)
	body = append(body, []byte(m.Command)...)

	d := Dictionary{"payload": m.Payload}
	payloadBytes, err := d.Marshal()
	if err != nil {
		return nil, err
	}
	body = append(body, payloadBytes...)
	return body, nil
}

// DecodeCSCP parses a frame produced by Assemble, raising
// UnexpectedProtocolError if frame 0 does not name CSCP1.
func DecodeCSCP(raw []byte) (CSCPMessage, error) {
	head, rest, err := DecodeHeader(raw)
	if err != nil {
		return CSCPMessage{}, err
	}
	if head.Protocol != CSCP1 {
		return CSCPMessage{}, &UnexpectedProtocolError{Wanted: string(CSCP1), Got: string(head.Protocol)}
	}
	if len(rest) < 3 {
		return CSCPMessage{}, decodeErr("cscp: truncated verb/command")
	}
	verb := VerbType(rest[0])
	if !verb.Valid() {
		return CSCPMessage{}, decodeErr("cscp: unknown verb type")
	}
	cmdLen := binary.BigEndian.Uint16(rest[1:3])
	rest = rest[3:]
	if len(rest) < int(cmdLen) {
		return CSCPMessage{}, decodeErr("cscp: truncated command string")
	}
	command := string(rest[:cmdLen])
	rest = rest[cmdLen:]

	var payload Value
	if len(rest) > 0 {
		d, err := UnmarshalDictionary(rest)
		if err != nil {
			return CSCPMessage{}, err
		}
		payload = d["payload"]
	}

	return CSCPMessage{Header: head, Verb: verb, Command: command, Payload: payload}, nil
}
