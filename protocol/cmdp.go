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
	"strings"
)

// LogLevel mirrors the CMDP LOG/<LEVEL> topic ladder. OFF is reserved
// for subscription filters (subscribe to nothing) and never appears as
// a published message's level.
type LogLevel uint8

const (
	LevelOFF LogLevel = iota
	LevelCRITICAL
	LevelSTATUS
	LevelWARNING
	LevelINFO
	LevelDEBUG
	LevelTRACE
)

func (l LogLevel) String() string {
	switch l {
	case LevelOFF:
		return "OFF"
	case LevelCRITICAL:
		return "CRITICAL"
	case LevelSTATUS:
		return "STATUS"
	case LevelWARNING:
		return "WARNING"
	case LevelINFO:
		return "INFO"
	case LevelDEBUG:
		return "DEBUG"
	case LevelTRACE:
		return "TRACE"
	}
	return "UNKNOWN"
}

// LogTopic builds the "LOG/<LEVEL>" or "LOG/<LEVEL>/<subtopic>" topic
// string for a given level.
func LogTopic(level LogLevel, subtopic string) string {
	t := "LOG/" + level.String()
	if subtopic != "" {
		t += "/" + subtopic
	}
	return t
}

// StatTopic builds the "STAT/<metric>" topic string.
func StatTopic(metric string) string {
	return "STAT/" + metric
}

const (
	LogNotificationTopic  = "LOG?"
	StatNotificationTopic = "STAT?"
)

// IsLogTopic reports whether topic names a LOG/<LEVEL>[/subtopic] stream.
func IsLogTopic(topic string) bool {
	return strings.HasPrefix(topic, "LOG/")
}

// IsStatTopic reports whether topic names a STAT/<metric> stream.
func IsStatTopic(topic string) bool {
	return strings.HasPrefix(topic, "STAT/")
}

// CMDPMessage is the pub/sub telemetry/log unit: a protocol header, a
// topic string, and an opaque payload. Log messages carry their text in
// the payload as a String Value; stat messages carry a metric Value
// plus a free-form descriptor tag in Header.Tags["unit"]/["description"].
type CMDPMessage struct {
	Header  Header
	Topic   string
	Payload Value
}

// Assemble encodes m as Header || u16 topic-len || topic || gob(payload).
func (m CMDPMessage) Assemble() ([]byte, error) {
	m.Header.Protocol = CMDP1
	head, err := m.Header.Assemble()
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(head)+len(m.Topic)+8)
	body = append(body, head...)

	topicLen := make([]byte, 2)
	binary.BigEndian.PutUint16(topicLen, uint16(len(m.Topic)))
	body = append(body, topicLen...)
	body = append(body, []byte(m.Topic)...)

	d := Dictionary{"payload": m.Payload}
	payloadBytes, err := d.Marshal()
	if err != nil {
		return nil, err
	}
	return append(body, payloadBytes...), nil
}

// DecodeCMDP parses a frame produced by Assemble.
func DecodeCMDP(raw []byte) (CMDPMessage, error) {
	head, rest, err := DecodeHeader(raw)
	if err != nil {
		return CMDPMessage{}, err
	}
	if head.Protocol != CMDP1 {
		return CMDPMessage{}, &UnexpectedProtocolError{Wanted: string(CMDP1), Got: string(head.Protocol)}
	}
	if len(rest) < 2 {
		return CMDPMessage{}, decodeErr("cmdp: truncated topic length")
	}
	topicLen := binary.BigEndian.Uint16(rest[:2])
	rest = rest[2:]
	if len(rest) < int(topicLen) {
		return CMDPMessage{}, decodeErr("cmdp: truncated topic")
	}
	topic := string(rest[:topicLen])
	rest = rest[topicLen:]

	var payload Value
	if len(rest) > 0 {
		d, err := UnmarshalDictionary(rest)
		if err != nil {
			return CMDPMessage{}, err
		}
		payload = d["payload"]
	}

	return CMDPMessage{Header: head, Topic: topic, Payload: payload}, nil
}
