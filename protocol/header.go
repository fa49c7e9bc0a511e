/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Protocol names the four wire protocols sharing this frame-0 header.
type Protocol string

const (
	CSCP1 Protocol = "CSCP1"
	CMDP1 Protocol = "CMDP1"
	CHP1  Protocol = "CHP1"
	CDTP1 Protocol = "CDTP1"
)

func (p Protocol) Valid() bool {
	switch p {
	case CSCP1, CMDP1, CHP1, CDTP1:
		return true
	}
	return false
}

// Header is frame 0 of every CSCP/CMDP/CHP/CDTP message: the protocol
// identifier, the sender's canonical name, a send timestamp and a tag
// dictionary. Encoding mirrors the teacher's entryWriter fixed-header
// style (binary.Write of length-prefixed fields) rather than a generic
// serializer, since the header precedes a protocol-specific payload that
// each decoder frames independently.
type Header struct {
	Protocol Protocol
	Sender   string
	Time     time.Time
	Tags     Dictionary
}

// Assemble encodes h as: u16 protocol-len | protocol | u16 sender-len |
// sender | i64 unix-nanos | u32 tags-len | gob(tags).
func (h Header) Assemble() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeLPString(&buf, string(h.Protocol)); err != nil {
		return nil, err
	}
	if err := writeLPString(&buf, h.Sender); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, h.Time.UnixNano()); err != nil {
		return nil, decodeErr("header: " + err.Error())
	}
	tagBytes, err := h.Tags.Marshal()
	if err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(tagBytes))); err != nil {
		return nil, decodeErr("header: " + err.Error())
	}
	buf.Write(tagBytes)
	return buf.Bytes(), nil
}

// DecodeHeader reads a Header from the front of r, returning the
// remaining unread payload bytes alongside it.
func DecodeHeader(raw []byte) (Header, []byte, error) {
	r := bytes.NewReader(raw)

	proto, err := readLPString(r)
	if err != nil {
		return Header{}, nil, err
	}
	sender, err := readLPString(r)
	if err != nil {
		return Header{}, nil, err
	}
	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return Header{}, nil, decodeErr("header: truncated timestamp")
	}
	var tagLen uint32
	if err := binary.Read(r, binary.BigEndian, &tagLen); err != nil {
		return Header{}, nil, decodeErr("header: truncated tag length")
	}
	tagBytes := make([]byte, tagLen)
	if _, err := io.ReadFull(r, tagBytes); err != nil {
		return Header{}, nil, decodeErr("header: truncated tags")
	}
	var tags Dictionary
	if tagLen > 0 {
		tags, err = UnmarshalDictionary(tagBytes)
		if err != nil {
			return Header{}, nil, err
		}
	}

	p := Protocol(proto)
	if !p.Valid() {
		return Header{}, nil, decodeErr("header: unknown protocol tag " + proto)
	}

	rest := make([]byte, r.Len())
	io.ReadFull(r, rest)

	return Header{
		Protocol: p,
		Sender:   sender,
		Time:     time.Unix(0, nanos).UTC(),
		Tags:     tags,
	}, rest, nil
}

func writeLPString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return decodeErr("header: " + err.Error())
	}
	buf.WriteString(s)
	return nil
}

func readLPString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", decodeErr("header: truncated string length")
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", decodeErr("header: truncated string")
		}
	}
	return string(b), nil
}
