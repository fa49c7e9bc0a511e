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
	"encoding/gob"
)

// Dictionary is the tag map carried in frame 0 of every protocol message.
// It gob-encodes to the wire, the same serialization the teacher reaches
// for to persist its own internal cache state (ingest/muxer.go).
type Dictionary map[string]Value

// Clone returns a shallow copy safe to mutate independently of d.
func (d Dictionary) Clone() Dictionary {
	if d == nil {
		return nil
	}
	out := make(Dictionary, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge overlays other atop d, returning a new Dictionary. Keys in other
// take precedence.
func (d Dictionary) Merge(other Dictionary) Dictionary {
	out := d.Clone()
	if out == nil {
		out = make(Dictionary, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Marshal gob-encodes the dictionary for transmission as a wire frame.
func (d Dictionary) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, decodeErr("dictionary: " + err.Error())
	}
	return buf.Bytes(), nil
}

// UnmarshalDictionary decodes a frame previously produced by Marshal.
func UnmarshalDictionary(raw []byte) (Dictionary, error) {
	var d Dictionary
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&d); err != nil {
		return nil, decodeErr("dictionary: " + err.Error())
	}
	return d, nil
}
