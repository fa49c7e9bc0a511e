/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package satellite

import "github.com/constellation-daq/Constellation-sub001/protocol"

// dictionaryPayload and parseDictionaryPayload bridge a protocol.Dictionary
// onto the single protocol.Value a CSCPMessage carries: the dictionary is
// gob-encoded and the raw bytes are carried in the Value's string slot,
// which has no encoding requirement beyond being a byte sequence.
func dictionaryPayload(d protocol.Dictionary) (protocol.Value, error) {
	raw, err := d.Marshal()
	if err != nil {
		return protocol.None(), err
	}
	return protocol.String(string(raw)), nil
}

func parseDictionaryPayload(v protocol.Value) (protocol.Dictionary, error) {
	if v.IsNone() {
		return protocol.Dictionary{}, nil
	}
	s, err := v.AsString()
	if err != nil {
		return nil, err
	}
	return protocol.UnmarshalDictionary([]byte(s))
}
