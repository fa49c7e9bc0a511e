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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFrame(w, []byte("hello")))
	require.NoError(t, WriteFrame(w, []byte{}))
	require.NoError(t, w.Flush())

	r := bufio.NewReader(&buf)
	got, err := ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	got, err = ReadFrame(r)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	r := bufio.NewReader(bytes.NewReader(lenBuf[:]))
	_, err := ReadFrame(r)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameTruncated(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0, 0, 0, 5, 'a', 'b'}))
	_, err := ReadFrame(r)
	require.Error(t, err)
}
