/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamSocketRoundTrip(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := conn.Receive(time.Second)
		if err != nil {
			return
		}
		conn.Send(append([]byte("echo:"), msg...))
	}()

	client, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte("ping")))
	got, err := client.Receive(time.Second)
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(got))

	<-serverDone
}

func TestStreamSocketReceiveTimeout(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	}()

	client, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Receive(20 * time.Millisecond)
	require.Error(t, err)
}
