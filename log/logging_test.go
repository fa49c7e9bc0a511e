/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestLevelFromString(t *testing.T) {
	for _, name := range []string{"OFF", "CRITICAL", "STATUS", "WARNING", "INFO", "DEBUG", "TRACE", "info"} {
		lvl, err := LevelFromString(name)
		require.NoError(t, err)
		require.True(t, lvl.Valid())
	}
	_, err := LevelFromString("NOPE")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestLoggerLevelGating(t *testing.T) {
	buf := &nopCloser{&bytes.Buffer{}}
	l := New(buf)
	require.NoError(t, l.SetLevel(WARNING))

	require.NoError(t, l.Info("should be dropped"))
	require.Zero(t, buf.Len())

	require.NoError(t, l.Warning("should be written"))
	require.NotZero(t, buf.Len())
}

type relayFunc func(lvl Level, ts time.Time, line string) error

func (f relayFunc) WriteLog(lvl Level, ts time.Time, line string) error {
	return f(lvl, ts, line)
}

func TestLoggerRelay(t *testing.T) {
	buf := &nopCloser{&bytes.Buffer{}}
	l := New(buf)

	var got []string
	relay := relayFunc(func(lvl Level, ts time.Time, line string) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, l.AddRelay(relay))
	require.NoError(t, l.Critical("boom"))
	require.Len(t, got, 1)

	require.NoError(t, l.DeleteRelay(relay))
	require.NoError(t, l.Critical("boom again"))
	require.Len(t, got, 1)
}
