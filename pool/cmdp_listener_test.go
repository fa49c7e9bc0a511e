/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-daq/Constellation-sub001/chirp"
)

func TestMultiscribeTopicsTracksGlobalSet(t *testing.T) {
	m := newTestManager(t, "sat3")
	defer m.Close()
	l := NewCMDPListener(m, nil, nil)
	defer l.StopPool()

	l.MultiscribeTopics(nil, []string{"LOG/INFO", "STAT/temp"})
	require.Contains(t, l.global, "LOG/INFO")
	require.Contains(t, l.global, "STAT/temp")

	l.MultiscribeTopics([]string{"LOG/INFO"}, nil)
	require.NotContains(t, l.global, "LOG/INFO")
	require.Contains(t, l.global, "STAT/temp")
}

func TestMultiscribeExtraTopicsSuppressesGlobalOverlap(t *testing.T) {
	m := newTestManager(t, "sat4")
	defer m.Close()
	l := NewCMDPListener(m, nil, nil)
	defer l.StopPool()

	host := chirp.NewMD5Hash("peer9")
	l.MultiscribeTopics(nil, []string{"LOG/INFO"})
	l.MultiscribeExtraTopics(host, nil, []string{"LOG/INFO", "STAT/temp"})

	// LOG/INFO overlaps the global set; it must not be tracked a second
	// time in the extra set logic's socket ops, but bookkeeping still
	// records the host wants it so a later global removal re-subscribes it.
	require.Contains(t, l.extra[host], "LOG/INFO")
	require.Contains(t, l.extra[host], "STAT/temp")

	l.MultiscribeTopics([]string{"LOG/INFO"}, nil)
	// host still wants LOG/INFO as an extra, so removing it from global
	// must not silently drop the host's subscription.
	require.Contains(t, l.extra[host], "LOG/INFO")
}

func TestMultiscribeExtraTopicsRemoveIsNoopWhenAbsent(t *testing.T) {
	m := newTestManager(t, "sat5")
	defer m.Close()
	l := NewCMDPListener(m, nil, nil)
	defer l.StopPool()

	host := chirp.NewMD5Hash("peer10")
	l.MultiscribeExtraTopics(host, []string{"LOG/DEBUG"}, nil)
	require.Empty(t, l.extra[host])
}
