/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package metricfmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHumanSize(t *testing.T) {
	require.Equal(t, "512 B", HumanSize(512))
	require.Equal(t, "1.50 KB", HumanSize(1536))
	require.Equal(t, "1024.00 KB", HumanSize(MB))
}

func TestHumanRate(t *testing.T) {
	require.Equal(t, "1.00 KB/s", HumanRate(KB, time.Second))
	require.Equal(t, "500.00 Bps", HumanRate(500, time.Second))
}

func TestHumanCount(t *testing.T) {
	require.Equal(t, "12.50 K", HumanCount(12500))
	require.Equal(t, "3.00 M", HumanCount(3*uint64(M)))
}
