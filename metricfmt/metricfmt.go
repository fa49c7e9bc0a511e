/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package metricfmt renders STAT/<metric> values as human-readable
// strings, for metrics whose descriptor marks them as a byte count,
// byte rate or plain count.
package metricfmt

import (
	"fmt"
	"time"
)

const (
	KB       uint64  = 1024
	MB       uint64  = 1024 * KB
	GB       uint64  = 1024 * MB
	TB       uint64  = 1024 * GB
	PB       uint64  = 1024 * TB
	YB       uint64  = 1024 * PB
	K                = 1000.0
	M                = K * 1000.0
	G                = M * 1000.0
	T                = G * 1000.0
	P                = T * 1000.0
	Y                = P * 1000.0
	nsPerSec float64 = 1000000000.0
)

// HumanSize renders a byte count at the largest unit that keeps the
// value at or above 1, e.g. HumanSize(1536) is "1.50 KB". A count exactly
// on a unit boundary stays in the smaller unit: HumanSize(MB) is
// "1024.00 KB".
func HumanSize(b uint64) string {
	switch {
	case b < KB:
		return fmt.Sprintf("%d B", b)
	case b <= MB:
		return fmt.Sprintf("%.02f KB", float64(b)/float64(KB))
	case b <= GB:
		return fmt.Sprintf("%.02f MB", float64(b)/float64(MB))
	case b <= TB:
		return fmt.Sprintf("%.02f GB", float64(b)/float64(GB))
	case b <= PB:
		return fmt.Sprintf("%.02f TB", float64(b)/float64(TB))
	case b <= YB:
		return fmt.Sprintf("%.02f PB", float64(b)/float64(PB))
	}
	return fmt.Sprintf("%.02f YB", float64(b)/float64(YB))
}

// HumanRate renders a byte count accrued over dur as a per-second rate,
// e.g. Megabytes/s (MB/s).
func HumanRate(b uint64, dur time.Duration) string {
	v := float64(b) / (float64(dur.Nanoseconds()) / nsPerSec)
	switch {
	case uint64(v) < KB:
		return fmt.Sprintf("%.02f Bps", v)
	case uint64(v) <= MB:
		return fmt.Sprintf("%.02f KB/s", v/float64(KB))
	case uint64(v) <= GB:
		return fmt.Sprintf("%.02f MB/s", v/float64(MB))
	case uint64(v) <= TB:
		return fmt.Sprintf("%.02f GB/s", v/float64(GB))
	case uint64(v) <= PB:
		return fmt.Sprintf("%.02f PB/s", v/float64(PB))
	}
	return fmt.Sprintf("%.02f YB/s", v/float64(YB))
}

// HumanCount renders a plain count at the largest SI scale that keeps
// the value at or above 1, e.g. HumanCount(12500) is "12.50 K". A count
// exactly on a scale boundary stays in the smaller scale:
// HumanCount(1000000) is "1000.00 K".
func HumanCount(n uint64) string {
	v := float64(n)
	switch {
	case v < K:
		return fmt.Sprintf("%.02f", v)
	case v <= M:
		return fmt.Sprintf("%.02f K", v/K)
	case v <= G:
		return fmt.Sprintf("%.02f M", v/M)
	case v <= T:
		return fmt.Sprintf("%.02f B", v/G)
	case v <= P:
		return fmt.Sprintf("%.02f T", v/T)
	case v <= Y:
		return fmt.Sprintf("%.02f Q", v/P)
	}
	return fmt.Sprintf("%.02f Y", v/Y)
}
