/*************************************************************************
 * Copyright 2018 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package version carries the core runtime's version, reported over CSCP
// (get_version) and stamped onto CDTP BOR/EOR frames as the version and
// version_full tags.
package version

import (
	"fmt"
	"io"
	"time"
)

const (
	MajorVersion int = 0
	MinorVersion int = 4
	PatchVersion int = 0
)

var (
	BuildDate time.Time = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// GitRevision is overridden at link time (-ldflags -X) with the build's
	// commit hash; it defaults to "unknown" for unlinked builds and tests.
	GitRevision = "unknown"
)

// Version returns the short semantic version string, e.g. "0.4.0".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PatchVersion)
}

// Full returns the version string extended with the build revision, the
// value stamped onto CDTP BOR/EOR frames as version_full.
func Full() string {
	return fmt.Sprintf("%s+%s", Version(), GitRevision)
}

func PrintVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "Version:\t%s\n", Full())
	fmt.Fprintf(wtr, "BuildDate:\t%s\n", BuildDate.Format(`2006-01-02 15:04:05`))
}
