/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config implements Configuration, the case-folded key/value
// container ferried from controller to satellite over CSCP and
// consumed by the FSM's transitional hooks.
package config

import "fmt"

// MissingKeyError is raised by get<T> when the key is absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("config: missing key %q", e.Key)
}

// InvalidTypeError is raised by get<T> when the stored Value's kind
// does not match the requested type.
type InvalidTypeError struct {
	Key    string
	Wanted string
	Got    string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("config: key %q has type %s, wanted %s", e.Key, e.Got, e.Wanted)
}

// InvalidValueError is raised by GetPath when the path cannot be made
// absolute or, with checkExists set, does not exist or cannot be
// canonicalized.
type InvalidValueError struct {
	Key    string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("config: key %q has invalid value: %s", e.Key, e.Reason)
}
