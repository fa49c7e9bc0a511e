/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package protocol

import "strings"

// RunCondition is a bit-flag summarizing a CDTP run's health, carried
// in an EOR frame's tags as both a human-readable name and a numeric
// condition_code. Flags combine by bitwise OR.
type RunCondition uint8

const (
	ConditionGOOD        RunCondition = 0
	ConditionTAINTED     RunCondition = 1 << 0
	ConditionINCOMPLETE  RunCondition = 1 << 1
	ConditionINTERRUPTED RunCondition = 1 << 6
	ConditionABORTED     RunCondition = 1 << 7
)

// String renders the set flags joined by "|", or "GOOD" if none are set.
func (c RunCondition) String() string {
	if c == ConditionGOOD {
		return "GOOD"
	}
	var names []string
	if c&ConditionTAINTED != 0 {
		names = append(names, "TAINTED")
	}
	if c&ConditionINCOMPLETE != 0 {
		names = append(names, "INCOMPLETE")
	}
	if c&ConditionINTERRUPTED != 0 {
		names = append(names, "INTERRUPTED")
	}
	if c&ConditionABORTED != 0 {
		names = append(names, "ABORTED")
	}
	return strings.Join(names, "|")
}
