// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package resv_info

import "strings"

// Flags is the reservation flag bitfield.
type Flags uint16

const (
	FlagMaint Flags = 1 << iota
	FlagDaily
	FlagWeekly
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagMaint, "MAINT"},
	{FlagDaily, "DAILY"},
	{FlagWeekly, "WEEKLY"},
}

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, ",")
}

// FlagsUpdate carries per-bit set and clear masks. Each flag has a paired
// clear ("NO_*") form in the update interface; Clear wins when a bit
// appears in both masks.
type FlagsUpdate struct {
	Set   Flags
	Clear Flags
}

// Apply returns the flag word with the update's set bits raised and clear
// bits dropped.
func (f Flags) Apply(u FlagsUpdate) Flags {
	return (f | u.Set) &^ u.Clear
}
