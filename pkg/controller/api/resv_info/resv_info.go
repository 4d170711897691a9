// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package resv_info

import (
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
)

const resvMagic uint16 = 0x52e5

// TimeInfinite marks a reservation with no end time.
var TimeInfinite = time.Unix(1<<32-1, 0)

// ReservationInfo is an authoritative claim on a set of nodes over a time
// window, usable by an enumerated set of users and accounts.
type ReservationInfo struct {
	magic uint16

	Name string
	ID   uint32

	StartTime time.Time
	EndTime   time.Time
	// StartTimePrev is the last previously advertised start time; the
	// accounting sink keys prior rows on it.
	StartTimePrev time.Time

	Flags Flags

	Partition string
	PartPtr   *partition_info.PartitionInfo

	Features string

	NodeList   string
	NodeBitmap *bitset.BitSet
	NodeCnt    uint32
	CPUCnt     uint32

	Accounts    string
	AccountList []string

	Users     string
	UserNames []string
	UserList  []uint32

	// JobCnt is rebuilt by each job-reservation sweep.
	JobCnt int
}

func New() *ReservationInfo {
	return &ReservationInfo{magic: resvMagic}
}

// AssertValid catches use of a freed or corrupted record.
func (r *ReservationInfo) AssertValid() {
	if r.magic != resvMagic {
		panic(fmt.Sprintf("reservation record %q: bad magic %#x", r.Name, r.magic))
	}
}

// Invalidate poisons the structural marker when the record leaves the
// registry.
func (r *ReservationInfo) Invalidate() {
	r.magic = 0
}

// AccountCnt and UserCnt derive from the parsed lists, which are the
// source of truth for the canonical strings.
func (r *ReservationInfo) AccountCnt() int { return len(r.AccountList) }
func (r *ReservationInfo) UserCnt() int    { return len(r.UserList) }

// OverlapsWindow reports half-open interval intersection with [start, end).
func (r *ReservationInfo) OverlapsWindow(start, end time.Time) bool {
	return r.StartTime.Before(end) && r.EndTime.After(start)
}

// HasUser reports whether the uid is enumerated on the reservation.
func (r *ReservationInfo) HasUser(uid uint32) bool {
	for _, u := range r.UserList {
		if u == uid {
			return true
		}
	}
	return false
}

// HasAccount reports whether the account is enumerated on the reservation.
func (r *ReservationInfo) HasAccount(account string) bool {
	if account == "" {
		return false
	}
	for _, a := range r.AccountList {
		if a == account {
			return true
		}
	}
	return false
}

// Clone deep-copies the record; used for shadow copies during transactional
// updates and for listing snapshots.
func (r *ReservationInfo) Clone() *ReservationInfo {
	clone := *r
	if r.NodeBitmap != nil {
		clone.NodeBitmap = r.NodeBitmap.Clone()
	}
	clone.AccountList = append([]string(nil), r.AccountList...)
	clone.UserNames = append([]string(nil), r.UserNames...)
	clone.UserList = append([]uint32(nil), r.UserList...)
	return &clone
}
