// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
)

// resize adjusts the record's node set to the target count. Shrinking
// drops currently idle nodes first, then the remainder by lowest index;
// nodes never leave the set unless they were in it. Growing runs node
// selection over the reservation's own window, features and partition and
// unions the result in. Caller holds the lock.
func (m *Manager) resize(r *resv_info.ReservationInfo, nodeCnt uint32) error {
	cur := uint32(r.NodeBitmap.Count())
	if cur == nodeCnt {
		return nil
	}

	if cur > nodeCnt {
		delta := cur - nodeCnt
		idleHeld := r.NodeBitmap.Intersection(m.deps.Inventory.Idle)
		idleCnt := uint32(idleHeld.Count())
		switch {
		case idleCnt > delta:
			r.NodeBitmap.InPlaceDifference(pickCnt(idleHeld, delta))
			delta = 0
		case idleCnt > 0:
			r.NodeBitmap.InPlaceDifference(idleHeld)
			delta -= idleCnt
		}
		if delta > 0 {
			// Drop the lowest-index remainder.
			r.NodeBitmap.InPlaceDifference(pickCnt(r.NodeBitmap, delta))
		}
	} else {
		picked, _, err := m.selectNodes(
			r.StartTime, r.EndTime, r.Features, nodeCnt-cur, r.PartPtr, "")
		if err != nil {
			return err
		}
		r.NodeBitmap.InPlaceUnion(picked)
	}

	r.NodeList = m.deps.Inventory.Bitmap2NodeName(r.NodeBitmap)
	r.NodeCnt = nodeCnt
	return nil
}
