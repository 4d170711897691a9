// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
)

// selectNodes picks nodeCnt nodes for the window [start, end) from the
// partition (or the default partition), skipping nodes held by any
// reservation whose window intersects, honoring the feature predicate and
// preferring idle nodes. Returns the chosen bitmap and the partition that
// was used. Caller holds the lock.
func (m *Manager) selectNodes(
	start, end time.Time,
	features string,
	nodeCnt uint32,
	part *partition_info.PartitionInfo,
	skip string,
) (*bitset.BitSet, *partition_info.PartitionInfo, error) {
	if part == nil {
		part = m.deps.Partitions.Default
		if part == nil {
			return nil, nil, common_info.ErrDefaultPartitionNotSet
		}
	}

	// Start with the partition's nodes and drop everything reserved over
	// an intersecting window.
	avail := part.NodeBitmap.Clone()
	for _, other := range m.reservations {
		if skip != "" && other.Name == skip {
			continue
		}
		if other.NodeBitmap == nil || !other.OverlapsWindow(start, end) {
			continue
		}
		avail.InPlaceDifference(other.NodeBitmap)
	}

	// The feature is a single name matched by exact equality against each
	// node's feature list; it is not parsed as a compound expression.
	if features != "" {
		for _, node := range m.deps.Inventory.Nodes() {
			if avail.Test(node.Index) && !node.HasFeature(features) {
				avail.Clear(node.Index)
			}
		}
	}

	// Nodes must be up.
	avail.InPlaceIntersection(m.deps.Inventory.Avail)

	if uint32(avail.Count()) < nodeCnt {
		log.InfraLogger.V(4).Infof(
			"Reservation requests %d nodes, only %d available", nodeCnt, avail.Count())
		return nil, nil, common_info.ErrTooManyRequestedNodes
	}

	idle := avail.Intersection(m.deps.Inventory.Idle)
	if uint32(idle.Count()) >= nodeCnt {
		// Enough idle nodes to cover the request.
		return pickCnt(idle, nodeCnt), part, nil
	}

	// Take every idle node and fill the remainder from busy ones.
	chosen := idle.Clone()
	remainder := nodeCnt - uint32(idle.Count())
	busy := avail.Difference(m.deps.Inventory.Idle)
	chosen.InPlaceUnion(pickCnt(busy, remainder))
	return chosen, part, nil
}

// pickCnt keeps the n lowest set indices of bm, returned as a new bitmap.
func pickCnt(bm *bitset.BitSet, n uint32) *bitset.BitSet {
	picked := bitset.New(bm.Len())
	taken := uint32(0)
	for i, ok := bm.NextSet(0); ok && taken < n; i, ok = bm.NextSet(i + 1) {
		picked.Set(i)
		taken++
	}
	return picked
}
