// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package node_info

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/nodeset"
)

// NodeInfo describes one compute node in the inventory. Index is the
// node's position in the cluster-wide bitmaps and is assigned by the
// inventory.
type NodeInfo struct {
	Name  string
	Index uint

	// CPUs is the observed processor count; ConfiguredCPUs is the count
	// from the node's configuration line. Which one is charged depends on
	// the fastSchedule setting.
	CPUs           uint32
	ConfiguredCPUs uint32

	Features []string
}

func (n *NodeInfo) HasFeature(feature string) bool {
	for _, f := range n.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Inventory is the controller's read-only node table plus the two derived
// cluster state bitmaps. Mutations to Avail/Idle happen under the
// controller's top-level lock.
type Inventory struct {
	nodes  []*NodeInfo
	byName map[string]*NodeInfo

	// Avail marks nodes that are currently reachable, Idle marks nodes
	// with no allocated jobs.
	Avail *bitset.BitSet
	Idle  *bitset.BitSet
}

func NewInventory(nodes []*NodeInfo) *Inventory {
	inv := &Inventory{
		nodes:  nodes,
		byName: make(map[string]*NodeInfo, len(nodes)),
	}
	for i, node := range nodes {
		node.Index = uint(i)
		inv.byName[node.Name] = node
	}
	inv.Avail = inv.AllBitmap()
	inv.Idle = inv.AllBitmap()
	return inv
}

func (inv *Inventory) Count() uint { return uint(len(inv.nodes)) }

func (inv *Inventory) Nodes() []*NodeInfo { return inv.nodes }

func (inv *Inventory) Find(name string) *NodeInfo { return inv.byName[name] }

// AllBitmap returns a fresh bitmap with every node index set.
func (inv *Inventory) AllBitmap() *bitset.BitSet {
	bm := bitset.New(inv.Count())
	for i := uint(0); i < inv.Count(); i++ {
		bm.Set(i)
	}
	return bm
}

// NodeName2Bitmap expands a host list expression against the inventory.
func (inv *Inventory) NodeName2Bitmap(list string) (*bitset.BitSet, error) {
	names, err := nodeset.Expand(list)
	if err != nil {
		return nil, errors.Wrap(common_info.ErrInvalidNodeName, err.Error())
	}
	bm := bitset.New(inv.Count())
	for _, name := range names {
		node := inv.byName[name]
		if node == nil {
			return nil, errors.Wrapf(common_info.ErrInvalidNodeName, "unknown node %q", name)
		}
		bm.Set(node.Index)
	}
	return bm, nil
}

// Bitmap2NodeName renders a node bitmap in canonical host list form.
func (inv *Inventory) Bitmap2NodeName(bm *bitset.BitSet) string {
	var names []string
	for i, ok := bm.NextSet(0); ok; i, ok = bm.NextSet(i + 1) {
		if i >= inv.Count() {
			break
		}
		names = append(names, inv.nodes[i].Name)
	}
	return nodeset.Compress(names)
}
