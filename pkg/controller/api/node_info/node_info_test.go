// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package node_info

import (
	"errors"
	"fmt"
	"testing"

	"gotest.tools/assert"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
)

func testInventory(count int) *Inventory {
	nodes := make([]*NodeInfo, 0, count)
	for i := 0; i < count; i++ {
		nodes = append(nodes, &NodeInfo{
			Name:           fmt.Sprintf("n%d", i),
			CPUs:           4,
			ConfiguredCPUs: 8,
			Features:       []string{"ib"},
		})
	}
	return NewInventory(nodes)
}

func TestNodeName2Bitmap(t *testing.T) {
	inv := testInventory(8)

	bm, err := inv.NodeName2Bitmap("n[0-3]")
	assert.NilError(t, err)
	assert.Equal(t, bm.Count(), uint(4))
	for i := uint(0); i < 4; i++ {
		assert.Assert(t, bm.Test(i))
	}

	_, err = inv.NodeName2Bitmap("n[0-3],missing9")
	assert.Assert(t, errors.Is(err, common_info.ErrInvalidNodeName))

	_, err = inv.NodeName2Bitmap("n[0-")
	assert.Assert(t, errors.Is(err, common_info.ErrInvalidNodeName))
}

func TestBitmap2NodeNameRoundTrip(t *testing.T) {
	inv := testInventory(8)

	for _, list := range []string{"n[0-3]", "n[0-1,6-7]", "n5"} {
		bm, err := inv.NodeName2Bitmap(list)
		assert.NilError(t, err)
		assert.Equal(t, inv.Bitmap2NodeName(bm), list)
	}
}

func TestAllBitmap(t *testing.T) {
	inv := testInventory(5)
	bm := inv.AllBitmap()
	assert.Equal(t, bm.Count(), uint(5))
}

func TestHasFeature(t *testing.T) {
	node := &NodeInfo{Name: "n0", Features: []string{"ib", "gpu"}}
	assert.Assert(t, node.HasFeature("gpu"))
	assert.Assert(t, !node.HasFeature("bigmem"))
}
