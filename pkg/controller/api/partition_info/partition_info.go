// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package partition_info

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// PartitionInfo is an administrator-defined sub-pool of the cluster.
type PartitionInfo struct {
	Name       string
	NodeBitmap *bitset.BitSet

	// MaxTime bounds job run time within the partition; zero means
	// unlimited.
	MaxTime time.Duration
}

// Partitions is the partition catalog. The default partition, when set,
// backs node selection requests that name no partition.
type Partitions struct {
	byName  map[string]*PartitionInfo
	Default *PartitionInfo
}

func NewPartitions(parts []*PartitionInfo, defaultName string) *Partitions {
	p := &Partitions{byName: make(map[string]*PartitionInfo, len(parts))}
	for _, part := range parts {
		p.byName[part.Name] = part
	}
	if defaultName != "" {
		p.Default = p.byName[defaultName]
	}
	return p
}

func (p *Partitions) Find(name string) *PartitionInfo {
	return p.byName[name]
}
