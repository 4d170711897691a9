// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package conf

// NodeLine declares a batch of nodes sharing one configuration. NodeName
// accepts host list syntax ("n[0-15]").
type NodeLine struct {
	NodeName string   `yaml:"nodeName"`
	CPUs     uint32   `yaml:"cpus"`
	Features []string `yaml:"features"`
}

// PartitionLine declares a partition over a node expression. Nodes may be
// "ALL". MaxTime is a duration string; empty means unlimited.
type PartitionLine struct {
	PartitionName string `yaml:"partitionName"`
	Nodes         string `yaml:"nodes"`
	Default       bool   `yaml:"default"`
	MaxTime       string `yaml:"maxTime"`
}
