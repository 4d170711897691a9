// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"os"
	"time"

	"github.com/pkg/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v2"
)

// ResvOverRunInfinite is the grace window applied when resvOverRun is
// configured as "infinite".
const ResvOverRunInfinite = 365 * 24 * time.Hour

const (
	defaultClusterName       = "cluster"
	defaultStateSaveLocation = "/var/spool/hpc-controller"
	defaultSaveInterval      = 30 * time.Second
)

// ControllerConfiguration is the YAML-facing configuration document.
type ControllerConfiguration struct {
	ClusterName       string `yaml:"clusterName"`
	StateSaveLocation string `yaml:"stateSaveLocation"`

	// FastSchedule charges a node's configured CPU count instead of the
	// observed one.
	FastSchedule bool `yaml:"fastSchedule"`

	// ResvOverRun is how long a reservation with running jobs may outlive
	// its end time before the sweep flags those jobs. Duration string or
	// "infinite".
	ResvOverRun string `yaml:"resvOverRun"`

	SaveInterval string `yaml:"saveInterval"`

	// Nodes and Partitions describe the cluster this controller manages.
	Nodes      []NodeLine      `yaml:"nodes"`
	Partitions []PartitionLine `yaml:"partitions"`
}

// ControllerParams is the resolved runtime configuration.
type ControllerParams struct {
	ClusterName       string
	StateSaveLocation string
	FastSchedule      bool
	ResvOverRun       time.Duration
	SaveInterval      time.Duration
}

func Load(path string) (*ControllerConfiguration, error) {
	cfg := &ControllerConfiguration{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration %s", path)
	}
	return cfg, nil
}

func (c *ControllerConfiguration) Resolve() (*ControllerParams, error) {
	params := &ControllerParams{
		ClusterName:       c.ClusterName,
		StateSaveLocation: c.StateSaveLocation,
		FastSchedule:      c.FastSchedule,
		SaveInterval:      defaultSaveInterval,
	}
	if params.ClusterName == "" {
		params.ClusterName = defaultClusterName
	}
	if params.StateSaveLocation == "" {
		params.StateSaveLocation = defaultStateSaveLocation
	}
	switch c.ResvOverRun {
	case "", "0":
		params.ResvOverRun = 0
	case "infinite", "INFINITE":
		params.ResvOverRun = ResvOverRunInfinite
	default:
		d, err := str2duration.ParseDuration(c.ResvOverRun)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid resvOverRun %q", c.ResvOverRun)
		}
		params.ResvOverRun = d
	}
	if c.SaveInterval != "" {
		d, err := str2duration.ParseDuration(c.SaveInterval)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid saveInterval %q", c.SaveInterval)
		}
		params.SaveInterval = d
	}
	return params, nil
}
