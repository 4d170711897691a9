// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package options

import (
	"github.com/spf13/pflag"
)

const (
	defaultListenAddress  = ":8080"
	defaultVerbosityLevel = 3
)

// ServerOption is the main context object for the controller.
type ServerOption struct {
	ControllerConf    string
	StateSaveLocation string
	ListenAddress     string
	Verbosity         int
}

func NewServerOption() *ServerOption {
	return &ServerOption{}
}

// AddFlags adds flags for a specific ServerOption to the specified FlagSet.
func (s *ServerOption) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.ControllerConf, "controller-conf", "",
		"The absolute path of controller configuration file")
	fs.StringVar(&s.StateSaveLocation, "state-save-location", "",
		"Overrides the configured directory for controller state files")
	fs.StringVar(&s.ListenAddress, "listen-address", defaultListenAddress,
		"The address to listen on for HTTP requests")
	fs.IntVar(&s.Verbosity, "v", defaultVerbosityLevel, "Verbosity level")
}
