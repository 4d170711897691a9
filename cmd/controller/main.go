// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/NVIDIA/hpc-controller/cmd/controller/app"
	"github.com/NVIDIA/hpc-controller/cmd/controller/app/options"
)

func main() {
	opt := options.NewServerOption()
	opt.AddFlags(pflag.CommandLine)
	pflag.Parse()

	if err := app.Run(opt); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
