// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/NVIDIA/hpc-controller/cmd/controller/app/options"
	"github.com/NVIDIA/hpc-controller/pkg/controller/accounting"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/job_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/node_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/conf"
	"github.com/NVIDIA/hpc-controller/pkg/controller/identity"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/nodeset"
	"github.com/NVIDIA/hpc-controller/pkg/controller/reservations"
)

const sweepInterval = time.Minute

func Run(opt *options.ServerOption) error {
	log.InitLoggers(opt.Verbosity)
	defer log.InfraLogger.Sync()

	cfg, err := conf.Load(opt.ControllerConf)
	if err != nil {
		return err
	}
	params, err := cfg.Resolve()
	if err != nil {
		return err
	}
	if opt.StateSaveLocation != "" {
		params.StateSaveLocation = opt.StateSaveLocation
	}
	if err := os.MkdirAll(params.StateSaveLocation, 0700); err != nil {
		return errors.Wrap(err, "failed to create state save location")
	}

	inventory, partitions, err := buildCluster(cfg)
	if err != nil {
		return err
	}

	var dirty atomic.Bool
	manager := reservations.NewManager(reservations.Deps{
		Params:       params,
		Inventory:    inventory,
		Partitions:   partitions,
		Jobs:         &job_info.StaticLister{},
		Resolver:     identity.OSResolver{},
		Accounts:     identity.PermissiveAccounts{},
		Sink:         accounting.NewRetryingSink(accounting.LogSink{}),
		ScheduleSave: func() { dirty.Store(true) },
	})

	if err := manager.LoadState(reservations.RecoverFromDisk); err != nil {
		log.InfraLogger.Errorf("Reservation state recovery failed: %v", err)
	}

	stopCh := make(chan struct{})
	go checkpointLoop(manager, &dirty, params.SaveInterval, stopCh)
	go sweepLoop(manager, stopCh)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/get-reservations", func(w http.ResponseWriter, _ *http.Request) {
		if err := json.NewEncoder(w).Encode(manager.Records()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	server := &http.Server{Addr: opt.ListenAddress, Handler: mux}
	go func() {
		log.InfraLogger.Infof("Listening on %s", opt.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.InfraLogger.Errorf("HTTP server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stopCh)
	_ = server.Close()
	if err := manager.DumpState(); err != nil {
		log.InfraLogger.Errorf("Final reservation checkpoint failed: %v", err)
	}
	return nil
}

// checkpointLoop coalesces save hints and writes the state file at most
// once per interval.
func checkpointLoop(manager *reservations.Manager, dirty *atomic.Bool, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if dirty.Swap(false) {
				if err := manager.DumpState(); err != nil {
					// Registry stays authoritative; retry next tick.
					dirty.Store(true)
				}
			}
		}
	}
}

// sweepLoop runs the periodic job-reservation consistency pass.
func sweepLoop(manager *reservations.Manager, stopCh <-chan struct{}) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			manager.SweepJobs()
		}
	}
}

// buildCluster expands the configured node and partition lines into the
// runtime inventory.
func buildCluster(cfg *conf.ControllerConfiguration) (*node_info.Inventory, *partition_info.Partitions, error) {
	var nodes []*node_info.NodeInfo
	for _, line := range cfg.Nodes {
		names, err := nodeset.Expand(line.NodeName)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid nodeName %q", line.NodeName)
		}
		for _, name := range names {
			nodes = append(nodes, &node_info.NodeInfo{
				Name:           name,
				CPUs:           line.CPUs,
				ConfiguredCPUs: line.CPUs,
				Features:       line.Features,
			})
		}
	}
	inventory := node_info.NewInventory(nodes)

	var parts []*partition_info.PartitionInfo
	defaultName := ""
	for _, line := range cfg.Partitions {
		bm := inventory.AllBitmap()
		if line.Nodes != "" && line.Nodes != "ALL" {
			var err error
			bm, err = inventory.NodeName2Bitmap(line.Nodes)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "invalid partition nodes %q", line.Nodes)
			}
		}
		part := &partition_info.PartitionInfo{Name: line.PartitionName, NodeBitmap: bm}
		if line.MaxTime != "" {
			d, err := str2duration.ParseDuration(line.MaxTime)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "invalid partition maxTime %q", line.MaxTime)
			}
			part.MaxTime = d
		}
		parts = append(parts, part)
		if line.Default {
			defaultName = line.PartitionName
		}
	}
	return inventory, partition_info.NewPartitions(parts, defaultName), nil
}
