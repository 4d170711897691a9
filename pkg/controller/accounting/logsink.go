// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"time"

	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
)

// LogSink appends reservation events to the controller log. It stands in
// when no accounting storage connection is configured.
type LogSink struct{}

func (LogSink) AddReservation(rec Record) error {
	log.InfraLogger.Infof(
		"accounting: add reservation cluster=%s id=%d nodes=%s cpus=%d flags=%s start=%s end=%s",
		rec.Cluster, rec.ID, rec.Nodes, rec.CPUs, rec.Flags,
		rec.TimeStart.Format(time.RFC3339), rec.TimeEnd.Format(time.RFC3339))
	return nil
}

func (LogSink) ModifyReservation(rec Record) error {
	log.InfraLogger.Infof(
		"accounting: modify reservation cluster=%s id=%d nodes=%s cpus=%d flags=%s start=%s prev=%s end=%s",
		rec.Cluster, rec.ID, rec.Nodes, rec.CPUs, rec.Flags,
		rec.TimeStart.Format(time.RFC3339), rec.TimeStartPrev.Format(time.RFC3339),
		rec.TimeEnd.Format(time.RFC3339))
	return nil
}

func (LogSink) RemoveReservation(rec Record) error {
	log.InfraLogger.Infof(
		"accounting: remove reservation cluster=%s id=%d prev=%s",
		rec.Cluster, rec.ID, rec.TimeStartPrev.Format(time.RFC3339))
	return nil
}
