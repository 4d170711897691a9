// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

// Package accounting feeds reservation lifecycle events to the accounting
// storage sink. The sink is eventually consistent: notifications are issued
// after the in-memory change is visible and a sink failure never rolls the
// registry back.
package accounting

import (
	"time"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
)

// Record is the event payload for reservation add/modify/remove rows.
type Record struct {
	Cluster       string
	ID            uint32
	TimeStart     time.Time
	TimeEnd       time.Time
	TimeStartPrev time.Time
	CPUs          uint32
	Flags         resv_info.Flags
	Nodes         string
}

type Sink interface {
	AddReservation(rec Record) error
	ModifyReservation(rec Record) error
	RemoveReservation(rec Record) error
}

// NopSink discards all events; used when no accounting storage is
// configured.
type NopSink struct{}

func (NopSink) AddReservation(Record) error    { return nil }
func (NopSink) ModifyReservation(Record) error { return nil }
func (NopSink) RemoveReservation(Record) error { return nil }
