// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package job_info

import (
	"math"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
)

type JobID uint32

type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusSuspended
	StatusComplete
	StatusCancelled
	StatusFailed
	StatusTimeout
	StatusNodeFail
)

// TimeLimitInfinite marks a job with no run time bound of its own.
const TimeLimitInfinite = time.Duration(math.MaxInt64)

// JobInfo is the view of a job record consumed by reservation binding and
// the scheduler query path. The job store owns the records; this package
// never mutates anything but the reservation binding fields and priority.
type JobInfo struct {
	ID      JobID
	UserID  uint32
	Account string

	Status   JobStatus
	Priority uint32

	// TimeLimit is nil when the job carries no explicit limit and the
	// partition bound applies.
	TimeLimit *time.Duration
	Partition *partition_info.PartitionInfo

	// ReqNodeBitmap holds nodes the job explicitly requires, if any.
	ReqNodeBitmap *bitset.BitSet

	// ResvName binds the job to a named reservation; the reservation is
	// looked up by this name on every binding check and query. ResvID and
	// ResvFlags are stamped from the reservation once validated, and ResvID
	// is what deletion checks for bound jobs. No pointer to the reservation
	// record is kept on the job.
	ResvName  string
	ResvID    uint32
	ResvFlags resv_info.Flags
}

func (j *JobInfo) IsFinished() bool {
	return j.Status >= StatusComplete
}

// Lister iterates the job store. Implementations must tolerate concurrent
// readers; the reservation sweep holds the controller's writer lock.
type Lister interface {
	Jobs() []*JobInfo
}

// StaticLister is a fixed job list, used by tests and simulations.
type StaticLister struct {
	JobList []*JobInfo
}

func (s *StaticLister) Jobs() []*JobInfo { return s.JobList }
