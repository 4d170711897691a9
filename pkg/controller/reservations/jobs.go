// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/job_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/metrics"
)

// maxDeferRetries bounds how often an unbound job's start is pushed past a
// blocking reservation before the query gives up.
const maxDeferRetries = 10

// durationInfinite is the effective run time used when neither the job nor
// its partition bounds it.
const durationInfinite = 365 * 24 * time.Hour

// checkAccess verifies the job's uid or account is enumerated on the
// reservation. Denials are security events.
func (m *Manager) checkAccess(job *job_info.JobInfo, r *resv_info.ReservationInfo) error {
	if r.HasUser(job.UserID) || r.HasAccount(job.Account) {
		return nil
	}
	log.InfraLogger.Infof(
		"Security violation, uid=%d attempt to use reservation %s", job.UserID, r.Name)
	metrics.CountAccessDenied()
	return common_info.ErrReservationAccess
}

// ValidateJobResv checks a job's access to its named reservation and
// stamps the binding id and flags. An empty reservation name clears them.
func (m *Manager) ValidateJobResv(job *job_info.JobInfo) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job.ResvName == "" {
		job.ResvID = 0
		job.ResvFlags = 0
		return nil
	}

	r := m.find(job.ResvName)
	if r == nil {
		log.InfraLogger.Infof("Reservation name not found (%s)", job.ResvName)
		return common_info.ErrReservationInvalid
	}
	if err := m.checkAccess(job, r); err != nil {
		return err
	}
	job.ResvID = r.ID
	job.ResvFlags = r.Flags
	return nil
}

// JobTestResv computes the nodes the job may use at the requested time.
// For a job bound to a reservation it returns the reservation's nodes, or
// defers the start to the reservation window. For an unbound job it
// removes every active reservation's nodes from the candidate set,
// deferring past reservations that hold the job's required nodes.
//
// The returned time is the adjusted start; the bitmap is nil when the
// query failed or deferred.
func (m *Manager) JobTestResv(job *job_info.JobInfo, when time.Time) (time.Time, *bitset.BitSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job.ResvName != "" {
		r := m.find(job.ResvName)
		if r == nil {
			return when, nil, common_info.ErrReservationInvalid
		}
		if err := m.checkAccess(job, r); err != nil {
			return when, nil, err
		}
		if when.Before(r.StartTime) {
			// Reservation starts later; defer the job.
			return r.StartTime, nil, common_info.ErrInvalidTimeValue
		}
		if when.After(r.EndTime) {
			// Reservation ended earlier; administrative hold.
			job.Priority = 0
			return r.EndTime, nil, common_info.ErrReservationInvalid
		}
		return when, r.NodeBitmap.Clone(), nil
	}

	candidates := m.deps.Inventory.AllBitmap()
	if len(m.reservations) == 0 {
		return when, candidates, nil
	}

	duration := effectiveDuration(job)
	var rc error
	for i := 0; ; i++ {
		jobStart := when
		jobEnd := when.Add(duration)

		for _, r := range m.reservations {
			if r.NodeBitmap == nil || !r.OverlapsWindow(jobStart, jobEnd) {
				continue
			}
			if job.ReqNodeBitmap != nil &&
				job.ReqNodeBitmap.IntersectionCardinality(r.NodeBitmap) > 0 {
				// A required node is reserved; try after the reservation.
				when = r.EndTime
				rc = common_info.ErrInvalidTimeValue
				break
			}
			candidates.InPlaceDifference(r.NodeBitmap)
		}

		if rc == nil {
			return when, candidates, nil
		}
		if i < maxDeferRetries {
			candidates = m.deps.Inventory.AllBitmap()
			rc = nil
			continue
		}
		return when, nil, rc
	}
}

// effectiveDuration resolves the job's run time bound: its own limit, the
// partition limit, or a year when both are unbounded.
func effectiveDuration(job *job_info.JobInfo) time.Duration {
	if job.TimeLimit != nil {
		if *job.TimeLimit == job_info.TimeLimitInfinite {
			return durationInfinite
		}
		return *job.TimeLimit
	}
	if job.Partition != nil && job.Partition.MaxTime != 0 {
		return job.Partition.MaxTime
	}
	return durationInfinite
}

// BeginJobResvCheck starts a sweep over the job store: every reservation's
// job count is zeroed and the overrun grace window is cached.
func (m *Manager) BeginJobResvCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overRun = m.deps.Params.ResvOverRun
	for _, r := range m.reservations {
		r.JobCnt = 0
	}
}

// JobResvCheck accounts one job against its reservation and reports
// whether the reservation (plus grace) has expired under the job.
func (m *Manager) JobResvCheck(job *job_info.JobInfo) error {
	if job.ResvName == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(job.ResvName)
	if r == nil {
		// Load-time validation may have dropped the reservation the job
		// still references.
		log.InfraLogger.Errorf(
			"Job %d linked to defunct reservation %s", job.ID, job.ResvName)
		return common_info.ErrInvalidTimeValue
	}
	job.ResvID = r.ID
	r.JobCnt++
	if !r.EndTime.Add(m.overRun).After(m.now()) {
		return common_info.ErrInvalidTimeValue
	}
	return nil
}

// SweepJobs runs one begin/check/fini pass over the whole job store.
func (m *Manager) SweepJobs() {
	m.BeginJobResvCheck()
	for _, job := range m.deps.Jobs.Jobs() {
		if job.IsFinished() {
			continue
		}
		if err := m.JobResvCheck(job); err != nil {
			log.InfraLogger.V(3).Infof(
				"Job %d outlives reservation %s", job.ID, job.ResvName)
		}
	}
	m.FiniJobResvCheck()
}

// FiniJobResvCheck purges every reservation that ended with no jobs still
// accounted to it.
func (m *Manager) FiniJobResvCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, name := range m.sortedNames() {
		r := m.reservations[name]
		if r.JobCnt != 0 || r.EndTime.After(now) {
			continue
		}
		log.InfraLogger.V(3).Infof("Purging vestigial reservation record %s", name)
		delete(m.reservations, name)
		r.Invalidate()
		m.touch(now)
	}
}
