// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"github.com/dustin/go-humanize"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/metrics"
)

// Delete removes a reservation. It fails while any unfinished job is bound
// to the reservation's id.
func (m *Manager) Delete(name string) (err error) {
	defer func() { metrics.CountOperation("delete", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(name)
	if r == nil {
		log.InfraLogger.Infof("Reservation %s not found for deletion", name)
		return common_info.ErrReservationInvalid
	}
	if m.isResvUsed(r) {
		return common_info.ErrReservationBusy
	}

	now := m.now()

	// The sink keys on TimeStartPrev stamped "now" so a reservation that
	// never started leaves no audit row behind.
	rec := m.acctRecord(r)
	rec.TimeStartPrev = now
	if err := m.deps.Sink.RemoveReservation(rec); err != nil {
		log.InfraLogger.Errorf(
			"Accounting sink rejected removal of reservation %s: %v", name, err)
	}

	delete(m.reservations, name)
	r.Invalidate()

	log.InfraLogger.Infof("Deleted reservation %s (would have ended %s)",
		name, humanize.RelTime(now, r.EndTime, "from now", "ago"))
	m.touch(now)
	return nil
}

// isResvUsed reports whether a pending or running job is bound to the
// reservation. Caller holds the lock.
func (m *Manager) isResvUsed(r *resv_info.ReservationInfo) bool {
	for _, job := range m.deps.Jobs.Jobs() {
		if !job.IsFinished() && job.ResvID == r.ID {
			return true
		}
	}
	return false
}
