// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

// Package reservations owns the in-memory reservation registry: node
// selection, overlap prevention, state persistence and the job binding
// query paths.
package reservations

import (
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/NVIDIA/hpc-controller/pkg/controller/accounting"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/job_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/node_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/conf"
	"github.com/NVIDIA/hpc-controller/pkg/controller/identity"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/metrics"
)

// topSuffixWrap is the value past which the id counter wraps back to zero.
const topSuffixWrap = 0xffffff00

// Deps are the external collaborators the registry consumes.
type Deps struct {
	Params     *conf.ControllerParams
	Inventory  *node_info.Inventory
	Partitions *partition_info.Partitions
	Jobs       job_info.Lister
	Resolver   identity.Resolver
	Accounts   identity.AccountValidator
	Sink       accounting.Sink

	// ScheduleSave is a coalescing hint that state changed; the checkpoint
	// loop decides when the write actually happens. May be nil.
	ScheduleSave func()
}

// Manager is the process-wide reservation registry. A single writer at a
// time mutates it; concurrent readers are permitted for listing and the
// scheduler query path.
type Manager struct {
	mu     sync.RWMutex
	fileMu sync.Mutex

	deps Deps

	reservations map[string]*resv_info.ReservationInfo
	topSuffix    uint32
	lastUpdate   time.Time

	// overRun is cached by BeginJobResvCheck for the duration of a sweep.
	overRun time.Duration

	now func() time.Time
}

func NewManager(deps Deps) *Manager {
	if deps.Sink == nil {
		deps.Sink = accounting.NopSink{}
	}
	if deps.Jobs == nil {
		deps.Jobs = &job_info.StaticLister{}
	}
	return &Manager{
		deps:         deps,
		reservations: map[string]*resv_info.ReservationInfo{},
		now:          time.Now,
	}
}

// LastUpdate reports when the registry last changed; listing clients use
// it to cache.
func (m *Manager) LastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate
}

// Count reports the number of registered reservations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reservations)
}

// find returns the named reservation or nil. Caller holds the lock.
func (m *Manager) find(name string) *resv_info.ReservationInfo {
	r := m.reservations[name]
	if r != nil {
		r.AssertValid()
	}
	return r
}

// sortedNames gives a deterministic iteration order for packing and
// validation. Caller holds the lock.
func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.reservations))
	for name := range m.reservations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// touch stamps the registry dirty and schedules a checkpoint. Caller holds
// the writer lock.
func (m *Manager) touch(now time.Time) {
	m.lastUpdate = now
	metrics.SetActiveReservations(len(m.reservations))
	if m.deps.ScheduleSave != nil {
		m.deps.ScheduleSave()
	}
}

// nextID advances the id counter, wrapping before it overflows the
// client-visible range.
func (m *Manager) nextID() uint32 {
	if m.topSuffix > topSuffixWrap {
		m.topSuffix = 0
	}
	m.topSuffix++
	return m.topSuffix
}

// overlaps reports whether the window and bitmap collide with any
// registered reservation other than the named one. Caller holds the lock.
func (m *Manager) overlaps(start, end time.Time, bm *bitset.BitSet, skip string) bool {
	if bm == nil {
		return false
	}
	for _, other := range m.reservations {
		if skip != "" && other.Name == skip {
			continue
		}
		if other.NodeBitmap == nil || !other.OverlapsWindow(start, end) {
			continue
		}
		if other.NodeBitmap.IntersectionCardinality(bm) == 0 {
			continue
		}
		log.InfraLogger.V(4).Infof("Reservation overlap with %s", other.Name)
		return true
	}
	return false
}

// setCPUCnt recomputes the CPU total for the record's node bitmap.
func (m *Manager) setCPUCnt(r *resv_info.ReservationInfo) {
	if r.NodeBitmap == nil {
		return
	}
	var cpus uint32
	for _, node := range m.deps.Inventory.Nodes() {
		if !r.NodeBitmap.Test(node.Index) {
			continue
		}
		if m.deps.Params.FastSchedule {
			cpus += node.ConfiguredCPUs
		} else {
			cpus += node.CPUs
		}
	}
	r.CPUCnt = cpus
}

func (m *Manager) acctRecord(r *resv_info.ReservationInfo) accounting.Record {
	return accounting.Record{
		Cluster:       m.deps.Params.ClusterName,
		ID:            r.ID,
		TimeStart:     r.StartTime,
		TimeEnd:       r.EndTime,
		TimeStartPrev: r.StartTimePrev,
		CPUs:          r.CPUCnt,
		Flags:         r.Flags,
		Nodes:         r.NodeList,
	}
}

func (m *Manager) logReservation(action string, r *resv_info.ReservationInfo) {
	log.InfraLogger.Infof(
		"%s reservation %s accounts=%s users=%s nodes=%s start=%s end=%s",
		action, r.Name, r.Accounts, r.Users, r.NodeList,
		r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339))
}
