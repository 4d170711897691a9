// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/metrics"
)

// Update applies a request to an existing reservation transactionally:
// every field change lands or the record is left exactly as it was. The
// changes are staged on a shadow copy; the registry swaps to it only after
// the overlap check (which excludes the record itself) passes.
func (m *Manager) Update(req *Request) (err error) {
	defer func() { metrics.CountOperation("update", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if req.Name == "" {
		return common_info.ErrReservationInvalid
	}
	r := m.find(req.Name)
	if r == nil {
		return common_info.ErrReservationInvalid
	}

	shadow := r.Clone()
	nodesChanged := false

	if req.Flags != nil {
		shadow.Flags = shadow.Flags.Apply(*req.Flags)
	}

	if req.Partition != nil {
		if *req.Partition == "" {
			shadow.Partition = ""
			shadow.PartPtr = nil
		} else {
			part := m.deps.Partitions.Find(*req.Partition)
			if part == nil {
				log.InfraLogger.Infof(
					"Reservation request has invalid partition (%s)", *req.Partition)
				return common_info.ErrInvalidPartitionName
			}
			shadow.Partition = part.Name
			shadow.PartPtr = part
		}
	}

	if req.Accounts != "" {
		if err := shadow.UpdateAccounts(req.Accounts, m.deps.Accounts); err != nil {
			return err
		}
	}
	if req.Features != nil {
		shadow.Features = *req.Features
	}
	if req.Users != "" {
		if err := shadow.UpdateUsers(req.Users, m.deps.Resolver); err != nil {
			return err
		}
	}

	if req.StartTime != nil {
		if req.StartTime.Before(now.Add(-startGrace)) {
			log.InfraLogger.Infof("Reservation request has invalid start time")
			return common_info.ErrInvalidTimeValue
		}
		shadow.StartTimePrev = shadow.StartTime
		shadow.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		if req.EndTime.Before(now.Add(-startGrace)) {
			log.InfraLogger.Infof("Reservation request has invalid end time")
			return common_info.ErrInvalidTimeValue
		}
		shadow.EndTime = *req.EndTime
	}
	if req.Duration != "" {
		d, err := req.duration()
		if err != nil {
			return err
		}
		shadow.EndTime = shadow.StartTime.Add(d)
	}
	if !shadow.StartTime.Before(shadow.EndTime) {
		log.InfraLogger.Infof("Reservation request has start time at or after end time")
		return common_info.ErrInvalidTimeValue
	}

	if req.NodeList != "" {
		bm, err := m.ingestNodeList(req.NodeList)
		if err != nil {
			return err
		}
		shadow.NodeBitmap = bm
		shadow.NodeList = m.deps.Inventory.Bitmap2NodeName(bm)
		nodesChanged = true
	}
	if req.NodeCnt != nil {
		if err := m.resize(shadow, *req.NodeCnt); err != nil {
			return err
		}
		nodesChanged = true
	}

	if m.overlaps(shadow.StartTime, shadow.EndTime, shadow.NodeBitmap, r.Name) {
		log.InfraLogger.Infof("Reservation request overlaps another")
		return common_info.ErrInvalidTimeValue
	}

	if nodesChanged {
		shadow.NodeCnt = uint32(shadow.NodeBitmap.Count())
		m.setCPUCnt(shadow)
	}

	// Commit: the shadow becomes the record.
	m.reservations[r.Name] = shadow
	r.Invalidate()

	if err := m.deps.Sink.ModifyReservation(m.acctRecord(shadow)); err != nil {
		log.InfraLogger.Errorf(
			"Accounting sink rejected update of reservation %s: %v", shadow.Name, err)
	}

	m.logReservation("Updated", shadow)
	m.touch(now)
	return nil
}
