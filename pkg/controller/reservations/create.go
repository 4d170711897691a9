// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/dustin/go-humanize"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/metrics"
)

// Create registers a new reservation. Validation failures return before
// any state is published; on success the accounting sink is notified and a
// checkpoint is scheduled.
func (m *Manager) Create(req *Request) (err error) {
	defer func() { metrics.CountOperation("create", err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	start := now
	if req.StartTime != nil {
		if req.StartTime.Before(now.Add(-startGrace)) {
			log.InfraLogger.Infof("Reservation request has invalid start time")
			return common_info.ErrInvalidTimeValue
		}
		start = *req.StartTime
	}

	end := resv_info.TimeInfinite
	switch {
	case req.EndTime != nil:
		if req.EndTime.Before(now.Add(-startGrace)) {
			log.InfraLogger.Infof("Reservation request has invalid end time")
			return common_info.ErrInvalidTimeValue
		}
		end = *req.EndTime
	case req.Duration != "":
		d, err := req.duration()
		if err != nil {
			return err
		}
		end = start.Add(d)
	}
	if !start.Before(end) {
		log.InfraLogger.Infof("Reservation request has start time at or after end time")
		return common_info.ErrInvalidTimeValue
	}

	var flags resv_info.Flags
	if req.Flags != nil {
		flags = flags.Apply(*req.Flags)
	}

	var part *partition_info.PartitionInfo
	partName := ""
	if req.Partition != nil && *req.Partition != "" {
		part = m.deps.Partitions.Find(*req.Partition)
		if part == nil {
			log.InfraLogger.Infof(
				"Reservation request has invalid partition %s", *req.Partition)
			return common_info.ErrInvalidPartitionName
		}
		partName = part.Name
	}

	if req.Accounts == "" && req.Users == "" {
		log.InfraLogger.Infof("Reservation request lacks users or accounts")
		return common_info.ErrInvalidBankAccount
	}
	var accountList []string
	if req.Accounts != "" {
		var err error
		accountList, err = resv_info.BuildAccountList(req.Accounts, m.deps.Accounts)
		if err != nil {
			return err
		}
	}
	var userNames []string
	var userList []uint32
	if req.Users != "" {
		var err error
		userNames, userList, err = resv_info.BuildUserList(req.Users, m.deps.Resolver)
		if err != nil {
			return err
		}
	}

	var nodeBitmap *bitset.BitSet
	var nodeList string
	var nodeCnt uint32
	switch {
	case req.NodeList != "":
		var err error
		nodeBitmap, err = m.ingestNodeList(req.NodeList)
		if err != nil {
			return err
		}
		if m.overlaps(start, end, nodeBitmap, "") {
			log.InfraLogger.Infof("Reservation request overlaps another")
			return common_info.ErrInvalidTimeValue
		}
		nodeCnt = uint32(nodeBitmap.Count())
		nodeList = m.deps.Inventory.Bitmap2NodeName(nodeBitmap)
	case req.NodeCnt == nil:
		log.InfraLogger.Infof("Reservation request lacks node specification")
		return common_info.ErrInvalidNodeName
	default:
		var err error
		nodeBitmap, part, err = m.selectNodes(start, end, features(req), *req.NodeCnt, part, "")
		if err != nil {
			return err
		}
		partName = part.Name
		nodeCnt = *req.NodeCnt
		nodeList = m.deps.Inventory.Bitmap2NodeName(nodeBitmap)
	}

	id := m.nextID()
	name := req.Name
	if name != "" {
		if m.find(name) != nil {
			log.InfraLogger.Infof("Reservation request name duplication (%s)", name)
			return common_info.ErrReservationInvalid
		}
	} else {
		// Derive a name from the first principal token; advance the id on
		// every collision so the loop terminates.
		for {
			name = fmt.Sprintf("%s_%d", namePrefix(req), id)
			if m.find(name) == nil {
				break
			}
			id = m.nextID()
		}
	}

	r := resv_info.New()
	r.Name = name
	r.ID = id
	r.StartTime = start
	r.StartTimePrev = start
	r.EndTime = end
	r.Flags = flags
	r.Partition = partName
	r.PartPtr = part
	r.Features = features(req)
	r.NodeList = nodeList
	r.NodeBitmap = nodeBitmap
	r.NodeCnt = nodeCnt
	r.Accounts = strings.Join(accountList, ",")
	r.AccountList = accountList
	r.Users = strings.Join(userNames, ",")
	r.UserNames = userNames
	r.UserList = userList
	m.setCPUCnt(r)

	m.reservations[name] = r

	if err := m.deps.Sink.AddReservation(m.acctRecord(r)); err != nil {
		log.InfraLogger.Errorf(
			"Accounting sink rejected creation of reservation %s: %v", name, err)
	}

	m.logReservation("Created", r)
	log.InfraLogger.V(3).Infof(
		"Reservation %s starts %s", name, humanize.RelTime(now, start, "from now", "ago"))
	m.touch(now)
	return nil
}

// ingestNodeList materializes a requested node list, expanding the ALL
// shorthand against the inventory.
func (m *Manager) ingestNodeList(list string) (*bitset.BitSet, error) {
	if list == NodeListAll {
		return m.deps.Inventory.AllBitmap(), nil
	}
	return m.deps.Inventory.NodeName2Bitmap(list)
}

func features(req *Request) string {
	if req.Features == nil {
		return ""
	}
	return *req.Features
}

// namePrefix picks the seed for generated names: the first account token
// when accounts were given, else the first user token.
func namePrefix(req *Request) string {
	key := req.Accounts
	if key == "" {
		key = req.Users
	}
	if i := strings.IndexByte(key, ','); i >= 0 {
		key = key[:i]
	}
	return key
}
