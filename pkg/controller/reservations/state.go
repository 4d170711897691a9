// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
	"github.com/NVIDIA/hpc-controller/pkg/controller/metrics"
	"github.com/NVIDIA/hpc-controller/pkg/controller/packer"
)

// stateVersion changes whenever the state save format changes.
const stateVersion = "VER001"

const (
	stateFileName = "resv_state"
	stateFileMode = 0600
)

// Recovery modes accepted by LoadState.
const (
	RecoverNone     = 0 // revalidate in-memory records only
	RecoverValidate = 1 // same as RecoverNone
	RecoverFromDisk = 2 // flush and reload from the state file
)

// packResv writes one record. The internal variant appends the fields
// that exist only in the state file, not in client listings.
func packResv(buf *packer.Buffer, r *resv_info.ReservationInfo, internal bool) {
	buf.PackStr(r.Accounts)
	buf.PackTime(r.EndTime)
	buf.PackStr(r.Features)
	buf.PackStr(r.Name)
	buf.Pack32(r.NodeCnt)
	buf.PackStr(r.NodeList)
	buf.PackStr(r.Partition)
	buf.PackTime(r.StartTime)
	buf.Pack16(uint16(r.Flags))
	buf.PackStr(r.Users)

	if internal {
		buf.Pack32(r.CPUCnt)
		buf.Pack32(r.ID)
	}
}

func unpackResv(buf *packer.Buffer) (*resv_info.ReservationInfo, error) {
	r := resv_info.New()
	var err error
	var flags uint16
	if r.Accounts, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if r.EndTime, err = buf.UnpackTime(); err != nil {
		return nil, err
	}
	if r.Features, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if r.Name, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if r.NodeCnt, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if r.NodeList, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if r.Partition, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if r.StartTime, err = buf.UnpackTime(); err != nil {
		return nil, err
	}
	if flags, err = buf.Unpack16(); err != nil {
		return nil, err
	}
	r.Flags = resv_info.Flags(flags)
	if r.Users, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if r.CPUCnt, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if r.ID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	r.StartTimePrev = r.StartTime
	return r, nil
}

// DumpState checkpoints the registry. The serialized buffer is pinned
// under the read lock; file rotation happens with the registry lock
// released and the state-file lock held.
func (m *Manager) DumpState() (err error) {
	began := time.Now()
	defer func() { metrics.ObserveCheckpoint(time.Since(began), err) }()

	buf := packer.NewBuffer()
	m.mu.RLock()
	buf.PackStr(stateVersion)
	buf.PackTime(m.now())
	buf.Pack32(m.topSuffix)
	for _, name := range m.sortedNames() {
		packResv(buf, m.reservations[name], true)
	}
	m.mu.RUnlock()

	if err := m.writeStateFile(buf.Bytes()); err != nil {
		log.InfraLogger.Errorf("Failed to save reservation state: %v", err)
		return err
	}
	return nil
}

// writeStateFile performs the two-generation rotation: the new content is
// written and fsynced to resv_state.new, then shuffled so that either
// resv_state or resv_state.old is a complete file after any crash.
func (m *Manager) writeStateFile(data []byte) error {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	dir := m.deps.Params.StateSaveLocation
	regFile := filepath.Join(dir, stateFileName)
	oldFile := regFile + ".old"
	newFile := regFile + ".new"

	f, err := os.OpenFile(newFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stateFileMode)
	if err != nil {
		return errors.Wrapf(err, "error creating file %s", newFile)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(newFile)
		return errors.Wrapf(err, "error writing file %s", newFile)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(newFile)
		return errors.Wrapf(err, "error syncing file %s", newFile)
	}
	if err := f.Close(); err != nil {
		os.Remove(newFile)
		return errors.Wrapf(err, "error closing file %s", newFile)
	}

	os.Remove(oldFile)
	os.Link(regFile, oldFile)
	os.Remove(regFile)
	if err := os.Link(newFile, regFile); err != nil {
		return errors.Wrapf(err, "error installing file %s", regFile)
	}
	os.Remove(newFile)
	return nil
}

// LoadState restores or revalidates the registry. Mode RecoverFromDisk
// flushes the registry and reads the state file; the other modes
// revalidate what is in memory against the current catalogs.
func (m *Manager) LoadState(mode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUpdate = m.now()

	if mode != RecoverFromDisk {
		m.validateAll()
		return nil
	}

	m.reservations = map[string]*resv_info.ReservationInfo{}

	stateFile := filepath.Join(m.deps.Params.StateSaveLocation, stateFileName)
	m.fileMu.Lock()
	data, err := os.ReadFile(stateFile)
	m.fileMu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			log.InfraLogger.Infof("No reservation state file (%s) to recover", stateFile)
			return nil
		}
		return errors.Wrapf(err, "read error on %s", stateFile)
	}

	buf := packer.FromBytes(data)
	ver, err := buf.UnpackStr()
	if err != nil || ver != stateVersion {
		log.InfraLogger.Errorf(
			"Can not recover reservation state, data version incompatible (%q)", ver)
		return common_info.ErrIncompatibleStateData
	}
	if _, err := buf.UnpackTime(); err != nil {
		return common_info.ErrIncompatibleStateData
	}
	top, err := buf.Unpack32()
	if err != nil {
		return common_info.ErrIncompatibleStateData
	}
	m.topSuffix = top

	for buf.Remaining() > 0 {
		r, err := unpackResv(buf)
		if err != nil {
			m.validateAll()
			log.InfraLogger.Errorf("Incomplete reservation data checkpoint file")
			log.InfraLogger.Infof("Recovered state of %d reservations", len(m.reservations))
			return common_info.ErrIncompatibleStateData
		}
		m.reservations[r.Name] = r
		log.InfraLogger.V(3).Infof("Recovered state of reservation %s", r.Name)
	}

	m.validateAll()
	log.InfraLogger.Infof("Recovered state of %d reservations", len(m.reservations))
	return nil
}

// validateAll revalidates every record against the current catalogs,
// purging those that no longer resolve, and re-seeds the id counter from
// the numeric suffixes of surviving names. Caller holds the writer lock.
func (m *Manager) validateAll() {
	var verr error
	for _, name := range m.sortedNames() {
		r := m.reservations[name]
		if err := m.validateOne(r); err != nil {
			verr = multierr.Append(verr,
				errors.Wrapf(err, "purging invalid reservation record %s", name))
			delete(m.reservations, name)
			r.Invalidate()
			continue
		}
		if i := strings.LastIndexByte(r.Name, '_'); i >= 0 {
			if suffix, err := strconv.ParseUint(r.Name[i+1:], 10, 32); err == nil {
				if uint32(suffix) > m.topSuffix {
					m.topSuffix = uint32(suffix)
				}
			}
		}
	}
	if verr != nil {
		log.InfraLogger.Errorf("Reservation validation: %v", verr)
	}
	metrics.SetActiveReservations(len(m.reservations))
}

// validateOne recomputes the derived fields of a loaded record: bitmap
// from the node list, principal lists from the canonical strings, and the
// partition pointer.
func (m *Manager) validateOne(r *resv_info.ReservationInfo) error {
	if r.Name == "" {
		return errors.New("reservation without name")
	}
	if !r.StartTime.Before(r.EndTime) {
		return errors.Errorf("window [%s, %s) is empty", r.StartTime, r.EndTime)
	}
	if r.Partition != "" {
		part := m.deps.Partitions.Find(r.Partition)
		if part == nil {
			return errors.Errorf("invalid partition (%s)", r.Partition)
		}
		r.PartPtr = part
	}
	if r.Accounts == "" && r.Users == "" {
		return errors.New("no users or accounts")
	}
	if r.Accounts != "" {
		list, err := resv_info.BuildAccountList(r.Accounts, m.deps.Accounts)
		if err != nil {
			return errors.Errorf("invalid accounts (%s)", r.Accounts)
		}
		r.AccountList = list
	}
	if r.Users != "" {
		names, uids, err := resv_info.BuildUserList(r.Users, m.deps.Resolver)
		if err != nil {
			return errors.Errorf("invalid users (%s)", r.Users)
		}
		r.UserNames = names
		r.UserList = uids
	}
	if r.NodeList != "" {
		bm, err := m.ingestNodeList(r.NodeList)
		if err != nil {
			return errors.Errorf("invalid nodes (%s)", r.NodeList)
		}
		r.NodeBitmap = bm
		r.NodeCnt = uint32(bm.Count())
		m.setCPUCnt(r)
	}
	return nil
}
