// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/packer"
)

// Show serializes the client-visible listing: a record count, the listing
// timestamp, then each record in canonical field order. The uid is
// accepted for future per-user filtering; listings are currently public.
func (m *Manager) Show(uid uint32) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf := packer.NewBuffer()
	countOffset := buf.Offset()
	buf.Pack32(0)
	buf.PackTime(m.now())

	packed := uint32(0)
	for _, name := range m.sortedNames() {
		packResv(buf, m.reservations[name], false)
		packed++
	}
	buf.Set32At(countOffset, packed)
	return buf.Bytes()
}

// Records returns deep copies of every registered reservation, sorted by
// name; the debug endpoint renders them as JSON.
func (m *Manager) Records() []*resv_info.ReservationInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*resv_info.ReservationInfo, 0, len(m.reservations))
	for _, name := range m.sortedNames() {
		records = append(records, m.reservations[name].Clone())
	}
	return records
}
