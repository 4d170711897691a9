// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		Cluster:   "test",
		ID:        7,
		TimeStart: time.Unix(1700000000, 0),
		TimeEnd:   time.Unix(1700003600, 0),
		CPUs:      32,
		Nodes:     "n[0-3]",
	}
}

func TestRetryingSinkRecovers(t *testing.T) {
	fake := &FakeSink{FailUntil: 2}
	sink := NewRetryingSink(fake)

	require.NoError(t, sink.AddReservation(testRecord()))
	assert.Len(t, fake.Added, 1)
	assert.Equal(t, uint32(7), fake.Added[0].ID)
}

func TestRetryingSinkGivesUp(t *testing.T) {
	fake := &FakeSink{FailUntil: 100}
	sink := NewRetryingSink(fake)

	err := sink.ModifyReservation(testRecord())
	assert.Error(t, err)
	assert.Empty(t, fake.Modified)
}

func TestFakeSinkRecordsEvents(t *testing.T) {
	fake := &FakeSink{}
	require.NoError(t, fake.AddReservation(testRecord()))
	require.NoError(t, fake.RemoveReservation(testRecord()))
	assert.Len(t, fake.Added, 1)
	assert.Len(t, fake.Removed, 1)
}
