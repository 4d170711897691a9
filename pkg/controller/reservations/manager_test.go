// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xyproto/randomstring"
	"gotest.tools/assert"

	"github.com/NVIDIA/hpc-controller/pkg/controller/accounting"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/job_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/node_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/partition_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/conf"
	"github.com/NVIDIA/hpc-controller/pkg/controller/identity"
)

var base = time.Unix(1700000000, 0)

type fixture struct {
	m      *Manager
	sink   *accounting.FakeSink
	inv    *node_info.Inventory
	jobs   *job_info.StaticLister
	params *conf.ControllerParams
	now    time.Time
	saves  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	nodes := make([]*node_info.NodeInfo, 0, 8)
	for i := 0; i < 8; i++ {
		features := []string{"bigmem"}
		if i < 4 {
			features = []string{"gpu"}
		}
		nodes = append(nodes, &node_info.NodeInfo{
			Name:           fmt.Sprintf("n%d", i),
			CPUs:           4,
			ConfiguredCPUs: 8,
			Features:       features,
		})
	}
	inv := node_info.NewInventory(nodes)

	gpuNodes, err := inv.NodeName2Bitmap("n[0-3]")
	assert.NilError(t, err)
	parts := partition_info.NewPartitions([]*partition_info.PartitionInfo{
		{Name: "batch", NodeBitmap: inv.AllBitmap()},
		{Name: "gpu", NodeBitmap: gpuNodes, MaxTime: 4 * time.Hour},
	}, "batch")

	fx := &fixture{
		sink: &accounting.FakeSink{},
		inv:  inv,
		jobs: &job_info.StaticLister{},
		now:  base,
		params: &conf.ControllerParams{
			ClusterName:       "test",
			StateSaveLocation: t.TempDir(),
			ResvOverRun:       0,
			SaveInterval:      time.Second,
		},
	}
	fx.m = NewManager(Deps{
		Params:     fx.params,
		Inventory:  inv,
		Partitions: parts,
		Jobs:       fx.jobs,
		Resolver: identity.NewFakeResolver(map[string]uint32{
			"alice":   1001,
			"bob":     1002,
			"carol":   1003,
			"mallory": 6666,
		}),
		Accounts:     identity.PermissiveAccounts{},
		Sink:         fx.sink,
		ScheduleSave: func() { fx.saves++ },
	})
	fx.m.now = func() time.Time { return fx.now }
	return fx
}

func (fx *fixture) at(offset time.Duration) *time.Time {
	t := base.Add(offset)
	return &t
}

// checkInvariants asserts the registry-wide properties that must hold
// after any successful sequence of operations.
func checkInvariants(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reservations {
		assert.Assert(t, r.StartTime.Before(r.EndTime),
			"reservation %s has empty window", r.Name)
		assert.Equal(t, uint32(r.NodeBitmap.Count()), r.NodeCnt,
			"reservation %s bitmap count mismatch", r.Name)
		assert.Equal(t, len(r.UserNames), len(r.UserList))
	}
	for _, r1 := range m.reservations {
		for _, r2 := range m.reservations {
			if r1.Name == r2.Name {
				continue
			}
			if r1.OverlapsWindow(r2.StartTime, r2.EndTime) {
				assert.Equal(t,
					r1.NodeBitmap.IntersectionCardinality(r2.NodeBitmap), uint(0),
					"reservations %s and %s double-book nodes", r1.Name, r2.Name)
			}
		}
	}
}

func TestCreateBasic(t *testing.T) {
	fx := newFixture(t)

	cnt := uint32(4)
	err := fx.m.Create(&Request{
		Users:     "alice",
		NodeCnt:   &cnt,
		StartTime: fx.at(0),
		EndTime:   fx.at(time.Hour),
	})
	assert.NilError(t, err)

	r := fx.m.find("alice_1")
	assert.Assert(t, r != nil)
	assert.Equal(t, r.ID, uint32(1))
	assert.Equal(t, uint(r.NodeCnt), r.NodeBitmap.Count())
	assert.Equal(t, r.NodeCnt, uint32(4))
	assert.Equal(t, r.CPUCnt, uint32(16))
	assert.Equal(t, r.NodeList, "n[0-3]")
	assert.Equal(t, r.Users, "alice")
	assert.Equal(t, len(fx.sink.Added), 1)
	assert.Assert(t, fx.saves > 0)
	checkInvariants(t, fx.m)
}

func TestCreateFastScheduleCharges(t *testing.T) {
	fx := newFixture(t)
	fx.params.FastSchedule = true

	cnt := uint32(2)
	err := fx.m.Create(&Request{
		Users:   "alice",
		NodeCnt: &cnt,
		EndTime: fx.at(time.Hour),
	})
	assert.NilError(t, err)
	assert.Equal(t, fx.m.find("alice_1").CPUCnt, uint32(16))
}

func TestCreateOverlapRejection(t *testing.T) {
	fx := newFixture(t)

	cnt := uint32(4)
	assert.NilError(t, fx.m.Create(&Request{
		Users:     "alice",
		NodeCnt:   &cnt,
		StartTime: fx.at(0),
		EndTime:   fx.at(time.Hour),
	}))

	// Window intersects and the nodes collide.
	err := fx.m.Create(&Request{
		Users:     "bob",
		NodeList:  "n[0-3]",
		StartTime: fx.at(30 * time.Minute),
		EndTime:   fx.at(2 * time.Hour),
	})
	assert.Assert(t, errors.Is(err, common_info.ErrInvalidTimeValue))

	// Half-open windows touching at the boundary do not conflict.
	err = fx.m.Create(&Request{
		Users:     "bob",
		NodeList:  "n[0-3]",
		StartTime: fx.at(time.Hour),
		EndTime:   fx.at(2 * time.Hour),
	})
	assert.NilError(t, err)
	checkInvariants(t, fx.m)
}

func TestOverlapIsSymmetric(t *testing.T) {
	reqA := func(fx *fixture) *Request {
		return &Request{Users: "alice", NodeList: "n[0-3]",
			StartTime: fx.at(0), EndTime: fx.at(time.Hour)}
	}
	reqB := func(fx *fixture) *Request {
		return &Request{Users: "bob", NodeList: "n[2-5]",
			StartTime: fx.at(30 * time.Minute), EndTime: fx.at(90 * time.Minute)}
	}

	fx := newFixture(t)
	assert.NilError(t, fx.m.Create(reqA(fx)))
	errAB := fx.m.Create(reqB(fx))

	fx = newFixture(t)
	assert.NilError(t, fx.m.Create(reqB(fx)))
	errBA := fx.m.Create(reqA(fx))

	assert.Assert(t, errors.Is(errAB, common_info.ErrInvalidTimeValue))
	assert.Assert(t, errors.Is(errBA, common_info.ErrInvalidTimeValue))
}

func TestCreateValidation(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(2)

	tests := []struct {
		name     string
		req      *Request
		expected error
	}{
		{
			name:     "missing principals",
			req:      &Request{NodeCnt: &cnt},
			expected: common_info.ErrInvalidBankAccount,
		},
		{
			name: "unknown partition",
			req: &Request{Users: "alice", NodeCnt: &cnt,
				Partition: strPtr("missing")},
			expected: common_info.ErrInvalidPartitionName,
		},
		{
			name:     "start time too far in the past",
			req:      &Request{Users: "alice", NodeCnt: &cnt, StartTime: fx.at(-2 * time.Minute)},
			expected: common_info.ErrInvalidTimeValue,
		},
		{
			name:     "end before start",
			req:      &Request{Users: "alice", NodeCnt: &cnt, StartTime: fx.at(time.Hour), EndTime: fx.at(time.Minute)},
			expected: common_info.ErrInvalidTimeValue,
		},
		{
			name:     "no node specification",
			req:      &Request{Users: "alice"},
			expected: common_info.ErrInvalidNodeName,
		},
		{
			name:     "unresolvable user",
			req:      &Request{Users: "nosuchuser", NodeCnt: &cnt},
			expected: common_info.ErrUserIDMissing,
		},
		{
			name:     "unknown node in list",
			req:      &Request{Users: "alice", NodeList: "n[0-3],m9"},
			expected: common_info.ErrInvalidNodeName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fx.m.Create(tt.req)
			assert.Assert(t, errors.Is(err, tt.expected))
			assert.Equal(t, fx.m.Count(), 0)
		})
	}
}

func TestCreateStartGraceTolerated(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)
	err := fx.m.Create(&Request{
		Users:     "alice",
		NodeCnt:   &cnt,
		StartTime: fx.at(-30 * time.Second),
		EndTime:   fx.at(time.Hour),
	})
	assert.NilError(t, err)
}

func TestCreateAllShorthandNeverStored(t *testing.T) {
	fx := newFixture(t)
	err := fx.m.Create(&Request{Users: "alice", NodeList: "ALL", EndTime: fx.at(time.Hour)})
	assert.NilError(t, err)

	r := fx.m.find("alice_1")
	assert.Equal(t, r.NodeList, "n[0-7]")
	assert.Equal(t, r.NodeCnt, uint32(8))
}

func TestCreateDurationSetsEnd(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)
	err := fx.m.Create(&Request{
		Users:     "alice",
		NodeCnt:   &cnt,
		StartTime: fx.at(0),
		Duration:  "90m",
	})
	assert.NilError(t, err)
	r := fx.m.find("alice_1")
	assert.Assert(t, r.EndTime.Equal(base.Add(90*time.Minute)))
}

func TestCreateInfiniteEnd(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)
	assert.NilError(t, fx.m.Create(&Request{Users: "alice", NodeCnt: &cnt}))
	assert.Assert(t, fx.m.find("alice_1").EndTime.Equal(resv_info.TimeInfinite))
}

func TestCreateDuplicateName(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)
	assert.NilError(t, fx.m.Create(&Request{
		Name: "maint", Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))

	err := fx.m.Create(&Request{
		Name: "maint", Users: "bob", NodeList: "n7",
		StartTime: fx.at(2 * time.Hour), EndTime: fx.at(3 * time.Hour)})
	assert.Assert(t, errors.Is(err, common_info.ErrReservationInvalid))
}

func TestGeneratedNameAdvancesOnCollision(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)

	// Occupies the name the next generated id would produce.
	assert.NilError(t, fx.m.Create(&Request{
		Name: "alice_2", Users: "alice", NodeList: "n0", EndTime: fx.at(time.Hour)}))

	err := fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt,
		StartTime: fx.at(2 * time.Hour), EndTime: fx.at(3 * time.Hour)})
	assert.NilError(t, err)
	assert.Assert(t, fx.m.find("alice_3") != nil)
}

func TestGeneratedNamePrefersAccount(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)
	assert.NilError(t, fx.m.Create(&Request{
		Accounts: "physics,chem", Users: "alice", NodeCnt: &cnt,
		EndTime: fx.at(time.Hour)}))
	assert.Assert(t, fx.m.find("physics_1") != nil)
}

func TestCreateFeatureFilter(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(2)
	err := fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, Features: strPtr("gpu"),
		EndTime: fx.at(time.Hour)})
	assert.NilError(t, err)

	r := fx.m.find("alice_1")
	gpu, _ := fx.inv.NodeName2Bitmap("n[0-3]")
	assert.Equal(t, r.NodeBitmap.Intersection(gpu).Count(), uint(2))

	big := uint32(5)
	err = fx.m.Create(&Request{
		Users: "bob", NodeCnt: &big, Features: strPtr("gpu"),
		StartTime: fx.at(2 * time.Hour), EndTime: fx.at(3 * time.Hour)})
	assert.Assert(t, errors.Is(err, common_info.ErrTooManyRequestedNodes))
}

func TestSelectorPrefersIdleNodes(t *testing.T) {
	fx := newFixture(t)
	idle, err := fx.inv.NodeName2Bitmap("n[4-7]")
	assert.NilError(t, err)
	fx.inv.Idle = idle

	cnt := uint32(2)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))

	assert.Equal(t, fx.m.find("alice_1").NodeList, "n[4-5]")
}

func TestSelectorFillsFromBusyNodes(t *testing.T) {
	fx := newFixture(t)
	idle, err := fx.inv.NodeName2Bitmap("n[6-7]")
	assert.NilError(t, err)
	fx.inv.Idle = idle

	cnt := uint32(4)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))

	assert.Equal(t, fx.m.find("alice_1").NodeList, "n[0-1,6-7]")
}

func TestSelectorSkipsDownNodes(t *testing.T) {
	fx := newFixture(t)
	avail, err := fx.inv.NodeName2Bitmap("n[2-7]")
	assert.NilError(t, err)
	fx.inv.Avail = avail

	cnt := uint32(2)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))
	assert.Equal(t, fx.m.find("alice_1").NodeList, "n[2-3]")
}

func TestUpdateUserDeltas(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(4)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))

	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1", Users: "+bob,+carol"}))
	assert.Equal(t, fx.m.find("alice_1").Users, "alice,bob,carol")

	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1", Users: "-alice"}))
	assert.Equal(t, fx.m.find("alice_1").Users, "bob,carol")

	err := fx.m.Update(&Request{Name: "alice_1", Users: "-alice"})
	assert.Assert(t, errors.Is(err, common_info.ErrUserIDMissing))
	assert.Equal(t, fx.m.find("alice_1").Users, "bob,carol")
}

func TestUpdateFlags(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(1)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))

	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1",
		Flags: &resv_info.FlagsUpdate{Set: resv_info.FlagMaint | resv_info.FlagDaily}}))
	assert.Equal(t, fx.m.find("alice_1").Flags, resv_info.FlagMaint|resv_info.FlagDaily)

	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1",
		Flags: &resv_info.FlagsUpdate{Clear: resv_info.FlagDaily}}))
	assert.Equal(t, fx.m.find("alice_1").Flags, resv_info.FlagMaint)
}

func TestUpdateRollbackOnOverlap(t *testing.T) {
	fx := newFixture(t)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeList: "n[0-3]",
		StartTime: fx.at(0), EndTime: fx.at(time.Hour)}))
	assert.NilError(t, fx.m.Create(&Request{
		Users: "bob", NodeList: "n[4-7]",
		StartTime: fx.at(0), EndTime: fx.at(time.Hour)}))

	before := fx.m.find("bob_2").Clone()
	err := fx.m.Update(&Request{Name: "bob_2", NodeList: "n[2-5]"})
	assert.Assert(t, errors.Is(err, common_info.ErrInvalidTimeValue))

	after := fx.m.find("bob_2")
	assert.Equal(t, after.NodeList, before.NodeList)
	assert.Assert(t, after.StartTime.Equal(before.StartTime))
	assert.Assert(t, after.EndTime.Equal(before.EndTime))
	assert.Equal(t, after.NodeCnt, before.NodeCnt)
	checkInvariants(t, fx.m)
}

func TestUpdateWindowMoveExcludesSelf(t *testing.T) {
	fx := newFixture(t)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeList: "n[0-3]",
		StartTime: fx.at(0), EndTime: fx.at(time.Hour)}))

	// Sliding its own window may not trip over itself.
	assert.NilError(t, fx.m.Update(&Request{
		Name: "alice_1", StartTime: fx.at(30 * time.Minute), EndTime: fx.at(2 * time.Hour)}))

	r := fx.m.find("alice_1")
	assert.Assert(t, r.StartTime.Equal(base.Add(30*time.Minute)))
	assert.Assert(t, r.StartTimePrev.Equal(base))
}

func TestUpdatePartitionClear(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(2)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, Partition: strPtr("gpu"),
		EndTime: fx.at(time.Hour)}))
	assert.Equal(t, fx.m.find("alice_1").Partition, "gpu")

	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1", Partition: strPtr("")}))
	r := fx.m.find("alice_1")
	assert.Equal(t, r.Partition, "")
	assert.Assert(t, r.PartPtr == nil)
}

func TestUpdateUnknownReservation(t *testing.T) {
	fx := newFixture(t)
	err := fx.m.Update(&Request{Name: "missing", Users: "+bob"})
	assert.Assert(t, errors.Is(err, common_info.ErrReservationInvalid))
}

func TestShrinkPrefersIdleNodes(t *testing.T) {
	fx := newFixture(t)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeList: "n[0-7]",
		StartTime: fx.at(0), EndTime: fx.at(time.Hour)}))

	idle, err := fx.inv.NodeName2Bitmap("n[0-3]")
	assert.NilError(t, err)
	fx.inv.Idle = idle

	cnt := uint32(4)
	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1", NodeCnt: &cnt}))

	r := fx.m.find("alice_1")
	assert.Equal(t, r.NodeList, "n[4-7]")
	assert.Equal(t, r.NodeCnt, uint32(4))
	assert.Equal(t, r.CPUCnt, uint32(16))
}

func TestGrowUnionsNewNodes(t *testing.T) {
	fx := newFixture(t)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeList: "n[0-1]",
		StartTime: fx.at(0), EndTime: fx.at(time.Hour)}))

	cnt := uint32(4)
	assert.NilError(t, fx.m.Update(&Request{Name: "alice_1", NodeCnt: &cnt}))

	r := fx.m.find("alice_1")
	assert.Equal(t, r.NodeList, "n[0-3]")
	assert.Equal(t, r.NodeCnt, uint32(4))
	checkInvariants(t, fx.m)
}

func TestDelete(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(2)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))

	err := fx.m.Delete("missing")
	assert.Assert(t, errors.Is(err, common_info.ErrReservationInvalid))

	assert.NilError(t, fx.m.Delete("alice_1"))
	assert.Equal(t, fx.m.Count(), 0)
	assert.Equal(t, len(fx.sink.Removed), 1)
	// Deletion timestamps the event so unstarted reservations leave no
	// audit rows behind.
	assert.Assert(t, fx.sink.Removed[0].TimeStartPrev.Equal(base))
}

func TestDeleteBusy(t *testing.T) {
	fx := newFixture(t)
	cnt := uint32(2)
	assert.NilError(t, fx.m.Create(&Request{
		Users: "alice", NodeCnt: &cnt, EndTime: fx.at(time.Hour)}))
	id := fx.m.find("alice_1").ID

	fx.jobs.JobList = []*job_info.JobInfo{
		{ID: 100, UserID: 1001, Status: job_info.StatusRunning, ResvID: id},
	}
	err := fx.m.Delete("alice_1")
	assert.Assert(t, errors.Is(err, common_info.ErrReservationBusy))

	fx.jobs.JobList[0].Status = job_info.StatusComplete
	assert.NilError(t, fx.m.Delete("alice_1"))
}

func TestManyReservationsStayConsistent(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("%s_%d", randomstring.HumanFriendlyString(6), i)
		err := fx.m.Create(&Request{
			Name:      name,
			Users:     "alice",
			NodeList:  "n[0-7]",
			StartTime: fx.at(time.Duration(i) * time.Hour),
			EndTime:   fx.at(time.Duration(i+1) * time.Hour),
		})
		assert.NilError(t, err)
	}
	assert.Equal(t, fx.m.Count(), 10)
	checkInvariants(t, fx.m)
}

func strPtr(s string) *string { return &s }
