// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package reservations

import (
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/api/resv_info"
)

// NodeListAll is the input shorthand for every node in the inventory. It
// is materialized to a bitmap at ingress and never stored.
const NodeListAll = "ALL"

// startGrace tolerates clock skew between client and controller when a
// requested time is slightly in the past.
const startGrace = 60 * time.Second

// Request carries a reservation create or update. Nil pointer fields are
// absent; for updates an absent field leaves the record untouched.
type Request struct {
	Name string

	StartTime *time.Time
	EndTime   *time.Time

	// Duration is an alternative to EndTime, measured from the start time.
	// Accepts extended duration syntax ("2h", "1d12h", "90m"); a bare
	// integer is a count of minutes.
	Duration string

	Flags *resv_info.FlagsUpdate

	// Partition scopes node selection. On update an empty string clears
	// the partition.
	Partition *string

	Features *string

	// Users and Accounts are comma-separated principal expressions, in
	// set form or +/- delta form.
	Users    string
	Accounts string

	NodeList string
	NodeCnt  *uint32
}

func (req *Request) duration() (time.Duration, error) {
	if mins, err := strconv.ParseUint(req.Duration, 10, 32); err == nil {
		return time.Duration(mins) * time.Minute, nil
	}
	d, err := str2duration.ParseDuration(req.Duration)
	if err != nil {
		return 0, common_info.ErrInvalidTimeValue
	}
	return d, nil
}
