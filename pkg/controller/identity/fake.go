// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"
	"strconv"
)

// FakeResolver is a map-backed Resolver for tests and static deployments.
type FakeResolver struct {
	Users map[string]uint32
}

func NewFakeResolver(users map[string]uint32) *FakeResolver {
	return &FakeResolver{Users: users}
}

func (f *FakeResolver) LookupUID(name string) (uint32, error) {
	if uid, ok := f.Users[name]; ok {
		return uid, nil
	}
	if uid, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(uid), nil
	}
	return 0, fmt.Errorf("unknown user %q", name)
}

// FakeAccounts validates accounts against a fixed allow list. An empty
// list accepts everything.
type FakeAccounts struct {
	Accounts map[string]bool
}

func NewFakeAccounts(accounts ...string) *FakeAccounts {
	m := map[string]bool{}
	for _, a := range accounts {
		m[a] = true
	}
	return &FakeAccounts{Accounts: m}
}

func (f *FakeAccounts) IsAccountValid(account string) bool {
	if len(f.Accounts) == 0 {
		return true
	}
	return f.Accounts[account]
}
