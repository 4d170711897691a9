// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package resv_info

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/NVIDIA/hpc-controller/pkg/controller/api/common_info"
	"github.com/NVIDIA/hpc-controller/pkg/controller/identity"
	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
)

type principalOp int

const (
	opSet principalOp = iota
	opAdd
	opRemove
)

type principalToken struct {
	op   principalOp
	name string
}

// parsePrincipalExpr splits a comma-separated principal expression into
// tokens. Either every token carries a +/- prefix (delta form) or none
// does (set form); mixing the two is rejected.
func parsePrincipalExpr(expr string) ([]principalToken, bool, error) {
	var tokens []principalToken
	delta, sawSet := false, false
	for _, raw := range strings.Split(expr, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tok := principalToken{op: opSet, name: raw}
		switch raw[0] {
		case '-':
			tok.op, tok.name = opRemove, raw[1:]
			delta = true
		case '+':
			tok.op, tok.name = opAdd, raw[1:]
			delta = true
		default:
			sawSet = true
		}
		if tok.name == "" {
			return nil, false, errors.Errorf("empty principal token in %q", expr)
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return nil, false, errors.New("empty principal list")
	}
	if delta && sawSet {
		return nil, false, errors.Errorf("mixed set and delta tokens in %q", expr)
	}
	return tokens, delta, nil
}

// BuildAccountList validates a comma-separated set-form account list.
func BuildAccountList(accounts string, validator identity.AccountValidator) ([]string, error) {
	tokens, delta, err := parsePrincipalExpr(accounts)
	if err != nil || delta {
		return nil, common_info.ErrInvalidBankAccount
	}
	list := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !validator.IsAccountValid(tok.name) {
			log.InfraLogger.Infof("Reservation request has invalid account %s", tok.name)
			return nil, common_info.ErrInvalidBankAccount
		}
		list = append(list, tok.name)
	}
	return list, nil
}

// BuildUserList resolves a comma-separated set-form user list to names and
// uids.
func BuildUserList(users string, resolver identity.Resolver) ([]string, []uint32, error) {
	tokens, delta, err := parsePrincipalExpr(users)
	if err != nil || delta {
		return nil, nil, common_info.ErrUserIDMissing
	}
	names := make([]string, 0, len(tokens))
	uids := make([]uint32, 0, len(tokens))
	for _, tok := range tokens {
		uid, err := resolver.LookupUID(tok.name)
		if err != nil {
			log.InfraLogger.Infof("Reservation request has invalid user %s", tok.name)
			return nil, nil, common_info.ErrUserIDMissing
		}
		names = append(names, tok.name)
		uids = append(uids, uid)
	}
	return names, uids, nil
}

// UpdateAccounts applies a set-form or delta-form account expression to the
// record. The record is left untouched on any failure; the canonical string
// is re-joined from the list after every successful change.
func (r *ReservationInfo) UpdateAccounts(expr string, validator identity.AccountValidator) error {
	tokens, delta, err := parsePrincipalExpr(expr)
	if err != nil {
		log.InfraLogger.Infof("Reservation account expression invalid %s", expr)
		return common_info.ErrInvalidBankAccount
	}

	if !delta {
		list, err := BuildAccountList(expr, validator)
		if err != nil {
			return err
		}
		r.AccountList = list
		r.Accounts = strings.Join(list, ",")
		return nil
	}

	list := append([]string(nil), r.AccountList...)
	for _, tok := range tokens {
		if !validator.IsAccountValid(tok.name) {
			log.InfraLogger.Infof("Reservation request has invalid account %s", tok.name)
			return common_info.ErrInvalidBankAccount
		}
		switch tok.op {
		case opRemove:
			if len(list) == 0 {
				return common_info.ErrInvalidBankAccount
			}
			idx := indexOf(list, tok.name)
			if idx < 0 {
				return common_info.ErrInvalidBankAccount
			}
			list = append(list[:idx], list[idx+1:]...)
		case opAdd:
			if indexOf(list, tok.name) >= 0 {
				continue // idempotent add
			}
			list = append(list, tok.name)
		}
	}
	r.AccountList = list
	r.Accounts = strings.Join(list, ",")
	return nil
}

// UpdateUsers applies a set-form or delta-form user expression to the
// record. Removal matches by uid; the record is left untouched on failure.
func (r *ReservationInfo) UpdateUsers(expr string, resolver identity.Resolver) error {
	tokens, delta, err := parsePrincipalExpr(expr)
	if err != nil {
		log.InfraLogger.Infof("Reservation user expression invalid %s", expr)
		return common_info.ErrUserIDMissing
	}

	if !delta {
		names, uids, err := BuildUserList(expr, resolver)
		if err != nil {
			return err
		}
		r.UserNames = names
		r.UserList = uids
		r.Users = strings.Join(names, ",")
		return nil
	}

	names := append([]string(nil), r.UserNames...)
	uids := append([]uint32(nil), r.UserList...)
	for _, tok := range tokens {
		uid, err := resolver.LookupUID(tok.name)
		if err != nil {
			log.InfraLogger.Infof("Reservation request has invalid user %s", tok.name)
			return common_info.ErrUserIDMissing
		}
		switch tok.op {
		case opRemove:
			if len(uids) == 0 {
				return common_info.ErrUserIDMissing
			}
			idx := -1
			for i, u := range uids {
				if u == uid {
					idx = i
					break
				}
			}
			if idx < 0 {
				return common_info.ErrUserIDMissing
			}
			names = append(names[:idx], names[idx+1:]...)
			uids = append(uids[:idx], uids[idx+1:]...)
		case opAdd:
			present := false
			for _, u := range uids {
				if u == uid {
					present = true
					break
				}
			}
			if present {
				continue // idempotent add
			}
			names = append(names, tok.name)
			uids = append(uids, uid)
		}
	}
	r.UserNames = names
	r.UserList = uids
	r.Users = strings.Join(names, ",")
	return nil
}

func indexOf(list []string, name string) int {
	for i, s := range list {
		if s == name {
			return i
		}
	}
	return -1
}
