// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NVIDIA/hpc-controller/pkg/controller/log"
)

const defaultMaxRetries = 4

// RetryingSink decorates a sink with bounded exponential backoff. The sink
// is idempotent on TimeStartPrev, so a retried event that already landed is
// reconciled downstream.
type RetryingSink struct {
	next       Sink
	maxRetries uint64
}

func NewRetryingSink(next Sink) *RetryingSink {
	return &RetryingSink{next: next, maxRetries: defaultMaxRetries}
}

func (s *RetryingSink) retry(op string, rec Record, fn func(Record) error) error {
	policy := backoff.WithMaxRetries(newPolicy(), s.maxRetries)
	err := backoff.Retry(func() error { return fn(rec) }, policy)
	if err != nil {
		log.InfraLogger.Errorf(
			"Accounting sink %s failed for reservation id %d: %v", op, rec.ID, err)
	}
	return err
}

func newPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	return policy
}

func (s *RetryingSink) AddReservation(rec Record) error {
	return s.retry("add", rec, s.next.AddReservation)
}

func (s *RetryingSink) ModifyReservation(rec Record) error {
	return s.retry("modify", rec, s.next.ModifyReservation)
}

func (s *RetryingSink) RemoveReservation(rec Record) error {
	return s.retry("remove", rec, s.next.RemoveReservation)
}
