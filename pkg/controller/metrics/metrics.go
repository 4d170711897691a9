// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hpc_controller"

var (
	activeReservations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "active",
		Help:      "Number of reservations currently registered",
	})
	reservationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "operations_total",
		Help:      "Reservation mutations by operation and result",
	}, []string{"operation", "result"})
	accessDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "access_denied_total",
		Help:      "Job requests denied access to a reservation",
	})
	checkpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "state",
		Name:      "checkpoint_duration_seconds",
		Help:      "Time spent writing the reservation state file",
		Buckets:   prometheus.DefBuckets,
	})
	checkpointFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "state",
		Name:      "checkpoint_failures_total",
		Help:      "Reservation state checkpoints that failed",
	})
)

func SetActiveReservations(n int) {
	activeReservations.Set(float64(n))
}

func CountOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	reservationOps.WithLabelValues(operation, result).Inc()
}

func CountAccessDenied() {
	accessDenials.Inc()
}

func ObserveCheckpoint(elapsed time.Duration, err error) {
	checkpointDuration.Observe(elapsed.Seconds())
	if err != nil {
		checkpointFailures.Inc()
	}
}
