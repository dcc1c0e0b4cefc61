// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for ledger metrics.
var meter = otel.Meter("claimchain.ledger")

// Metric instruments for ledger operations.
var (
	lockWaitSeconds metric.Float64Histogram
	lockAttempts    metric.Int64Histogram
	staleReclaims   metric.Int64Counter
	writesTotal     metric.Int64Counter
	corruptTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		lockWaitSeconds, err = meter.Float64Histogram(
			"ledger_lock_wait_seconds",
			metric.WithDescription("Time spent waiting for the ledger lock"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lockAttempts, err = meter.Int64Histogram(
			"ledger_lock_attempts",
			metric.WithDescription("Lock attempts needed per acquisition"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		staleReclaims, err = meter.Int64Counter(
			"ledger_stale_lock_reclaims_total",
			metric.WithDescription("Total number of stale ledger locks removed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		writesTotal, err = meter.Int64Counter(
			"ledger_writes_total",
			metric.WithDescription("Total number of ledger snapshot writes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		corruptTotal, err = meter.Int64Counter(
			"ledger_corrupt_reads_total",
			metric.WithDescription("Total number of reads that found a corrupt ledger"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordLockWait records one lock acquisition outcome ("acquired" or "timeout").
func recordLockWait(ctx context.Context, waited time.Duration, attempt int, outcome string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	lockWaitSeconds.Record(ctx, waited.Seconds(), attrs)
	lockAttempts.Record(ctx, int64(attempt+1), attrs)
}

func recordStaleReclaim(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	staleReclaims.Add(ctx, 1)
}

func recordWrite(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	writesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func recordCorrupt(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	corruptTotal.Add(ctx, 1)
}
