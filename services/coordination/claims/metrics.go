// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package claims

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for claim metrics.
var meter = otel.Meter("claimchain.claims")

// Metric instruments for claim operations.
var (
	claimsGranted  metric.Int64Counter
	claimsBlocked  metric.Int64Counter
	claimFiles     metric.Int64Histogram
	chainsFinished metric.Int64Counter
	chainsExpired  metric.Int64Counter
	chainsExtended metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
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

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		claimsGranted, err = meter.Int64Counter(
			"claims_granted_total",
			metric.WithDescription("Total number of claim chains granted"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		claimsBlocked, err = meter.Int64Counter(
			"claims_blocked_total",
			metric.WithDescription("Total number of claim requests rejected by an overlap"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		claimFiles, err = meter.Int64Histogram(
			"claims_files_per_chain",
			metric.WithDescription("Number of files reserved per granted chain"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		chainsFinished, err = meter.Int64Counter(
			"claims_chains_finished_total",
			metric.WithDescription("Total number of chains released or completed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		chainsExpired, err = meter.Int64Counter(
			"claims_chains_expired_total",
			metric.WithDescription("Total number of chains flipped to expired by a persisted sweep"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		chainsExtended, err = meter.Int64Counter(
			"claims_chains_extended_total",
			metric.WithDescription("Total number of lease extensions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordGranted(ctx context.Context, files int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	claimsGranted.Add(ctx, 1)
	claimFiles.Record(ctx, int64(files))
}

func recordBlocked(ctx context.Context, blockers int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	claimsBlocked.Add(ctx, 1, metric.WithAttributes(attribute.Int("blockers", blockers)))
}

func recordFinished(ctx context.Context, status Status, n int) {
	if !metricsEnabled.Load() || n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	chainsFinished.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", string(status))))
}

func recordExpired(ctx context.Context, n int) {
	if !metricsEnabled.Load() || n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	chainsExpired.Add(ctx, int64(n))
}

func recordExtended(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	chainsExtended.Add(ctx, 1)
}
