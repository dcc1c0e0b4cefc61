// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("claimchain.depgraph")

var (
	scanDuration metric.Float64Histogram
	scanFiles    metric.Int64Histogram
	scanErrors   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scanDuration, err = meter.Float64Histogram(
			"depgraph_scan_duration_seconds",
			metric.WithDescription("Duration of dependency graph scans"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scanFiles, err = meter.Int64Histogram(
			"depgraph_scan_files",
			metric.WithDescription("Number of source files per scan"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scanErrors, err = meter.Int64Counter(
			"depgraph_parse_errors_total",
			metric.WithDescription("Files that failed to parse during scans"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordScan(ctx context.Context, g *Graph) {
	if err := initMetrics(); err != nil {
		return
	}
	scanDuration.Record(ctx, g.duration.Seconds())
	scanFiles.Record(ctx, int64(len(g.nodes)))
	if n := len(g.parseErrors); n > 0 {
		scanErrors.Add(ctx, int64(n))
	}
}
