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
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const claimsTracerName = "claimchain.claims"

// Tracer provides OpenTelemetry tracing for claim operations.
//
// # Description
//
// When disabled, returns noop spans for zero overhead. A blocked claim
// is an expected outcome, not a failure, so it is recorded as an event
// rather than an error status.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new claims tracer.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(claimsTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// Start starts a span for a claim operation.
//
// # Inputs
//
//   - ctx: Parent context.
//   - op: Operation name, e.g. "claim", "release".
//   - agentID: Acting agent, empty for queries.
//
// # Outputs
//
//   - context.Context: Context with span attached.
//   - trace.Span: The span. Caller must pass it to End.
func (t *Tracer) Start(ctx context.Context, op, agentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	attrs = append(attrs, attribute.String("claims.agent_id", agentID))
	ctx, span := t.tracer.Start(ctx, "claims."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "starting claims operation",
		slog.String("op", op),
		slog.String("agent_id", agentID),
	)
	return ctx, span
}

// End completes a span, classifying err.
func (t *Tracer) End(span trace.Span, chain *Chain, err error) {
	if span == nil {
		return
	}
	defer span.End()

	var blocked *BlockedError
	switch {
	case errors.As(err, &blocked):
		span.AddEvent("blocked", trace.WithAttributes(
			attribute.Int("claims.blockers", len(blocked.Blocking)),
			attribute.StringSlice("claims.blocked_files", blocked.BlockedFiles()),
		))
		span.SetStatus(codes.Ok, "")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}

	if chain != nil {
		span.SetAttributes(
			attribute.String("claims.chain_id", chain.ID),
			attribute.Int("claims.files", len(chain.Files)),
			attribute.String("claims.status", string(chain.Status)),
		)
	}
}
