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
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/ledger"
)

// DefaultSweepInterval is the sweeper period when none is given.
const DefaultSweepInterval = 30 * time.Second

// RunSweeper persists expiry every interval until ctx is done.
//
// # Description
//
// Optional. Every query and mutation already sweeps lazily; this only
// keeps the file on disk current for readers that do not go through the
// Manager (dashboards, external collaborators). Lock timeouts are logged
// and retried on the next tick. A corrupt ledger stops the sweeper since
// every later tick would fail the same way.
//
// # Outputs
//
//   - error: nil when ctx ends, or the ledger corruption error.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			switch {
			case err == nil:
				if n > 0 {
					m.logger.Debug("Sweeper expired chains", "count", n)
				}
			case errors.Is(err, ledger.ErrLedgerCorrupt):
				m.logger.Error("Sweeper stopping on corrupt ledger", "error", err)
				return err
			case ctx.Err() != nil:
				return nil
			default:
				m.logger.Warn("Sweep failed", "error", err)
			}
		}
	}
}
