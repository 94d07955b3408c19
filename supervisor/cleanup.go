// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package supervisor

import (
	"context"
	"time"

	"github.com/sage-x-project/vps-signal/internal/logger"
)

// runCleanupSweep periodically deletes expired daily points and hourly
// tokens from the durable store, on cfg.Cleanup.Interval, until ctx is
// cancelled.
func (s *Supervisor) runCleanupSweep(ctx context.Context) {
	interval := s.cfg.Cleanup.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Supervisor) sweepExpired(ctx context.Context) {
	now := time.Now()
	rv := s.store.Rendezvous()

	// Entries carry their own expiresAt, computed at publish time from
	// the ttl the publisher supplied (defaulted to cfg.Cleanup.*TTL by
	// clienthandler when omitted, per §6.5). The sweep only needs to
	// purge what has already passed that deadline (§8: "Cleanup
	// correctness").
	if n, err := rv.DeleteExpiredDailyPoints(ctx, now); err != nil {
		logger.Warn("supervisor: cleanup daily points failed", logger.Error(err))
	} else if n > 0 {
		logger.Debug("supervisor: cleanup removed daily points", logger.Int("count", int(n)))
	}

	if n, err := rv.DeleteExpiredHourlyTokens(ctx, now); err != nil {
		logger.Warn("supervisor: cleanup hourly tokens failed", logger.Error(err))
	} else if n > 0 {
		logger.Debug("supervisor: cleanup removed hourly tokens", logger.Int("count", int(n)))
	}
}
