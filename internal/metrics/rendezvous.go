// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RendezvousDailyPointPublishTotal counts publishDailyPoint calls.
	RendezvousDailyPointPublishTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "daily_point_publish_total",
			Help:      "Total number of daily point publish operations",
		},
	)

	// RendezvousHourlyTokenPublishTotal counts publishHourlyToken calls.
	RendezvousHourlyTokenPublishTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "hourly_token_publish_total",
			Help:      "Total number of hourly token publish operations",
		},
	)

	// RendezvousReplicationFailuresTotal counts failed fan-out writes to a remote owner.
	RendezvousReplicationFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "replication_failures_total",
			Help:      "Total number of replicated writes that failed to reach a remote owner",
		},
	)

	// RendezvousQueryForwardFailuresTotal counts failed query forwards to a remote owner.
	RendezvousQueryForwardFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "query_forward_failures_total",
			Help:      "Total number of query forwards that failed to reach a remote owner",
		},
	)

	// RendezvousRelayAnnounceTotal counts relay registry announcements.
	RendezvousRelayAnnounceTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rendezvous",
			Name:      "relay_announce_total",
			Help:      "Total number of relay announce operations",
		},
	)
)
