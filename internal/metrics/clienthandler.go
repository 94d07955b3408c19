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
	// ClientConnectionsTotal counts accepted client WebSocket upgrades.
	ClientConnectionsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connections_total",
			Help:      "Total number of client WebSocket connections accepted",
		},
	)

	// ClientDisconnectionsTotal counts client connections that closed.
	ClientDisconnectionsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "disconnections_total",
			Help:      "Total number of client WebSocket connections closed",
		},
	)

	// ClientUnknownTypeTotal counts inbound frames with an unrecognized type.
	ClientUnknownTypeTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "unknown_type_total",
			Help:      "Total number of inbound client frames with an unrecognized type",
		},
	)

	// ClientRateLimitedTotal counts connections closed for exceeding the rate limit.
	ClientRateLimitedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "rate_limited_total",
			Help:      "Total number of client connections closed for exceeding the rate limit",
		},
	)
)
