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
	// PairingCodesRegisteredTotal counts successful code registrations.
	PairingCodesRegisteredTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "codes_registered_total",
			Help:      "Total number of pairing codes successfully registered",
		},
	)

	// PairingRequestsTotal counts pair_request messages accepted into the state machine.
	PairingRequestsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "requests_total",
			Help:      "Total number of pair_request messages accepted into the state machine",
		},
	)

	// PairingMatchedTotal counts requests that reached the MATCHED terminal state.
	PairingMatchedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "matched_total",
			Help:      "Total number of pair requests that reached the matched state",
		},
	)

	// PairingRejectedTotal counts requests that reached the REJECTED terminal state.
	PairingRejectedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "rejected_total",
			Help:      "Total number of pair requests rejected or cancelled",
		},
	)

	// PairingExpiredTotal counts requests that reached the EXPIRED terminal state.
	PairingExpiredTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "expired_total",
			Help:      "Total number of pair requests that timed out",
		},
	)

	// PairingForwardFailuresTotal counts failed cross-server pairing forwards.
	PairingForwardFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "forward_failures_total",
			Help:      "Total number of cross-server pairing forwards that failed",
		},
	)
)
