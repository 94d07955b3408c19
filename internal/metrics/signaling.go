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
	// SignalingRelayedTotal counts offer/answer/ice_candidate messages
	// successfully delivered or forwarded.
	SignalingRelayedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "relayed_total",
			Help:      "Total number of signaling messages relayed between paired clients",
		},
	)

	// SignalingUnpairedRejectedTotal counts messages rejected because
	// sender and target have not completed a pair.
	SignalingUnpairedRejectedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "unpaired_rejected_total",
			Help:      "Total number of signaling messages rejected for lack of a completed pair",
		},
	)

	// SignalingForwardFailuresTotal counts failed cross-server signaling forwards.
	SignalingForwardFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "forward_failures_total",
			Help:      "Total number of cross-server signaling forwards that failed",
		},
	)
)
