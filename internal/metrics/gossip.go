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
	// GossipSuspectTotal counts peers transitioned alive -> suspect.
	GossipSuspectTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "suspect_total",
			Help:      "Total number of peers marked suspect after a failed probe round",
		},
	)

	// GossipFailedTotal counts peers transitioned suspect -> failed.
	GossipFailedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "failed_total",
			Help:      "Total number of peers marked failed after the failure timeout elapsed",
		},
	)

	// GossipSendErrorsTotal counts failed attempts to deliver a gossip message.
	GossipSendErrorsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "send_errors_total",
			Help:      "Total number of gossip messages that failed to send",
		},
	)

	// GossipSignatureFailuresTotal counts inbound gossip messages dropped for a bad signature.
	GossipSignatureFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "signature_failures_total",
			Help:      "Total number of inbound gossip messages dropped for signature verification failure",
		},
	)

	// GossipStateUpdatesTotal counts membership entries changed via ApplyRemote.
	GossipStateUpdatesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "state_updates_total",
			Help:      "Total number of membership entries updated by reconciling remote gossip state",
		},
	)
)
