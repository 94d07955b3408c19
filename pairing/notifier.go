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

package pairing

// ClientNotifier is the narrow capability the registry needs from the
// client-facing connection layer: push one event to a connection
// identified by connId. The registry never touches a websocket
// directly; clienthandler owns framing and delivery order.
type ClientNotifier interface {
	NotifyPairIncoming(connID, fromCode string)
	NotifyPairMatched(connID, peerCode string, isInitiator bool)
	NotifyPairWarning(connID string, secondsRemaining int)
	NotifyPairExpired(connID string)
	NotifyPairRejected(connID string)
	NotifyPairError(connID, code string)
}
