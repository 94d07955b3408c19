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

// Package signaling relays WebRTC offer/answer/ice_candidate messages
// between two already-paired clients, rewriting the envelope but never
// inspecting the payload.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// MessageType enumerates the signaling message types this relay
// accepts.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice_candidate"
)

func validType(t MessageType) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}

// PairLookup is the narrow capability signaling needs from
// PairingRegistry: whether a code is currently matched, and to whom.
// This is the one-directional dependency the spec calls for — no
// back-pointer from pairing into signaling.
type PairLookup interface {
	IsPaired(code string) (string, bool)
}

// Locator is the narrow capability signaling needs to find where a
// paired code's connection currently lives.
type Locator interface {
	Holder(code string) (serverID, endpoint string, ok bool)
	ConnID(code string) (string, bool)
}

// PeerTransport is the narrow capability signaling needs from the
// server-to-server transport layer: forward one relay message to the
// server holding the target's connection.
type PeerTransport interface {
	ForwardSignal(ctx context.Context, serverID string, msg *ForwardMessage) error
}

// ClientNotifier is the narrow capability signaling needs from the
// client-facing connection layer: deliver one inbound relay message to
// a connection.
type ClientNotifier interface {
	DeliverSignal(connID string, msg *InboundMessage)
}

// ForwardMessage is the wire shape carried inside transport's
// signal_forward envelope (§6.2).
type ForwardMessage struct {
	Type       MessageType     `json:"type"`
	FromCode   string          `json:"fromCode"`
	TargetCode string          `json:"targetCode"`
	Payload    json.RawMessage `json:"payload"`
}

// InboundMessage is delivered to the target's own connection, target
// rewritten to from per §4.8.
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Relay validates sender/target pairing and forwards one signaling
// message, locally or across servers.
type Relay struct {
	id        *identity.ServerIdentity
	pairs     PairLookup
	locator   Locator
	transport PeerTransport
	notifier  ClientNotifier
}

// New creates a Relay.
func New(id *identity.ServerIdentity, pairs PairLookup, locator Locator, transport PeerTransport, notifier ClientNotifier) *Relay {
	return &Relay{id: id, pairs: pairs, locator: locator, transport: transport, notifier: notifier}
}

// SetNotifier assigns the ClientNotifier after construction, for
// callers that must build the notifier from the Relay it wraps.
// Must be called before any goroutine starts driving Send/HandleForward.
func (r *Relay) SetNotifier(notifier ClientNotifier) {
	r.notifier = notifier
}

// Send validates that senderCode and targetCode have completed a
// successful pair, then rewrites and delivers the message: target is
// replaced with from = senderCode, payload passes through untouched.
func (r *Relay) Send(ctx context.Context, senderCode string, msgType MessageType, targetCode string, payload json.RawMessage) error {
	if !validType(msgType) {
		return fmt.Errorf("signaling: unknown message type %q", msgType)
	}
	peer, paired := r.pairs.IsPaired(senderCode)
	if !paired || peer != targetCode {
		metrics.SignalingUnpairedRejectedTotal.Inc()
		return fmt.Errorf("signaling: %s and %s have not completed a pair", senderCode, targetCode)
	}

	serverID, _, ok := r.locator.Holder(targetCode)
	if !ok {
		return fmt.Errorf("signaling: no known holder for target %s", targetCode)
	}

	if serverID == r.id.ServerID {
		connID, ok := r.locator.ConnID(targetCode)
		if !ok {
			return fmt.Errorf("signaling: target %s not connected here", targetCode)
		}
		r.notifier.DeliverSignal(connID, &InboundMessage{Type: msgType, From: senderCode, Payload: payload})
		metrics.SignalingRelayedTotal.Inc()
		return nil
	}

	if err := r.transport.ForwardSignal(ctx, serverID, &ForwardMessage{
		Type:       msgType,
		FromCode:   senderCode,
		TargetCode: targetCode,
		Payload:    payload,
	}); err != nil {
		metrics.SignalingForwardFailuresTotal.Inc()
		return fmt.Errorf("signaling: forward to %s: %w", serverID, err)
	}
	metrics.SignalingRelayedTotal.Inc()
	return nil
}

// HandleForward applies an inbound signal_forward: deliver msg to the
// local connection backing msg.TargetCode.
func (r *Relay) HandleForward(msg *ForwardMessage) error {
	connID, ok := r.locator.ConnID(msg.TargetCode)
	if !ok {
		return fmt.Errorf("signaling: forwarded target %s not connected here", msg.TargetCode)
	}
	r.notifier.DeliverSignal(connID, &InboundMessage{Type: msg.Type, From: msg.FromCode, Payload: msg.Payload})
	return nil
}
