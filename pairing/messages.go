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

// Package pairing implements the short-code registry and pair-request
// state machine that lets two clients discover each other by a
// human-enterable code before any signaling traffic flows.
package pairing

import "time"

// ForwardKind selects which pairing operation a Forward envelope carries.
type ForwardKind string

const (
	// ForwardReserve asks the ring owner of a code to atomically claim
	// it for a holder server, failing if already claimed.
	ForwardReserve ForwardKind = "reserve"
	// ForwardRelease tells the ring owner a code is no longer held.
	ForwardRelease ForwardKind = "release"
	// ForwardPairRequest carries a pair_request for a code this server
	// does not itself hold; the receiver applies the local rule if it
	// holds the target, or re-forwards once to the actual holder.
	ForwardPairRequest ForwardKind = "pair_request"
	// ForwardPairCancel carries an explicit pair_cancel (or a
	// connection-close cancellation) from the requester's server to
	// whichever server holds the target's connection.
	ForwardPairCancel ForwardKind = "pair_cancel"
	// ForwardPairResponse carries the accept/reject decision back from
	// the target's holder to the requester's server.
	ForwardPairResponse ForwardKind = "pair_response"
	// ForwardPairWarning carries a near-expiry warning back from the
	// target's holder to the requester's server.
	ForwardPairWarning ForwardKind = "pair_warning"
	// ForwardPairExpired carries a timeout notice back from the
	// target's holder to the requester's server.
	ForwardPairExpired ForwardKind = "pair_expired"
)

// ForwardRequest is the single wire shape for every cross-server pairing
// operation; only the fields relevant to Kind are populated.
type ForwardRequest struct {
	Kind ForwardKind `json:"kind"`

	// Reserve / Release
	Code           string `json:"code,omitempty"`
	PublicKey      []byte `json:"publicKey,omitempty"`
	HolderServerID string `json:"holderServerId,omitempty"`
	HolderEndpoint string `json:"holderEndpoint,omitempty"`

	// PairRequest / PairCancel / PairResponse / PairWarning / PairExpired
	RequesterCode     string `json:"requesterCode,omitempty"`
	TargetCode        string `json:"targetCode,omitempty"`
	Accepted          bool   `json:"accepted,omitempty"`
	RequesterServerID string `json:"requesterServerId,omitempty"`
	RequesterEndpoint string `json:"requesterEndpoint,omitempty"`
	SecondsRemaining  int    `json:"secondsRemaining,omitempty"`
}

// ForwardResponse is the single wire shape for every cross-server
// pairing reply.
type ForwardResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client-facing message types, exchanged as single-line JSON objects
// over the WebSocket connection (see clienthandler).
const (
	TypeRegister     = "register"
	TypePairRequest  = "pair_request"
	TypePairResponse = "pair_response"
	TypePairCancel   = "pair_cancel"

	TypePairIncoming = "pair_incoming"
	TypePairMatched  = "pair_matched"
	TypePairWarning  = "pair_warning"
	TypePairExpired  = "pair_expired"
	TypePairRejected = "pair_rejected"
	TypePairError    = "pair_error"
)

// RegisterMessage is the inbound `register` message.
type RegisterMessage struct {
	Type        string `json:"type"`
	PairingCode string `json:"pairingCode"`
	PublicKey   []byte `json:"publicKey"`
}

// PairRequestMessage is the inbound `pair_request` message.
type PairRequestMessage struct {
	Type       string `json:"type"`
	TargetCode string `json:"targetCode"`
}

// PairResponseMessage is the inbound `pair_response` message.
type PairResponseMessage struct {
	Type       string `json:"type"`
	TargetCode string `json:"targetCode"`
	Accepted   bool   `json:"accepted"`
}

// PairCancelMessage is the inbound `pair_cancel` message.
type PairCancelMessage struct {
	Type       string `json:"type"`
	TargetCode string `json:"targetCode"`
}

// PairIncomingEvent notifies the target of a pending request.
type PairIncomingEvent struct {
	Type     string `json:"type"`
	FromCode string `json:"fromCode"`
}

// PairMatchedEvent notifies both sides a pair_request was accepted.
type PairMatchedEvent struct {
	Type        string `json:"type"`
	PeerCode    string `json:"peerCode"`
	IsInitiator bool   `json:"isInitiator"`
}

// PairWarningEvent notifies the requester a pending request is about to
// expire.
type PairWarningEvent struct {
	Type             string `json:"type"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

// PairExpiredEvent notifies both sides a pending request timed out.
type PairExpiredEvent struct {
	Type string `json:"type"`
}

// PairRejectedEvent notifies the requester the target declined or
// cancelled.
type PairRejectedEvent struct {
	Type string `json:"type"`
}

// PairErrorEvent reports a registry-level error (unknown code, already
// registered, request limit reached) back to the originating connection.
type PairErrorEvent struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// pendingRequest tracks one in-flight pair_request on the server that
// holds the target's connection.
type pendingRequest struct {
	requesterCode     string
	targetCode        string
	requesterServer   string // server holding the requester's connection
	requesterEndpoint string
	issuedAt          time.Time
	warnAt            time.Time
	expireAt          time.Time
	warnTimer         *time.Timer
	expireTimer       *time.Timer
}
