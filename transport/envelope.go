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

// Package transport implements the signed server-to-server WebSocket
// link: handshake, duplicate-connection tiebreak, JSON framing,
// ping/pong keepalive and backoff reconnection.
package transport

import "encoding/json"

// EnvelopeKind identifies the payload carried by a steady-state frame.
type EnvelopeKind string

const (
	KindGossip         EnvelopeKind = "gossip"
	KindRVReplicate    EnvelopeKind = "rv_replicate"
	KindRVQueryForward EnvelopeKind = "rv_query_forward"
	KindPairForward    EnvelopeKind = "pair_forward"
	KindSignalForward  EnvelopeKind = "signal_forward"
)

// Envelope is the steady-state server-to-server frame. Payload is
// opaque to Transport: each Kind is owned by exactly one package
// (gossip, rendezvous, pairing, signaling) that marshals/unmarshals it.
type Envelope struct {
	Kind    EnvelopeKind    `json:"kind"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// frame is the outer wire type multiplexing handshake and steady-state
// traffic over one WebSocket connection.
type frame struct {
	Type      frameType     `json:"type"`
	Handshake *HandshakeMsg `json:"handshake,omitempty"`
	Envelope  *Envelope     `json:"envelope,omitempty"`
}

type frameType string

const (
	frameHandshake    frameType = "handshake"
	frameHandshakeAck frameType = "handshake_ack"
	frameEnvelope     frameType = "envelope"
	framePing         frameType = "ping"
	framePong         frameType = "pong"
)
