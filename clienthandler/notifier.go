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

package clienthandler

import (
	"encoding/json"

	"github.com/sage-x-project/vps-signal/pairing"
	"github.com/sage-x-project/vps-signal/signaling"
)

// Server implements pairing.ClientNotifier and signaling.ClientNotifier
// by looking up the target connection and enqueueing a frame for it.
// Both engines call these from arbitrary goroutines (timer callbacks,
// forwarded-request handlers), so delivery must not assume it runs on
// the target connection's own readLoop.
var (
	_ pairing.ClientNotifier   = (*Server)(nil)
	_ signaling.ClientNotifier = (*Server)(nil)
)

func (s *Server) NotifyPairIncoming(connID, fromCode string) {
	if c, ok := s.connByID(connID); ok {
		c.send(&pairIncomingMsg{Type: pairing.TypePairIncoming, FromCode: fromCode})
	}
}

func (s *Server) NotifyPairMatched(connID, peerCode string, isInitiator bool) {
	if c, ok := s.connByID(connID); ok {
		c.send(&pairMatchedMsg{Type: pairing.TypePairMatched, PeerCode: peerCode, IsInitiator: isInitiator})
	}
}

func (s *Server) NotifyPairWarning(connID string, secondsRemaining int) {
	if c, ok := s.connByID(connID); ok {
		c.send(&pairWarningMsg{Type: pairing.TypePairWarning, SecondsRemaining: secondsRemaining})
	}
}

func (s *Server) NotifyPairExpired(connID string) {
	if c, ok := s.connByID(connID); ok {
		c.send(&pairExpiredMsg{Type: pairing.TypePairExpired})
	}
}

func (s *Server) NotifyPairRejected(connID string) {
	if c, ok := s.connByID(connID); ok {
		c.send(&pairRejectedMsg{Type: pairing.TypePairRejected})
	}
}

func (s *Server) NotifyPairError(connID, code string) {
	if c, ok := s.connByID(connID); ok {
		c.send(&pairErrorMsg{Type: pairing.TypePairError, Code: code})
	}
}

func (s *Server) DeliverSignal(connID string, msg *signaling.InboundMessage) {
	c, ok := s.connByID(connID)
	if !ok {
		return
	}
	c.send(&signalInboundMsg{Type: string(msg.Type), From: msg.From, Payload: msg.Payload})
}

// Wire types for the pairing server->client events. These duplicate
// the JSON shape of pairing's own event structs (pairing/messages.go)
// rather than reusing them directly: pairing's structs are its own
// server-to-server-forward vocabulary, while these are the
// client-facing wire format clienthandler owns.
type pairIncomingMsg struct {
	Type     string `json:"type"`
	FromCode string `json:"fromCode"`
}

type pairMatchedMsg struct {
	Type        string `json:"type"`
	PeerCode    string `json:"peerCode"`
	IsInitiator bool   `json:"isInitiator"`
}

type pairWarningMsg struct {
	Type             string `json:"type"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

type pairExpiredMsg struct {
	Type string `json:"type"`
}

type pairRejectedMsg struct {
	Type string `json:"type"`
}

type pairErrorMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type signalInboundMsg struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}
