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

import "encoding/json"

// typeEnvelope is decoded first from every inbound frame to discover
// which concrete message type to unmarshal into.
type typeEnvelope struct {
	Type string `json:"type"`
}

// Client->server message types not already owned by pairing/signaling.
const (
	typeRVPublishDaily  = "rv_publish_daily"
	typeRVPublishHourly = "rv_publish_hourly"
	typeRVQuery         = "rv_query"
	typeRelayAnnounce   = "relay_announce"
	typeRelayUpdate     = "relay_update"
	typePing            = "ping"
)

// Server->client message types not already owned by pairing/signaling.
const (
	typeServerInfo        = "server_info"
	typeRegistered        = "registered"
	typeRendezvousResult  = "rendezvous_result"
	typeRendezvousPartial = "rendezvous_partial"
	typePong              = "pong"
	typeError             = "error"
)

type rvPublishDailyMsg struct {
	Type      string `json:"type"`
	PointHash string `json:"pointHash"`
	DeadDrop  []byte `json:"deadDrop,omitempty"`
	RelayID   string `json:"relayId,omitempty"`
	TTLMs     int64  `json:"ttlMs"`
}

type rvPublishHourlyMsg struct {
	Type      string `json:"type"`
	TokenHash string `json:"tokenHash"`
	RelayID   string `json:"relayId,omitempty"`
	TTLMs     int64  `json:"ttlMs"`
}

type rvQueryMsg struct {
	Type         string   `json:"type"`
	DailyPoints  []string `json:"dailyPoints,omitempty"`
	HourlyTokens []string `json:"hourlyTokens,omitempty"`
}

type relayAnnounceMsg struct {
	Type           string `json:"type"`
	MaxConnections int    `json:"maxConnections"`
	PublicKey      []byte `json:"publicKey"`
}

type relayUpdateMsg struct {
	Type           string `json:"type"`
	ConnectedCount int    `json:"connectedCount"`
}

// signalOutboundMsg is the client->server shape shared by offer,
// answer and ice_candidate: {type, target, payload}.
type signalOutboundMsg struct {
	Type    string          `json:"type"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// serverInfoMsg is the first frame sent to every client, proving this
// server holds the private key behind serverId.
type serverInfoMsg struct {
	Type      string `json:"type"`
	ServerID  string `json:"serverId"`
	PublicKey []byte `json:"publicKey"`
	Nonce     string `json:"nonce"`
	Signature []byte `json:"signature"`
}

// serverInfoPayload is what gets signed; excludes Type and Signature.
type serverInfoPayload struct {
	ServerID string `json:"serverId"`
	Nonce    string `json:"nonce"`
}

type registeredMsg struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId"`
}

type liveMatch struct {
	PeerID    string `json:"peerId"`
	RelayID   string `json:"relayId,omitempty"`
	TokenHash string `json:"tokenHash,omitempty"`
	PointHash string `json:"pointHash,omitempty"`
}

type deadDrop struct {
	PeerID    string `json:"peerId"`
	PointHash string `json:"pointHash"`
	DeadDrop  []byte `json:"deadDrop"`
	RelayID   string `json:"relayId,omitempty"`
}

type redirectMsg struct {
	ServerID     string   `json:"serverId"`
	Endpoint     string   `json:"endpoint"`
	DailyPoints  []string `json:"dailyPoints,omitempty"`
	HourlyTokens []string `json:"hourlyTokens,omitempty"`
}

type rendezvousResultMsg struct {
	Type        string      `json:"type"`
	LiveMatches []liveMatch `json:"liveMatches"`
	DeadDrops   []deadDrop  `json:"deadDrops"`
}

type rendezvousPartialMsg struct {
	Type        string        `json:"type"`
	LiveMatches []liveMatch   `json:"liveMatches"`
	DeadDrops   []deadDrop    `json:"deadDrops"`
	Redirects   []redirectMsg `json:"redirects"`
}

type pongMsg struct {
	Type string `json:"type"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
