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

package rendezvous

import "github.com/sage-x-project/vps-signal/store"

// ReplicateKind selects which entity a ReplicateRequest carries.
type ReplicateKind string

const (
	ReplicateDailyPoint  ReplicateKind = "daily_point"
	ReplicateHourlyToken ReplicateKind = "hourly_token"
	ReplicateRelay       ReplicateKind = "relay"
)

// ReplicateRequest asks a remote owner to apply one write locally. Only
// the field matching Kind is populated.
type ReplicateRequest struct {
	Kind        ReplicateKind           `json:"kind"`
	DailyPoint  *store.DailyPointEntry  `json:"dailyPoint,omitempty"`
	HourlyToken *store.HourlyTokenEntry `json:"hourlyToken,omitempty"`
	Relay       *store.RelayEntry       `json:"relay,omitempty"`
}

// ReplicateResponse acknowledges a ReplicateRequest.
type ReplicateResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// QueryKind selects which entity a QueryRequest asks about.
type QueryKind string

const (
	QueryDailyPoint  QueryKind = "daily_point"
	QueryHourlyToken QueryKind = "hourly_token"
)

// QueryRequest asks a remote owner for every entry under one key.
type QueryRequest struct {
	Kind QueryKind `json:"kind"`
	Key  string    `json:"key"`
}

// QueryResponse carries whichever entity list matches the request Kind.
type QueryResponse struct {
	DailyPoints  []*store.DailyPointEntry  `json:"dailyPoints,omitempty"`
	HourlyTokens []*store.HourlyTokenEntry `json:"hourlyTokens,omitempty"`
}

// Redirect tells a client which other server to contact for the part of
// a rendezvous result this server could not reach or does not own.
type Redirect struct {
	ServerID     string   `json:"serverId"`
	Endpoint     string   `json:"endpoint"`
	DailyPoints  []string `json:"dailyPoints,omitempty"`
	HourlyTokens []string `json:"hourlyTokens,omitempty"`
}

// PartialResult is returned when fewer than the full replica set could
// be reached or owned locally: the matches actually found, plus
// redirects telling the caller where to look for the remainder.
type PartialResult struct {
	DailyPoints  []*store.DailyPointEntry
	HourlyTokens []*store.HourlyTokenEntry
	Redirects    []Redirect
}

// PublishResult reports how many of the replication factor's owners
// acknowledged a publish.
type PublishResult struct {
	Acked   int
	Needed  int
	Partial bool
}
