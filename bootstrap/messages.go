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

package bootstrap

// registerRequest is the body of POST /servers.
type registerRequest struct {
	ServerID  string `json:"serverId"`
	Endpoint  string `json:"endpoint"`
	PublicKey []byte `json:"publicKey"`
	Region    string `json:"region,omitempty"`
}

// heartbeatRequest is the body of POST /servers/heartbeat.
type heartbeatRequest struct {
	ServerID string `json:"serverId"`
}

// heartbeatResponse carries the directory's current view of the fleet,
// used to seed or refresh this server's gossip membership.
type heartbeatResponse struct {
	Peers []PeerInfo `json:"peers"`
}

// PeerInfo is one entry of the directory's fleet listing, as returned
// from a successful register or heartbeat call.
type PeerInfo struct {
	ServerID  string `json:"serverId"`
	Endpoint  string `json:"endpoint"`
	PublicKey []byte `json:"publicKey,omitempty"`
	Region    string `json:"region,omitempty"`
}

// registerResponse is the body returned from a successful POST /servers.
type registerResponse struct {
	Peers []PeerInfo `json:"peers"`
}
