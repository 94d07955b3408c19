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

package transport

import (
	"fmt"
	"time"

	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// HandshakeMsg is the signed server identity exchanged by both sides of
// a new server-to-server connection.
type HandshakeMsg struct {
	ServerID  string            `json:"serverId"`
	NodeID    string            `json:"nodeId"`
	Endpoint  string            `json:"endpoint"`
	PublicKey []byte            `json:"publicKey"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Signature []byte            `json:"signature,omitempty"`
}

// handshakePayload excludes Signature itself from what gets signed.
type handshakePayload struct {
	ServerID  string            `json:"serverId"`
	NodeID    string            `json:"nodeId"`
	Endpoint  string            `json:"endpoint"`
	PublicKey []byte            `json:"publicKey"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (h *HandshakeMsg) payload() handshakePayload {
	return handshakePayload{
		ServerID:  h.ServerID,
		NodeID:    h.NodeID,
		Endpoint:  h.Endpoint,
		PublicKey: h.PublicKey,
		Metadata:  h.Metadata,
		Timestamp: h.Timestamp,
	}
}

// newHandshake builds and signs this server's handshake frame.
func newHandshake(id *identity.ServerIdentity, endpoint string) (*HandshakeMsg, error) {
	h := &HandshakeMsg{
		ServerID:  id.ServerID,
		NodeID:    id.NodeID,
		Endpoint:  endpoint,
		PublicKey: id.PublicKey,
		Timestamp: time.Now(),
	}
	start := time.Now()
	sig, _, err := id.Sign(h.payload())
	metrics.CryptoOperationDuration.WithLabelValues("sign", "ed25519").Observe(time.Since(start).Seconds())
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return nil, fmt.Errorf("transport: sign handshake: %w", err)
	}
	h.Signature = sig
	return h, nil
}

// verifyHandshake checks that h's serverId decodes to the public key it
// carries and that the signature verifies against that key.
func verifyHandshake(h *HandshakeMsg) error {
	pub, err := identity.DecodePublicKey(h.ServerID)
	if err != nil {
		return fmt.Errorf("transport: invalid serverId: %w", err)
	}
	if string(pub) != string(h.PublicKey) {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return fmt.Errorf("transport: serverId does not match carried publicKey")
	}

	start := time.Now()
	err = identity.Verify(pub, h.payload(), h.Signature)
	metrics.CryptoOperationDuration.WithLabelValues("verify", "ed25519").Observe(time.Since(start).Seconds())
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return fmt.Errorf("transport: handshake signature invalid: %w", err)
	}
	return nil
}
