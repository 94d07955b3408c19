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

// Package identity generates, persists and uses the server's Ed25519
// keypair: deriving the server's serverId/nodeId, signing canonicalized
// JSON, and verifying signatures from peers and clients.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/mr-tron/base58"

	"github.com/sage-x-project/vps-signal/internal/logger"
)

// ServerIdentity is the server's long-lived Ed25519 keypair plus the
// identifiers derived from it. serverId and nodeId must be
// bit-reproducible across implementations: serverId is "ed25519:" +
// base64-standard(publicKey); nodeId is the first 20 bytes of
// sha256(publicKey), hex-encoded.
type ServerIdentity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	ServerID   string
	NodeID     string

	ephemeralPrefix string
	ephemeralSeq    uint64
}

// Generate creates a fresh Ed25519 keypair and derives its identifiers.
func Generate(ephemeralPrefix string) (*ServerIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return fromKeyPair(pub, priv, ephemeralPrefix), nil
}

// LoadOrGenerate reads a keypair from keyPath (raw ed25519.PrivateKey
// seed, base64-encoded on a single line); if the file does not exist it
// generates a new keypair and persists it to keyPath so identity survives
// restarts, per the ServerIdentity invariant that serverId is stable.
func LoadOrGenerate(keyPath, ephemeralPrefix string) (*ServerIdentity, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		seed, decErr := base64.StdEncoding.DecodeString(string(trimNewline(data)))
		if decErr != nil {
			return nil, fmt.Errorf("identity: decode key file %s: %w", keyPath, decErr)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity: key file %s has wrong seed length %d", keyPath, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		logger.Info("loaded server identity", logger.String("key_path", keyPath))
		return fromKeyPair(pub, priv, ephemeralPrefix), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read key file %s: %w", keyPath, err)
	}

	id, genErr := Generate(ephemeralPrefix)
	if genErr != nil {
		return nil, genErr
	}
	if err := id.persist(keyPath); err != nil {
		return nil, err
	}
	logger.Info("generated new server identity", logger.String("key_path", keyPath), logger.String("server_id", id.ServerID))
	return id, nil
}

func fromKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey, ephemeralPrefix string) *ServerIdentity {
	return &ServerIdentity{
		PublicKey:       pub,
		PrivateKey:      priv,
		ServerID:        DeriveServerID(pub),
		NodeID:          DeriveNodeID(pub),
		ephemeralPrefix: ephemeralPrefix,
	}
}

// DeriveServerID computes "ed25519:" + base64(publicKey).
func DeriveServerID(pub ed25519.PublicKey) string {
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub)
}

// DeriveNodeID computes the first 20 bytes of sha256(publicKey), hex-encoded.
func DeriveNodeID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:20])
}

// DisplayNodeID renders a hex-encoded nodeId as base58 for short,
// operator-facing CLI output. Stored and compared nodeIds stay hex;
// this is a presentation form only.
func DisplayNodeID(nodeID string) (string, error) {
	raw, err := hex.DecodeString(nodeID)
	if err != nil {
		return "", fmt.Errorf("identity: decode nodeId: %w", err)
	}
	return base58.Encode(raw), nil
}

// DecodePublicKey recovers the raw Ed25519 public key encoded inside a
// serverId of the form "ed25519:<base64>". Callers use this to verify
// that a claimed serverId is consistent with the public key it carries.
func DecodePublicKey(serverID string) (ed25519.PublicKey, error) {
	const prefix = "ed25519:"
	if len(serverID) <= len(prefix) || serverID[:len(prefix)] != prefix {
		return nil, fmt.Errorf("identity: serverId %q missing %q prefix", serverID, prefix)
	}
	raw, err := base64.StdEncoding.DecodeString(serverID[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("identity: decode serverId: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: serverId decodes to %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

func (id *ServerIdentity) persist(keyPath string) error {
	if dir := filepath.Dir(keyPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("identity: create key directory: %w", err)
		}
	}
	seed := id.PrivateKey.Seed()
	encoded := base64.StdEncoding.EncodeToString(seed) + "\n"
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("identity: write key file %s: %w", keyPath, err)
	}
	return nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// NextEphemeralID returns a monotonically-numbered, process-local
// identifier (e.g. for client connection IDs) with the configured prefix.
func (id *ServerIdentity) NextEphemeralID() string {
	n := atomic.AddUint64(&id.ephemeralSeq, 1)
	return fmt.Sprintf("%s-%d", id.ephemeralPrefix, n)
}

// Sign canonicalizes payload (sorted object keys, compact separators) and
// signs it with the server's private key.
func (id *ServerIdentity) Sign(payload interface{}) (signature []byte, canonical []byte, err error) {
	canonical, err = Canonicalize(payload)
	if err != nil {
		return nil, nil, err
	}
	return ed25519.Sign(id.PrivateKey, canonical), canonical, nil
}

// Verify checks that signature is a valid Ed25519 signature over the
// canonical JSON encoding of payload, produced by pub.
func Verify(pub ed25519.PublicKey, payload interface{}, signature []byte) error {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, canonical, signature) {
		return fmt.Errorf("identity: signature verification failed")
	}
	return nil
}

// VerifyBytes is the low-level counterpart of Verify for callers that
// already hold the exact bytes that were signed.
func VerifyBytes(pub ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(pub, message, signature) {
		return fmt.Errorf("identity: signature verification failed")
	}
	return nil
}

// Canonicalize marshals v to JSON with map keys sorted and no
// insignificant whitespace, so the same logical payload always produces
// the same byte string regardless of struct field order or map
// iteration order — a prerequisite for cross-implementation-reproducible
// signatures.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal payload: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("identity: unmarshal for canonicalization: %w", err)
	}
	return canonicalizeValue(generic), nil
}

func canonicalizeValue(v interface{}) []byte {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, canonicalizeValue(val[k])...)
		}
		out = append(out, '}')
		return out
	case []interface{}:
		out := []byte("[")
		for i, e := range val {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, canonicalizeValue(e)...)
		}
		out = append(out, ']')
		return out
	default:
		b, _ := json.Marshal(val)
		return b
	}
}
