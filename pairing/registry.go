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

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// localRegistration is a code whose live WebSocket connection is held
// on this server.
type localRegistration struct {
	publicKey    []byte
	connID       string
	registeredAt time.Time
}

// ownerPointer is the routing record this server keeps when it is the
// ring owner of hash(code) but the code's connection lives elsewhere
// (or, when holder == owner, here).
type ownerPointer struct {
	publicKey      []byte
	holderServerID string
	holderEndpoint string
}

// outgoingRequest remembers, on the requester's server, that a
// pair_request is outstanding so connection close or an explicit
// pair_cancel knows what to cancel. Routing to the target's holder is
// recomputed from the ring rather than cached, since the holder can
// change between request and cancel.
type outgoingRequest struct {
	targetCode string
}

// Registry is the short-code index and pair-request state machine.
// One Registry instance runs per server; it plays two roles
// simultaneously for different codes: holder (owns the live
// connection) and ring-owner (tracks where a code's connection lives,
// for routing). All exported methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	id        *identity.ServerIdentity
	endpoint  string
	ring      *hashring.Ring
	transport PeerTransport
	notifier  ClientNotifier
	cfg       config.ClientConfig

	local    map[string]*localRegistration
	owned    map[string]*ownerPointer
	pending  map[string][]*pendingRequest // keyed by targetCode, held where target is local
	outgoing map[string]*outgoingRequest  // keyed by requesterCode
	matched  map[string]string            // local code -> peer code, MATCHED state
}

// New creates a Registry. endpoint is this server's own reachable
// address, announced to the ring owner of a code when it differs from
// this server.
func New(id *identity.ServerIdentity, endpoint string, ring *hashring.Ring, transport PeerTransport, notifier ClientNotifier, cfg config.ClientConfig) *Registry {
	return &Registry{
		id:        id,
		endpoint:  endpoint,
		ring:      ring,
		transport: transport,
		notifier:  notifier,
		cfg:       cfg,
		local:     make(map[string]*localRegistration),
		owned:     make(map[string]*ownerPointer),
		pending:   make(map[string][]*pendingRequest),
		outgoing:  make(map[string]*outgoingRequest),
		matched:   make(map[string]string),
	}
}

// SetNotifier assigns the ClientNotifier after construction, for
// callers that must build the notifier from the Registry it wraps
// (clienthandler.Server needs a *Registry to exist before it can
// implement ClientNotifier itself).
func (r *Registry) SetNotifier(notifier ClientNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = notifier
}

func hashCode(code string) []byte {
	return []byte(code)
}

// ring owner lookup is intentionally a single primary owner, not the
// full replication factor: a pairing code's routing pointer only needs
// to survive as long as the holder's connection does, so redundancy
// across owners buys nothing once the holder disconnects.
func (r *Registry) owner(code string) (hashring.Node, bool) {
	return r.ring.PrimaryOwner(hashring.Hash(hashCode(code)))
}

// Register claims code for connID on this server. It rejects the code
// if it is already live anywhere in the cluster.
func (r *Registry) Register(ctx context.Context, code string, publicKey []byte, connID string) error {
	owner, ok := r.owner(code)
	if !ok {
		return fmt.Errorf("pairing: no ring owner available for code %s", code)
	}

	if owner.ServerID == r.id.ServerID {
		r.mu.Lock()
		if _, taken := r.owned[code]; taken {
			r.mu.Unlock()
			return fmt.Errorf("pairing: code %s already registered", code)
		}
		r.owned[code] = &ownerPointer{publicKey: publicKey, holderServerID: r.id.ServerID, holderEndpoint: r.endpoint}
		r.local[code] = &localRegistration{publicKey: publicKey, connID: connID, registeredAt: time.Now()}
		r.mu.Unlock()
		metrics.PairingCodesRegisteredTotal.Inc()
		return nil
	}

	resp, err := r.transport.Forward(ctx, owner.ServerID, &ForwardRequest{
		Kind:           ForwardReserve,
		Code:           code,
		PublicKey:      publicKey,
		HolderServerID: r.id.ServerID,
		HolderEndpoint: r.endpoint,
	})
	if err != nil {
		return fmt.Errorf("pairing: reserve code %s with owner %s: %w", code, owner.ServerID, err)
	}
	if !resp.OK {
		return fmt.Errorf("pairing: code %s already registered: %s", code, resp.Error)
	}

	r.mu.Lock()
	r.local[code] = &localRegistration{publicKey: publicKey, connID: connID, registeredAt: time.Now()}
	r.mu.Unlock()
	metrics.PairingCodesRegisteredTotal.Inc()
	return nil
}

// HandleReserve applies a ForwardReserve request on the ring owner:
// claim code for the requesting holder, or fail if already taken.
func (r *Registry) HandleReserve(req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.owned[req.Code]; taken {
		return &ForwardResponse{OK: false, Error: "code already registered"}
	}
	r.owned[req.Code] = &ownerPointer{
		publicKey:      req.PublicKey,
		holderServerID: req.HolderServerID,
		holderEndpoint: req.HolderEndpoint,
	}
	return &ForwardResponse{OK: true}
}

// HandleRelease applies a ForwardRelease request on the ring owner.
func (r *Registry) HandleRelease(req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owned, req.Code)
	return &ForwardResponse{OK: true}
}

// Unregister releases code: it cancels every pending request involving
// it (as requester or target) and frees the routing pointer, locally
// and with the owner if remote. Called on connection close and on
// explicit re-registration.
func (r *Registry) Unregister(ctx context.Context, code string) {
	r.mu.Lock()
	_, wasLocal := r.local[code]
	delete(r.local, code)
	delete(r.matched, code)
	r.mu.Unlock()
	if !wasLocal {
		return
	}

	r.cancelOutgoing(ctx, code)
	r.cancelIncoming(code, "")

	owner, ok := r.owner(code)
	if !ok {
		return
	}
	if owner.ServerID == r.id.ServerID {
		r.mu.Lock()
		delete(r.owned, code)
		r.mu.Unlock()
		return
	}
	if _, err := r.transport.Forward(ctx, owner.ServerID, &ForwardRequest{Kind: ForwardRelease, Code: code}); err != nil {
		logger.Warn("pairing: release forward failed", logger.String("code", code), logger.Error(err))
	}
}

// IsPaired reports whether code is currently in the MATCHED state, and
// its peer's code if so. Consumed by signaling as the `isPaired`
// capability (§4.8/§4.11 REDESIGN FLAGS: no back-pointer from pairing
// to signaling).
func (r *Registry) IsPaired(code string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.matched[code]
	return peer, ok
}

// Holder reports which server currently holds code's connection: this
// server if code is registered locally, or the remote holder recorded
// in the routing pointer if this server is code's ring owner. Consumed
// by signaling to decide whether to deliver a relay message locally or
// forward it.
func (r *Registry) Holder(code string) (serverID, endpoint string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, local := r.local[code]; local {
		return r.id.ServerID, r.endpoint, true
	}
	if p, owned := r.owned[code]; owned {
		return p.holderServerID, p.holderEndpoint, true
	}
	return "", "", false
}

// ConnID returns the local connection id backing code, if this server
// holds it.
func (r *Registry) ConnID(code string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.local[code]
	if !ok {
		return "", false
	}
	return l.connID, true
}
