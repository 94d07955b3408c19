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
	"time"

	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// OnPairRequest handles an inbound pair_request from a locally
// connected requester. It locates targetCode's owner and either
// applies the local rule directly (owner co-located with the target's
// holder) or forwards once.
func (r *Registry) OnPairRequest(ctx context.Context, requesterCode, targetCode string) error {
	owner, ok := r.owner(targetCode)
	if !ok {
		r.errorTo(requesterCode, "no_route")
		return fmt.Errorf("pairing: no ring owner available for target %s", targetCode)
	}

	r.mu.Lock()
	r.outgoing[requesterCode] = &outgoingRequest{targetCode: targetCode}
	r.mu.Unlock()

	fwdReq := &ForwardRequest{
		Kind:              ForwardPairRequest,
		RequesterCode:     requesterCode,
		TargetCode:        targetCode,
		RequesterServerID: r.id.ServerID,
		RequesterEndpoint: r.endpoint,
	}

	var resp *ForwardResponse
	var err error
	if owner.ServerID == r.id.ServerID {
		resp = r.resolveAndApply(ctx, fwdReq)
	} else {
		resp, err = r.transport.Forward(ctx, owner.ServerID, fwdReq)
		if err != nil {
			metrics.PairingForwardFailuresTotal.Inc()
		}
	}

	if err != nil || resp == nil || !resp.OK {
		r.mu.Lock()
		delete(r.outgoing, requesterCode)
		r.mu.Unlock()
		reason := "target_unreachable"
		if resp != nil && resp.Error != "" {
			reason = resp.Error
		}
		r.errorTo(requesterCode, reason)
		if err != nil {
			return fmt.Errorf("pairing: pair_request for %s -> %s: %w", requesterCode, targetCode, err)
		}
		return fmt.Errorf("pairing: pair_request for %s -> %s: %s", requesterCode, targetCode, reason)
	}
	return nil
}

// HandleForwardPairRequest is invoked on a server that is either the
// ring owner of targetCode or, via a sub-forward, its actual holder.
func (r *Registry) HandleForwardPairRequest(ctx context.Context, req *ForwardRequest) *ForwardResponse {
	return r.resolveAndApply(ctx, req)
}

// resolveAndApply applies the pair_request local rule if this server
// holds targetCode's connection; otherwise, if this server is the
// ring owner tracking a remote holder, it forwards once more.
func (r *Registry) resolveAndApply(ctx context.Context, req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	_, isLocal := r.local[req.TargetCode]
	r.mu.Unlock()
	if isLocal {
		return r.applyHolderLocalRule(ctx, req.RequesterCode, req.TargetCode, req.RequesterServerID, req.RequesterEndpoint)
	}

	r.mu.Lock()
	pointer, owned := r.owned[req.TargetCode]
	r.mu.Unlock()
	if !owned {
		return &ForwardResponse{OK: false, Error: "unknown_code"}
	}

	resp, err := r.transport.Forward(ctx, pointer.holderServerID, req)
	if err != nil {
		metrics.PairingForwardFailuresTotal.Inc()
		return &ForwardResponse{OK: false, Error: "holder_unreachable"}
	}
	return resp
}

// applyHolderLocalRule applies the local rule for a pair_request
// whose target's connection is held on this server.
func (r *Registry) applyHolderLocalRule(_ context.Context, requesterCode, targetCode, requesterServerID, requesterEndpoint string) *ForwardResponse {
	r.mu.Lock()
	local, ok := r.local[targetCode]
	if !ok {
		r.mu.Unlock()
		return &ForwardResponse{OK: false, Error: "target_not_connected"}
	}
	if len(r.pending[targetCode]) >= r.cfg.MaxPendingRequestsPerTarget {
		r.mu.Unlock()
		return &ForwardResponse{OK: false, Error: "too_many_pending"}
	}

	now := time.Now()
	pr := &pendingRequest{
		requesterCode:     requesterCode,
		targetCode:        targetCode,
		requesterServer:   requesterServerID,
		requesterEndpoint: requesterEndpoint,
		issuedAt:          now,
		expireAt:          now.Add(r.cfg.PairRequestTimeout),
		warnAt:            now.Add(r.cfg.PairRequestTimeout - r.cfg.PairRequestWarningTime),
	}
	pr.warnTimer = time.AfterFunc(r.cfg.PairRequestTimeout-r.cfg.PairRequestWarningTime, func() {
		r.onWarn(targetCode, requesterCode)
	})
	pr.expireTimer = time.AfterFunc(r.cfg.PairRequestTimeout, func() {
		r.onExpire(targetCode, requesterCode)
	})
	r.pending[targetCode] = append(r.pending[targetCode], pr)
	connID := local.connID
	r.mu.Unlock()

	metrics.PairingRequestsTotal.Inc()
	r.notifier.NotifyPairIncoming(connID, requesterCode)
	return &ForwardResponse{OK: true}
}

func (r *Registry) errorTo(code, reason string) {
	r.mu.Lock()
	local, ok := r.local[code]
	r.mu.Unlock()
	if ok {
		r.notifier.NotifyPairError(local.connID, reason)
	}
}

// OnPairResponse handles a pair_response from a locally connected
// target for one of its pending requests.
func (r *Registry) OnPairResponse(ctx context.Context, targetCode, requesterCode string, accepted bool) error {
	pr := r.takePending(targetCode, requesterCode)
	if pr == nil {
		return fmt.Errorf("pairing: no pending request %s -> %s", requesterCode, targetCode)
	}
	stopTimers(pr)

	r.mu.Lock()
	local := r.local[targetCode]
	if accepted {
		r.matched[targetCode] = requesterCode
	}
	r.mu.Unlock()

	if accepted && local != nil {
		r.notifier.NotifyPairMatched(local.connID, requesterCode, false)
		metrics.PairingMatchedTotal.Inc()
	} else if local != nil {
		metrics.PairingRejectedTotal.Inc()
	}

	return r.deliverResponse(ctx, pr, accepted)
}

// HandleForwardPairResponse delivers an accept/reject decision to the
// requester's connection on the server that holds it.
func (r *Registry) HandleForwardPairResponse(req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	delete(r.outgoing, req.RequesterCode)
	local, ok := r.local[req.RequesterCode]
	if ok && req.Accepted {
		r.matched[req.RequesterCode] = req.TargetCode
	}
	r.mu.Unlock()

	if !ok {
		return &ForwardResponse{OK: true}
	}
	if req.Accepted {
		r.notifier.NotifyPairMatched(local.connID, req.TargetCode, true)
		metrics.PairingMatchedTotal.Inc()
	} else {
		r.notifier.NotifyPairRejected(local.connID)
		metrics.PairingRejectedTotal.Inc()
	}
	return &ForwardResponse{OK: true}
}

func (r *Registry) deliverResponse(ctx context.Context, pr *pendingRequest, accepted bool) error {
	if pr.requesterServer == r.id.ServerID {
		r.mu.Lock()
		delete(r.outgoing, pr.requesterCode)
		local, ok := r.local[pr.requesterCode]
		if ok && accepted {
			r.matched[pr.requesterCode] = pr.targetCode
		}
		r.mu.Unlock()
		if ok {
			if accepted {
				r.notifier.NotifyPairMatched(local.connID, pr.targetCode, true)
			} else {
				r.notifier.NotifyPairRejected(local.connID)
			}
		}
		return nil
	}

	_, err := r.transport.Forward(ctx, pr.requesterServer, &ForwardRequest{
		Kind:          ForwardPairResponse,
		RequesterCode: pr.requesterCode,
		TargetCode:    pr.targetCode,
		Accepted:      accepted,
	})
	if err != nil {
		metrics.PairingForwardFailuresTotal.Inc()
		logger.Warn("pairing: response forward failed",
			logger.String("requesterCode", pr.requesterCode),
			logger.String("requesterServer", pr.requesterServer),
			logger.Error(err))
	}
	return err
}

// OnPairCancel handles an explicit pair_cancel from a locally
// connected requester, or the synthetic cancellation issued when that
// connection closes.
func (r *Registry) OnPairCancel(ctx context.Context, requesterCode, targetCode string) {
	r.mu.Lock()
	delete(r.outgoing, requesterCode)
	r.mu.Unlock()

	owner, ok := r.owner(targetCode)
	if !ok {
		return
	}
	req := &ForwardRequest{Kind: ForwardPairCancel, RequesterCode: requesterCode, TargetCode: targetCode}
	if owner.ServerID == r.id.ServerID {
		r.HandleForwardPairCancel(req)
		return
	}
	if _, err := r.transport.Forward(ctx, owner.ServerID, req); err != nil {
		metrics.PairingForwardFailuresTotal.Inc()
		logger.Warn("pairing: cancel forward failed", logger.String("targetCode", targetCode), logger.Error(err))
	}
}

// HandleForwardPairCancel applies a pair_cancel on the server holding
// targetCode's connection, re-forwarding once if this server is the
// ring owner of targetCode but not its holder.
func (r *Registry) HandleForwardPairCancel(req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	_, isLocal := r.local[req.TargetCode]
	pointer, owned := r.owned[req.TargetCode]
	r.mu.Unlock()
	if !isLocal {
		if owned && pointer.holderServerID != r.id.ServerID {
			if _, err := r.transport.Forward(context.Background(), pointer.holderServerID, req); err != nil {
				metrics.PairingForwardFailuresTotal.Inc()
				logger.Warn("pairing: cancel forward failed", logger.String("targetCode", req.TargetCode), logger.Error(err))
			}
		}
		return &ForwardResponse{OK: true}
	}

	pr := r.takePending(req.TargetCode, req.RequesterCode)
	if pr == nil {
		return &ForwardResponse{OK: true}
	}
	stopTimers(pr)

	r.mu.Lock()
	local, ok := r.local[req.TargetCode]
	r.mu.Unlock()
	if ok {
		r.notifier.NotifyPairRejected(local.connID)
	}
	metrics.PairingRejectedTotal.Inc()
	return &ForwardResponse{OK: true}
}

func (r *Registry) onWarn(targetCode, requesterCode string) {
	r.mu.Lock()
	var pr *pendingRequest
	for _, p := range r.pending[targetCode] {
		if p.requesterCode == requesterCode {
			pr = p
			break
		}
	}
	r.mu.Unlock()
	if pr == nil {
		return
	}
	remaining := int(r.cfg.PairRequestWarningTime / time.Second)

	if pr.requesterServer == r.id.ServerID {
		r.mu.Lock()
		local, ok := r.local[requesterCode]
		r.mu.Unlock()
		if ok {
			r.notifier.NotifyPairWarning(local.connID, remaining)
		}
		return
	}
	if _, err := r.transport.Forward(context.Background(), pr.requesterServer, &ForwardRequest{
		Kind:             ForwardPairWarning,
		RequesterCode:    requesterCode,
		SecondsRemaining: remaining,
	}); err != nil {
		metrics.PairingForwardFailuresTotal.Inc()
		logger.Warn("pairing: warning forward failed", logger.String("requesterCode", requesterCode), logger.Error(err))
	}
}

// HandleForwardPairWarning delivers a near-expiry warning to the
// requester's local connection.
func (r *Registry) HandleForwardPairWarning(req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	local, ok := r.local[req.RequesterCode]
	r.mu.Unlock()
	if ok {
		r.notifier.NotifyPairWarning(local.connID, req.SecondsRemaining)
	}
	return &ForwardResponse{OK: true}
}

func (r *Registry) onExpire(targetCode, requesterCode string) {
	pr := r.takePending(targetCode, requesterCode)
	if pr == nil {
		return
	}
	metrics.PairingExpiredTotal.Inc()

	r.mu.Lock()
	local, ok := r.local[targetCode]
	r.mu.Unlock()
	if ok {
		r.notifier.NotifyPairExpired(local.connID)
	}

	if pr.requesterServer == r.id.ServerID {
		r.mu.Lock()
		delete(r.outgoing, requesterCode)
		reqLocal, reqOK := r.local[requesterCode]
		r.mu.Unlock()
		if reqOK {
			r.notifier.NotifyPairExpired(reqLocal.connID)
		}
		return
	}
	if _, err := r.transport.Forward(context.Background(), pr.requesterServer, &ForwardRequest{
		Kind:          ForwardPairExpired,
		RequesterCode: requesterCode,
	}); err != nil {
		metrics.PairingForwardFailuresTotal.Inc()
		logger.Warn("pairing: expiry forward failed", logger.String("requesterCode", requesterCode), logger.Error(err))
	}
}

// HandleForwardPairExpired delivers a timeout notice to the
// requester's local connection.
func (r *Registry) HandleForwardPairExpired(req *ForwardRequest) *ForwardResponse {
	r.mu.Lock()
	delete(r.outgoing, req.RequesterCode)
	local, ok := r.local[req.RequesterCode]
	r.mu.Unlock()
	if ok {
		r.notifier.NotifyPairExpired(local.connID)
	}
	return &ForwardResponse{OK: true}
}

// takePending removes and returns the pending request matching
// (targetCode, requesterCode), or nil if already resolved.
func (r *Registry) takePending(targetCode, requesterCode string) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pending[targetCode]
	for i, p := range list {
		if p.requesterCode == requesterCode {
			r.pending[targetCode] = append(list[:i], list[i+1:]...)
			return p
		}
	}
	return nil
}

func stopTimers(pr *pendingRequest) {
	if pr.warnTimer != nil {
		pr.warnTimer.Stop()
	}
	if pr.expireTimer != nil {
		pr.expireTimer.Stop()
	}
}

// cancelOutgoing cancels code's own outstanding pair_request, if any.
func (r *Registry) cancelOutgoing(ctx context.Context, code string) {
	r.mu.Lock()
	out, ok := r.outgoing[code]
	delete(r.outgoing, code)
	r.mu.Unlock()
	if ok {
		r.OnPairCancel(ctx, code, out.targetCode)
	}
}

// cancelIncoming cancels every pending request targeting code (as
// held locally), notifying each requester with pair_rejected. If
// requesterFilter is non-empty only that one request is cancelled.
func (r *Registry) cancelIncoming(code, requesterFilter string) {
	r.mu.Lock()
	list := r.pending[code]
	var remaining []*pendingRequest
	var toCancel []*pendingRequest
	for _, p := range list {
		if requesterFilter == "" || p.requesterCode == requesterFilter {
			toCancel = append(toCancel, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	r.pending[code] = remaining
	r.mu.Unlock()

	for _, pr := range toCancel {
		stopTimers(pr)
		metrics.PairingRejectedTotal.Inc()
		if pr.requesterServer == r.id.ServerID {
			r.mu.Lock()
			delete(r.outgoing, pr.requesterCode)
			local, ok := r.local[pr.requesterCode]
			r.mu.Unlock()
			if ok {
				r.notifier.NotifyPairRejected(local.connID)
			}
			continue
		}
		if _, err := r.transport.Forward(context.Background(), pr.requesterServer, &ForwardRequest{
			Kind:          ForwardPairResponse,
			RequesterCode: pr.requesterCode,
			TargetCode:    pr.targetCode,
			Accepted:      false,
		}); err != nil {
			metrics.PairingForwardFailuresTotal.Inc()
			logger.Warn("pairing: rejection forward failed", logger.String("requesterCode", pr.requesterCode), logger.Error(err))
		}
	}
}
