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
	"context"
	"encoding/json"
	"time"

	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
	"github.com/sage-x-project/vps-signal/pairing"
	"github.com/sage-x-project/vps-signal/rendezvous"
	"github.com/sage-x-project/vps-signal/signaling"
	"github.com/sage-x-project/vps-signal/store"
)

// dispatch decodes raw's type field and routes to the matching
// handler. Inbound messages on one connection are handled one at a
// time by readLoop, so this never runs concurrently for the same
// connection — arrival order is preserved (§5).
func (s *Server) dispatch(ctx context.Context, c *connection, raw []byte) {
	var env typeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendProtocolError("bad_request")
		return
	}

	switch env.Type {
	case pairing.TypeRegister:
		s.handleRegister(ctx, c, raw)
	case pairing.TypePairRequest:
		s.handlePairRequest(ctx, c, raw)
	case pairing.TypePairResponse:
		s.handlePairResponse(ctx, c, raw)
	case pairing.TypePairCancel:
		s.handlePairCancel(ctx, c, raw)
	case string(signaling.TypeOffer), string(signaling.TypeAnswer), string(signaling.TypeICECandidate):
		s.handleSignal(ctx, c, env.Type, raw)
	case typeRVPublishDaily:
		s.handleRVPublishDaily(ctx, c, raw)
	case typeRVPublishHourly:
		s.handleRVPublishHourly(ctx, c, raw)
	case typeRVQuery:
		s.handleRVQuery(ctx, c, raw)
	case typeRelayAnnounce:
		s.handleRelayAnnounce(ctx, c, raw)
	case typeRelayUpdate:
		s.handleRelayUpdate(ctx, c, raw)
	case typePing:
		c.send(&pongMsg{Type: typePong})
	default:
		metrics.ClientUnknownTypeTotal.Inc()
		c.sendProtocolError("unknown_type")
	}
}

func (s *Server) connPeerID(c *connection) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registeredAs != "" {
		return c.registeredAs
	}
	return c.id
}

func (s *Server) handleRegister(ctx context.Context, c *connection, raw []byte) {
	var msg pairing.RegisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	if err := s.pairing.Register(ctx, msg.PairingCode, msg.PublicKey, c.id); err != nil {
		logger.Debug("clienthandler: register failed", logger.String("conn", c.id), logger.Error(err))
		c.sendError("already_registered", "")
		return
	}
	c.mu.Lock()
	c.registeredAs = msg.PairingCode
	c.mu.Unlock()
	c.send(&registeredMsg{Type: typeRegistered, ServerID: s.id.ServerID})
}

func (s *Server) handlePairRequest(ctx context.Context, c *connection, raw []byte) {
	var msg pairing.PairRequestMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	requesterCode := s.connPeerID(c)
	if err := s.pairing.OnPairRequest(ctx, requesterCode, msg.TargetCode); err != nil {
		logger.Debug("clienthandler: pair_request failed", logger.String("conn", c.id), logger.Error(err))
	}
}

func (s *Server) handlePairResponse(ctx context.Context, c *connection, raw []byte) {
	var msg pairing.PairResponseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	targetCode := s.connPeerID(c)
	if err := s.pairing.OnPairResponse(ctx, targetCode, msg.TargetCode, msg.Accepted); err != nil {
		logger.Debug("clienthandler: pair_response failed", logger.String("conn", c.id), logger.Error(err))
	}
}

func (s *Server) handlePairCancel(ctx context.Context, c *connection, raw []byte) {
	var msg pairing.PairCancelMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	requesterCode := s.connPeerID(c)
	s.pairing.OnPairCancel(ctx, requesterCode, msg.TargetCode)
}

func (s *Server) handleSignal(ctx context.Context, c *connection, msgType string, raw []byte) {
	var msg signalOutboundMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	senderCode := s.connPeerID(c)
	if err := s.signaling.Send(ctx, senderCode, signaling.MessageType(msgType), msg.Target, msg.Payload); err != nil {
		logger.Debug("clienthandler: signal relay failed", logger.String("conn", c.id), logger.Error(err))
		c.sendError("unpaired", "")
	}
}

func (s *Server) handleRVPublishDaily(ctx context.Context, c *connection, raw []byte) {
	var msg rvPublishDailyMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	peerID := s.connPeerID(c)
	ttl := time.Duration(msg.TTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = s.cleanup.DailyPointTTL
	}
	if _, err := s.rendezvous.PublishDailyPoint(ctx, msg.PointHash, peerID, msg.DeadDrop, msg.RelayID, ttl); err != nil {
		logger.Debug("clienthandler: publish daily point failed", logger.String("conn", c.id), logger.Error(err))
		c.sendError("publish_failed", "")
	}
}

func (s *Server) handleRVPublishHourly(ctx context.Context, c *connection, raw []byte) {
	var msg rvPublishHourlyMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	peerID := s.connPeerID(c)
	ttl := time.Duration(msg.TTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = s.cleanup.HourlyTokenTTL
	}
	if _, err := s.rendezvous.PublishHourlyToken(ctx, msg.TokenHash, peerID, msg.RelayID, ttl); err != nil {
		logger.Debug("clienthandler: publish hourly token failed", logger.String("conn", c.id), logger.Error(err))
		c.sendError("publish_failed", "")
	}
}

func (s *Server) handleRVQuery(ctx context.Context, c *connection, raw []byte) {
	var msg rvQueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}

	var liveMatches []liveMatch
	var deadDrops []deadDrop
	var redirects []redirectMsg
	partial := false

	for _, tokenHash := range msg.HourlyTokens {
		res, err := s.rendezvous.QueryHourlyToken(ctx, tokenHash)
		if err != nil {
			logger.Debug("clienthandler: query hourly token failed", logger.String("conn", c.id), logger.Error(err))
			continue
		}
		for _, e := range res.HourlyTokens {
			liveMatches = append(liveMatches, hourlyTokenToLiveMatch(e))
		}
		if len(res.Redirects) > 0 {
			partial = true
			redirects = mergeRedirects(redirects, res.Redirects, nil, []string{tokenHash})
		}
	}

	for _, pointHash := range msg.DailyPoints {
		res, err := s.rendezvous.QueryDailyPoint(ctx, pointHash)
		if err != nil {
			logger.Debug("clienthandler: query daily point failed", logger.String("conn", c.id), logger.Error(err))
			continue
		}
		for _, e := range res.DailyPoints {
			deadDrops = append(deadDrops, dailyPointToDeadDrop(e))
		}
		if len(res.Redirects) > 0 {
			partial = true
			redirects = mergeRedirects(redirects, res.Redirects, []string{pointHash}, nil)
		}
	}

	if partial {
		c.send(&rendezvousPartialMsg{Type: typeRendezvousPartial, LiveMatches: liveMatches, DeadDrops: deadDrops, Redirects: redirects})
		return
	}
	c.send(&rendezvousResultMsg{Type: typeRendezvousResult, LiveMatches: liveMatches, DeadDrops: deadDrops})
}

func hourlyTokenToLiveMatch(e *store.HourlyTokenEntry) liveMatch {
	return liveMatch{PeerID: e.PeerID, RelayID: e.RelayID, TokenHash: e.TokenHash}
}

func dailyPointToDeadDrop(e *store.DailyPointEntry) deadDrop {
	return deadDrop{PeerID: e.PeerID, PointHash: e.PointHash, DeadDrop: e.DeadDrop, RelayID: e.RelayID}
}

// mergeRedirects folds a query's per-key redirects into the
// accumulated list, combining entries for the same server across
// multiple query keys rather than emitting one redirect per key.
func mergeRedirects(into []redirectMsg, src []rendezvous.Redirect, pointHashes, tokenHashes []string) []redirectMsg {
	for _, r := range src {
		found := false
		for i := range into {
			if into[i].ServerID == r.ServerID {
				into[i].DailyPoints = append(into[i].DailyPoints, pointHashes...)
				into[i].HourlyTokens = append(into[i].HourlyTokens, tokenHashes...)
				found = true
				break
			}
		}
		if !found {
			into = append(into, redirectMsg{
				ServerID:     r.ServerID,
				Endpoint:     r.Endpoint,
				DailyPoints:  append([]string{}, pointHashes...),
				HourlyTokens: append([]string{}, tokenHashes...),
			})
		}
	}
	return into
}

func (s *Server) handleRelayAnnounce(ctx context.Context, c *connection, raw []byte) {
	var msg relayAnnounceMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	peerID := s.connPeerID(c)
	if _, err := s.rendezvous.AnnounceRelay(ctx, peerID, msg.MaxConnections, msg.PublicKey); err != nil {
		logger.Debug("clienthandler: relay announce failed", logger.String("conn", c.id), logger.Error(err))
		c.sendError("publish_failed", "")
	}
}

func (s *Server) handleRelayUpdate(ctx context.Context, c *connection, raw []byte) {
	var msg relayUpdateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendProtocolError("bad_request")
		return
	}
	peerID := s.connPeerID(c)
	if _, err := s.rendezvous.UpdateRelayLoad(ctx, peerID, msg.ConnectedCount); err != nil {
		logger.Debug("clienthandler: relay update failed", logger.String("conn", c.id), logger.Error(err))
		c.sendError("publish_failed", "")
	}
}
