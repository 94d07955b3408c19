package gossip

import (
	"context"
	"crypto/ed25519"
	"math/rand"
	"sync"
	"time"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
	"github.com/sage-x-project/vps-signal/store"
)

// PeerTransport is the narrow capability gossip needs from the
// server-to-server transport layer: send one signed message to a known
// peer. Transport owns connection lifecycle; gossip only needs delivery.
type PeerTransport interface {
	SendGossip(ctx context.Context, serverID string, msg *Message) error
}

// Config controls SWIM probe timing; it is config.GossipConfig verbatim.
type Config = config.GossipConfig

// SWIM runs the failure detector: one probe cycle per tick, periodic
// full state exchange, and piggybacked dissemination of membership
// deltas on every ping/ack.
type SWIM struct {
	cfg        Config
	membership *Membership
	id         *identity.ServerIdentity
	transport  PeerTransport

	mu        sync.Mutex
	seqNo     uint64
	pending   map[uint64]chan struct{}
	broadcast []StateUpdate

	stop chan struct{}
	done chan struct{}
}

// New creates a SWIM engine. Call Start to begin probing.
func New(cfg Config, membership *Membership, id *identity.ServerIdentity, transport PeerTransport) *SWIM {
	return &SWIM{
		cfg:        cfg,
		membership: membership,
		id:         id,
		transport:  transport,
		pending:    make(map[uint64]chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the probe and state-exchange tickers until ctx is
// cancelled or Stop is called.
func (s *SWIM) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the background tickers and waits for them to exit.
func (s *SWIM) Stop() {
	close(s.stop)
	<-s.done
}

func (s *SWIM) run(ctx context.Context) {
	defer close(s.done)

	probeTicker := time.NewTicker(s.cfg.Interval)
	defer probeTicker.Stop()
	exchangeTicker := time.NewTicker(s.cfg.StateExchangeInterval)
	defer exchangeTicker.Stop()
	gcTicker := time.NewTicker(s.cfg.GCHorizon / 4)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-probeTicker.C:
			s.probeCycle(ctx)
			s.reapSuspects()
		case <-exchangeTicker.C:
			s.stateExchange(ctx)
		case <-gcTicker.C:
			s.membership.GCFailed(s.cfg.GCHorizon)
		}
	}
}

// probeCycle picks one random alive peer, direct-pings it, and falls
// back to indirect probing through k other peers on timeout.
func (s *SWIM) probeCycle(ctx context.Context) {
	candidates := s.membership.AliveExcludingSelf()
	if len(candidates) == 0 {
		return
	}
	target := candidates[rand.Intn(len(candidates))]

	ack := s.awaitAck(ctx, target, s.cfg.ProbeTimeout)
	if ack {
		s.membership.RecordAck(target)
		return
	}

	indirectTargets := pickN(candidates, target, s.cfg.IndirectPingCount)
	for _, via := range indirectTargets {
		_ = s.sendMessage(ctx, via, MsgPingReq, target)
	}
	if len(indirectTargets) > 0 && s.awaitAck(ctx, target, s.cfg.ProbeTimeout) {
		s.membership.RecordAck(target)
		return
	}

	// Probe and indirect-probe timeouts advance the state machine; they
	// are not errors.
	if s.membership.MarkSuspect(target) {
		if entry, ok := s.membership.Get(target); ok {
			s.queueBroadcast(entry)
			logger.Warn("peer marked suspect", logger.String("server_id", target))
			metrics.GossipSuspectTotal.Inc()
		}
	}
}

// awaitAck sends a direct ping to target and waits up to timeout for an
// ack to arrive via HandleMessage.
func (s *SWIM) awaitAck(ctx context.Context, target string, timeout time.Duration) bool {
	seq := s.nextSeq()
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.pending[seq] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
	}()

	if err := s.sendMessageSeq(ctx, target, MsgPing, "", seq); err != nil {
		metrics.GossipSendErrorsTotal.Inc()
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *SWIM) reapSuspects() {
	changed := s.membership.PromoteExpiredSuspects(s.cfg.FailureTimeout)
	for _, id := range changed {
		if entry, ok := s.membership.Get(id); ok {
			s.queueBroadcast(entry)
			logger.Warn("peer marked failed", logger.String("server_id", id))
			metrics.GossipFailedTotal.Inc()
		}
	}
}

// stateExchange sends the full membership list to one random alive
// peer, who performs pairwise reconciliation.
func (s *SWIM) stateExchange(ctx context.Context) {
	candidates := s.membership.AliveExcludingSelf()
	if len(candidates) == 0 {
		return
	}
	target := candidates[rand.Intn(len(candidates))]

	msg := &Message{
		Type:      MsgState,
		SeqNo:     s.nextSeq(),
		From:      s.id.ServerID,
		Timestamp: time.Now(),
	}
	for _, e := range s.membership.Snapshot() {
		msg.State = append(msg.State, entryToUpdate(e))
	}
	s.sign(msg)
	if err := s.transport.SendGossip(ctx, target, msg); err != nil {
		metrics.GossipSendErrorsTotal.Inc()
	}
}

func (s *SWIM) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqNo++
	return s.seqNo
}

func (s *SWIM) queueBroadcast(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast = append(s.broadcast, entryToUpdate(e))
	if len(s.broadcast) > 64 {
		s.broadcast = s.broadcast[len(s.broadcast)-64:]
	}
}

func (s *SWIM) drainBroadcast() []StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.broadcast) == 0 {
		return nil
	}
	out := s.broadcast
	s.broadcast = nil
	return out
}

func (s *SWIM) sendMessage(ctx context.Context, target string, typ MessageType, pingTarget string) error {
	return s.sendMessageSeq(ctx, target, typ, pingTarget, s.nextSeq())
}

func (s *SWIM) sendMessageSeq(ctx context.Context, target string, typ MessageType, pingTarget string, seq uint64) error {
	msg := &Message{
		Type:      typ,
		SeqNo:     seq,
		From:      s.id.ServerID,
		Target:    pingTarget,
		State:     s.drainBroadcast(),
		Timestamp: time.Now(),
	}
	s.sign(msg)
	return s.transport.SendGossip(ctx, target, msg)
}

func (s *SWIM) sign(msg *Message) {
	sig, _, err := s.id.Sign(msg.payload())
	if err != nil {
		logger.ErrorMsg("failed to sign gossip message", logger.Error(err))
		return
	}
	msg.Signature = sig
}

// HandleMessage processes an inbound signed SWIM message. peerPublicKey
// must be the sender's verified Ed25519 public key (the transport layer
// resolves and caches this at handshake time).
func (s *SWIM) HandleMessage(ctx context.Context, peerPublicKey ed25519.PublicKey, msg *Message) {
	if err := identity.Verify(peerPublicKey, msg.payload(), msg.Signature); err != nil {
		metrics.GossipSignatureFailuresTotal.Inc()
		return
	}

	selfID := s.membership.SelfID()
	for _, su := range msg.State {
		remote := updateToEntry(su)
		if s.membership.ApplyRemote(remote) {
			metrics.GossipStateUpdatesTotal.Inc()
		}
		// Refute a suspect/failed rumor about this server by raising its
		// own incarnation past the rumor's and broadcasting alive.
		if remote.ServerID == selfID && (remote.Status == store.StatusSuspect || remote.Status == store.StatusFailed) &&
			remote.Incarnation >= s.membership.Self().Incarnation {
			s.queueBroadcast(s.membership.IncrementSelfIncarnation())
		}
	}

	switch msg.Type {
	case MsgPing:
		s.membership.RecordAck(msg.From)
		_ = s.sendMessageSeq(ctx, msg.From, MsgAck, "", msg.SeqNo)
	case MsgAck:
		s.membership.RecordAck(msg.From)
		s.mu.Lock()
		ch, ok := s.pending[msg.SeqNo]
		s.mu.Unlock()
		if ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	case MsgPingReq:
		if msg.Target == "" {
			return
		}
		_ = s.sendMessageSeq(ctx, msg.Target, MsgPing, "", msg.SeqNo)
	case MsgState:
		// state already applied above; nothing further to do
	}
}

func pickN(candidates []string, exclude string, n int) []string {
	filtered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != exclude {
			filtered = append(filtered, c)
		}
	}
	rand.Shuffle(len(filtered), func(i, j int) { filtered[i], filtered[j] = filtered[j], filtered[i] })
	if n > len(filtered) {
		n = len(filtered)
	}
	return filtered[:n]
}
