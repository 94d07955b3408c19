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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// outboundQueueSize bounds each connection's pending-write buffer.
// Overflow closes the connection with slow_consumer (§5 backpressure).
const outboundQueueSize = 64

// protocolViolationLimit/-Window bound how many malformed or
// unrecognized frames a connection may send before it's treated as a
// repeat offender and closed (§7, §8 scenario 6).
const (
	protocolViolationLimit  = 6
	protocolViolationWindow = time.Minute
)

// connection is one client's live WebSocket session: frame I/O,
// per-connection rate limiting, and the outbound delivery queue that
// pairing/signaling/rendezvous push events onto via Server's notifier
// methods. Inbound messages are processed strictly in arrival order by
// the single readLoop goroutine; outbound messages are serialized by
// the single writeLoop goroutine draining outbox.
type connection struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	peerHost string

	limiter *rate.Limiter

	outbox chan []byte
	once   sync.Once
	closed chan struct{}

	mu           sync.Mutex
	registeredAs string // pairing code this connection has registered, if any

	protoViolations  int
	protoWindowStart time.Time
}

func newConnection(id string, wsConn *websocket.Conn, srv *Server) *connection {
	perMinute := srv.cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 100
	}
	return &connection{
		id:      id,
		conn:    wsConn,
		server:  srv,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		outbox:  make(chan []byte, outboundQueueSize),
		closed:  make(chan struct{}),
	}
}

// send enqueues a message for delivery; it never blocks the caller. A
// full queue means the client is not draining fast enough and the
// connection is closed with slow_consumer.
func (c *connection) send(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Warn("clienthandler: marshal outbound message failed", logger.String("conn", c.id), logger.Error(err))
		return
	}
	select {
	case c.outbox <- b:
	default:
		logger.Warn("clienthandler: outbound queue full, closing slow consumer", logger.String("conn", c.id))
		c.closeWithReason(websocket.CloseMessage, "slow_consumer")
	}
}

func (c *connection) sendError(code, message string) {
	c.send(&errorMsg{Type: typeError, Code: code, Message: message})
}

// sendProtocolError replies with a protocol-violation error (malformed
// JSON or an unrecognized message type) and counts it toward the
// repeat-offender close threshold.
func (c *connection) sendProtocolError(code string) {
	c.sendError(code, "")
	c.recordProtocolViolation()
}

// recordProtocolViolation tracks protocol violations in a fixed
// window that restarts once protocolViolationWindow has passed since it
// opened; once protocolViolationLimit is reached within one window the
// connection is closed as a repeat offender.
func (c *connection) recordProtocolViolation() {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.protoWindowStart) > protocolViolationWindow {
		c.protoWindowStart = now
		c.protoViolations = 0
	}
	c.protoViolations++
	tripped := c.protoViolations >= protocolViolationLimit
	c.mu.Unlock()

	if tripped {
		logger.Warn("clienthandler: repeated protocol violations, closing", logger.String("conn", c.id))
		c.closeWithReason(websocket.CloseMessage, "slow_consumer")
	}
}

// run drives the connection until either pump exits, then unregisters
// the connection's pairing code (see Server.unregisterAll). Relay
// announcements and rendezvous publications made over the connection
// are not removed when it closes.
func (c *connection) run() {
	defer c.server.removeConnection(c)
	defer c.server.unregisterAll(context.Background(), c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writeLoop() }()
	go func() { defer wg.Done(); c.readLoop() }()
	wg.Wait()
}

func (c *connection) readLoop() {
	defer c.closeConn()

	maxFrame := int64(c.server.cfg.MaxFrameBytes)
	if maxFrame <= 0 {
		maxFrame = 64 * 1024
	}
	c.conn.SetReadLimit(maxFrame)

	heartbeatTimeout := c.server.cfg.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.sendError("rate_limit", "")
			logger.Warn("clienthandler: rate limit exceeded, closing", logger.String("conn", c.id))
			metrics.ClientRateLimitedTotal.Inc()
			c.closeWithReason(websocket.CloseMessage, "slow_consumer")
			return
		}
		metrics.MessageSize.Observe(float64(len(raw)))
		start := time.Now()
		c.server.dispatch(context.Background(), c, raw)
		metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
		metrics.MessagesProcessed.WithLabelValues("text", "success").Inc()
	}
}

func (c *connection) writeLoop() {
	heartbeatInterval := c.server.cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-c.outbox:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *connection) closeWithReason(closeCode int, reason string) {
	_ = c.conn.WriteControl(closeCode, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(time.Second))
	c.closeConn()
}

func (c *connection) closeConn() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
