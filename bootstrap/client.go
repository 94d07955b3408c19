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

// Package bootstrap registers this server with a directory service on
// startup, heartbeats it periodically to stay listed, and deregisters
// on shutdown. It is a best-effort collaborator: registration in Run
// retries with capped exponential backoff, a failed heartbeat waits for
// the next tick, and none of its failures are fatal to the server
// process.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
)

// Client registers with and heartbeats against a directory service
// over REST, and runs a background loop that keeps the registration
// alive until its context is cancelled.
type Client struct {
	id   *identity.ServerIdentity
	cfg  config.BootstrapConfig
	self PeerInfo

	httpClient *http.Client
}

// New creates a Client advertising this server's endpoint and region
// to the directory at cfg.ServerURL.
func New(id *identity.ServerIdentity, cfg config.BootstrapConfig, endpoint, region string) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		id:  id,
		cfg: cfg,
		self: PeerInfo{
			ServerID:  id.ServerID,
			Endpoint:  endpoint,
			PublicKey: []byte(id.PublicKey),
			Region:    region,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Register performs the one-time POST /servers call.
func (c *Client) Register(ctx context.Context) ([]PeerInfo, error) {
	req := registerRequest{ServerID: c.self.ServerID, Endpoint: c.self.Endpoint, PublicKey: c.self.PublicKey, Region: c.self.Region}
	var resp registerResponse
	if err := c.post(ctx, "/servers", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Heartbeat performs one POST /servers/heartbeat call.
func (c *Client) Heartbeat(ctx context.Context) ([]PeerInfo, error) {
	req := heartbeatRequest{ServerID: c.self.ServerID}
	var resp heartbeatResponse
	if err := c.post(ctx, "/servers/heartbeat", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Deregister performs DELETE /servers/:id. Callers should give it a
// short-lived context independent of the main shutdown context, since
// shutdown typically cancels that one first.
func (c *Client) Deregister(ctx context.Context) error {
	url := c.cfg.ServerURL + "/servers/" + c.self.ServerID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: build deregister request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap: deregister request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bootstrap: deregister HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("bootstrap: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("bootstrap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bootstrap: read response from %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bootstrap: %s HTTP %d: %s", path, resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("bootstrap: decode response from %s: %w", path, err)
	}
	return nil
}

// Run registers, then heartbeats on cfg.HeartbeatInterval until ctx is
// cancelled, calling onPeers with every peer list the directory
// returns (register or heartbeat alike) so the caller can seed or
// refresh gossip membership. Registration retries with capped
// exponential backoff, without limit when cfg.MaxRetries is 0 and at
// most cfg.MaxRetries attempts otherwise (Run then returns without
// heartbeating); a failed heartbeat is logged and retried on the same
// ticker, not escalated.
func (c *Client) Run(ctx context.Context, onPeers func([]PeerInfo)) {
	if !c.registerWithRetry(ctx, onPeers) {
		return
	}

	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers, err := c.Heartbeat(ctx)
			if err != nil {
				logger.Warn("bootstrap: heartbeat failed", logger.Error(err))
				continue
			}
			if onPeers != nil {
				onPeers(peers)
			}
		}
	}
}

// registerWithRetry retries Register with capped exponential backoff
// until it succeeds, ctx is cancelled, or cfg.MaxRetries attempts (when
// non-zero) have failed. Returns false if it stopped without a
// successful registration.
func (c *Client) registerWithRetry(ctx context.Context, onPeers func([]PeerInfo)) bool {
	attempt := 0
	for {
		peers, err := c.Register(ctx)
		if err == nil {
			logger.Info("bootstrap: registered", logger.String("serverId", c.self.ServerID))
			if onPeers != nil {
				onPeers(peers)
			}
			return true
		}
		logger.Warn("bootstrap: register failed", logger.Error(err), logger.Int("attempt", attempt+1))

		attempt++
		if c.cfg.MaxRetries > 0 && attempt >= c.cfg.MaxRetries {
			logger.Error("bootstrap: giving up registration after max retries", logger.Int("attempts", attempt))
			return false
		}
		if !c.sleepBackoff(ctx, attempt) {
			return false
		}
	}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	base := c.cfg.RetryInterval
	if base <= 0 {
		base = 2 * time.Second
	}
	max := 60 * time.Second
	backoff := base * time.Duration(1<<uint(minInt(attempt, 20)))
	if backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int63n(int64(2*time.Second))) - time.Second
	wait := backoff + jitter
	if wait < 0 {
		wait = 0
	}
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
