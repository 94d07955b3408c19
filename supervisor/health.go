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

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/internal/logger"
)

// healthStatus is the lifecycle state of one registered check.
type healthStatus string

const (
	healthHealthy   healthStatus = "healthy"
	healthDegraded  healthStatus = "degraded"
	healthUnhealthy healthStatus = "unhealthy"
)

// healthCheckResult is the outcome of one named check.
type healthCheckResult struct {
	Name      string        `json:"name"`
	Status    healthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// healthCheckFunc is one registered health check.
type healthCheckFunc func(ctx context.Context) error

// healthChecker runs and caches a named set of checks, each bounded by
// a shared timeout, and reduces them to one overall status.
type healthChecker struct {
	mu       sync.RWMutex
	checks   map[string]healthCheckFunc
	timeout  time.Duration
	cacheTTL time.Duration
	cache    map[string]*cachedHealthResult
}

type cachedHealthResult struct {
	result    *healthCheckResult
	expiresAt time.Time
}

func newHealthChecker(timeout time.Duration) *healthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &healthChecker{
		checks:   make(map[string]healthCheckFunc),
		timeout:  timeout,
		cacheTTL: 5 * time.Second,
		cache:    make(map[string]*cachedHealthResult),
	}
}

func (h *healthChecker) register(name string, check healthCheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *healthChecker) checkOne(ctx context.Context, name string) (*healthCheckResult, error) {
	h.mu.RLock()
	check, ok := h.checks[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("health check not found: %s", name)
	}

	if cached := h.cached(name); cached != nil {
		return cached, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	result := &healthCheckResult{Name: name, Timestamp: time.Now(), Duration: time.Since(start)}
	if err != nil {
		result.Status = healthUnhealthy
		result.Message = err.Error()
		logger.Warn("health check failed", logger.String("name", name), logger.Error(err))
	} else {
		result.Status = healthHealthy
	}

	h.mu.Lock()
	h.cache[name] = &cachedHealthResult{result: result, expiresAt: time.Now().Add(h.cacheTTL)}
	h.mu.Unlock()

	return result, nil
}

func (h *healthChecker) cached(name string) *healthCheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.cache[name]
	if !ok || time.Now().After(c.expiresAt) {
		return nil
	}
	return c.result
}

// checkAll runs every registered check concurrently and returns the
// results keyed by name.
func (h *healthChecker) checkAll(ctx context.Context) map[string]*healthCheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()

	results := make(map[string]*healthCheckResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			result, err := h.checkOne(ctx, name)
			if err != nil {
				result = &healthCheckResult{Name: name, Status: healthUnhealthy, Message: err.Error(), Timestamp: time.Now()}
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// systemHealth is the overall health snapshot served at /health.
type systemHealth struct {
	Status    healthStatus                  `json:"status"`
	Timestamp time.Time                     `json:"timestamp"`
	Checks    map[string]*healthCheckResult `json:"checks"`
}

func (h *healthChecker) snapshot(ctx context.Context) *systemHealth {
	checks := h.checkAll(ctx)
	status := healthHealthy
	for _, c := range checks {
		if c.Status == healthUnhealthy {
			status = healthUnhealthy
			break
		}
	}
	return &systemHealth{Status: status, Timestamp: time.Now(), Checks: checks}
}

// registerChecks wires the standard set of checks for a running server:
// durable-store reachability and ring write quorum.
func (s *Supervisor) registerChecks() {
	s.health.register("store", func(ctx context.Context) error {
		return s.store.Ping(ctx)
	})
	s.health.register("ring_quorum", func(ctx context.Context) error {
		alive := 0
		for _, n := range s.ring.Nodes() {
			if n.Status == hashring.StatusAlive {
				alive++
			}
		}
		if alive < s.cfg.DHT.WriteQuorum {
			return fmt.Errorf("only %d alive node(s), need write quorum %d", alive, s.cfg.DHT.WriteQuorum)
		}
		return nil
	})
}
