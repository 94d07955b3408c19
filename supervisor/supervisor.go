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

// Package supervisor owns the lifecycle of one vps-signal server
// process: it constructs every component (identity, store, ring,
// gossip, transport, pairing, signaling, rendezvous, clienthandler,
// bootstrap), wires them together, serves /health, /stats and
// /metrics, runs the periodic cleanup sweep, and tears everything
// down in bounded-parallel on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/vps-signal/bootstrap"
	"github.com/sage-x-project/vps-signal/clienthandler"
	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/gossip"
	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/pairing"
	"github.com/sage-x-project/vps-signal/rendezvous"
	"github.com/sage-x-project/vps-signal/signaling"
	"github.com/sage-x-project/vps-signal/store"
	"github.com/sage-x-project/vps-signal/store/memory"
	"github.com/sage-x-project/vps-signal/store/postgres"
	"github.com/sage-x-project/vps-signal/transport"
)

// Supervisor wires and runs every component of one server instance.
type Supervisor struct {
	cfg *config.Config
	id  *identity.ServerIdentity

	store store.Store
	ring  *hashring.Ring

	membership *gossip.Membership
	swim       *gossip.SWIM

	manager         *transport.Manager
	transportServer *transport.Server

	pairingRegistry *pairing.Registry
	relay           *signaling.Relay
	rvEngine        *rendezvous.Engine
	clientServer    *clienthandler.Server

	bootstrapClient *bootstrap.Client

	health  *healthChecker
	httpSrv *http.Server

	startedAt time.Time
}

// New constructs every component from cfg but starts nothing; call
// Run to bring the server up.
func New(cfg *config.Config) (*Supervisor, error) {
	id, err := identity.LoadOrGenerate(cfg.Identity.KeyPath, cfg.Identity.EphemeralIDPrefix)
	if err != nil {
		return nil, fmt.Errorf("supervisor: load identity: %w", err)
	}

	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open store: %w", err)
	}

	ring := hashring.New(cfg.DHT.VirtualNodes)
	ring.AddNode(hashring.Node{ServerID: id.ServerID, NodeID: id.NodeID, Endpoint: cfg.Network.PublicEndpoint, Status: hashring.StatusAlive})

	membership := gossip.NewMembership(id.ServerID, id.NodeID, cfg.Network.PublicEndpoint, []byte(id.PublicKey))

	manager := transport.NewManager(id, cfg.Transport)
	swim := gossip.New(cfg.Gossip, membership, id, manager)
	manager.WireGossip(swim)

	pairingRegistry := pairing.New(id, cfg.Network.PublicEndpoint, ring, manager, nil, cfg.Client)
	relay := signaling.New(id, pairingRegistry, pairingRegistry, manager, nil)
	rvEngine := rendezvous.New(id, ring, st.Rendezvous(), manager, cfg.DHT)

	clientServer := clienthandler.New(id, cfg.Client, cfg.Cleanup, pairingRegistry, relay, rvEngine)
	// pairingRegistry/relay were built with a nil notifier because
	// clientServer needs them to exist first; rewire now that it does.
	// Safe because neither is driven by any goroutine until Run starts.
	pairingRegistry.SetNotifier(clientServer)
	relay.SetNotifier(clientServer)

	manager.WirePairing(pairingRegistry)
	manager.WireRendezvous(rvEngine)
	manager.WireSignaling(relay)

	transportServer := transport.NewServer(id, cfg.Network.PublicEndpoint, manager, cfg.Transport.HandshakeTimeout, cfg.Transport.PingInterval, cfg.Transport.PongTimeout)

	var bootstrapClient *bootstrap.Client
	if cfg.Bootstrap.ServerURL != "" {
		bootstrapClient = bootstrap.New(id, cfg.Bootstrap, cfg.Network.PublicEndpoint, cfg.Network.Region)
	}

	s := &Supervisor{
		cfg:             cfg,
		id:              id,
		store:           st,
		ring:            ring,
		membership:      membership,
		swim:            swim,
		manager:         manager,
		transportServer: transportServer,
		pairingRegistry: pairingRegistry,
		relay:           relay,
		rvEngine:        rvEngine,
		clientServer:    clientServer,
		bootstrapClient: bootstrapClient,
		health:          newHealthChecker(cfg.Health.Timeout),
	}
	s.registerChecks()
	return s, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.NewStore(), nil
	case "postgres":
		return postgres.NewStore(context.Background(), cfg.Path)
	default:
		return nil, fmt.Errorf("supervisor: unknown storage type %q", cfg.Type)
	}
}

// Run starts every background component, serves HTTP until ctx is
// cancelled, then shuts down in bounded parallel. It returns once
// shutdown completes.
func (s *Supervisor) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.swim.Start(runCtx)
	go s.runCleanupSweep(runCtx)
	go s.runRingSync(runCtx)

	if s.bootstrapClient != nil {
		go s.bootstrapClient.Run(runCtx, s.onBootstrapPeers)
	}

	mux := s.buildMux()
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Network.Host, s.cfg.Network.Port),
		Handler: mux,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("supervisor: listening", logger.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			s.shutdown()
			return err
		}
	}

	cancel()
	return s.shutdown()
}

// shutdown tears down every component in bounded parallel, giving each
// at most a few seconds before moving on regardless of its outcome.
func (s *Supervisor) shutdown() error {
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	g, gctx := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		if s.httpSrv == nil {
			return nil
		}
		return s.httpSrv.Shutdown(gctx)
	})
	g.Go(func() error {
		if s.bootstrapClient == nil {
			return nil
		}
		if err := s.bootstrapClient.Deregister(gctx); err != nil {
			logger.Warn("supervisor: deregister failed", logger.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		s.swim.Stop()
		return nil
	})
	g.Go(func() error {
		s.manager.Close()
		return nil
	})
	g.Go(func() error {
		return s.store.Close()
	})

	if err := g.Wait(); err != nil {
		logger.Warn("supervisor: shutdown completed with errors", logger.Error(err))
		return err
	}
	logger.Info("supervisor: shutdown complete")
	return nil
}
