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

// Package postgres implements store.Store on top of PostgreSQL via pgx,
// for multi-node deployments that need membership and rendezvous state
// to survive a restart.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/vps-signal/store"
)

// Store implements store.Store for PostgreSQL.
type Store struct {
	pool       *pgxpool.Pool
	membership *MembershipStore
	rendezvous *RendezvousStore
	identity   *IdentityStore
}

// NewStore opens a connection pool against dsn and verifies connectivity.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}

	return &Store{
		pool:       pool,
		membership: &MembershipStore{db: pool},
		rendezvous: &RendezvousStore{db: pool},
		identity:   &IdentityStore{db: pool},
	}, nil
}

func (s *Store) Membership() store.MembershipStore { return s.membership }
func (s *Store) Rendezvous() store.RendezvousStore { return s.rendezvous }
func (s *Store) Identity() store.IdentityStore     { return s.identity }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Schema returns the DDL needed to create the tables this store uses. It
// is exposed so cmd/vps-signalctl can run it against a fresh database;
// the server itself never runs DDL at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS membership (
	server_id   TEXT PRIMARY KEY,
	node_id     TEXT NOT NULL,
	endpoint    TEXT NOT NULL,
	public_key  BYTEA NOT NULL,
	status      TEXT NOT NULL,
	incarnation BIGINT NOT NULL,
	last_seen   TIMESTAMPTZ NOT NULL,
	metadata    JSONB
);

CREATE TABLE IF NOT EXISTS daily_points (
	point_hash   TEXT NOT NULL,
	peer_id      TEXT NOT NULL,
	dead_drop    BYTEA,
	relay_id     TEXT,
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	vector_clock JSONB NOT NULL,
	PRIMARY KEY (point_hash, peer_id)
);
CREATE INDEX IF NOT EXISTS daily_points_expires_at_idx ON daily_points (expires_at);

CREATE TABLE IF NOT EXISTS hourly_tokens (
	token_hash   TEXT NOT NULL,
	peer_id      TEXT NOT NULL,
	relay_id     TEXT,
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	vector_clock JSONB NOT NULL,
	PRIMARY KEY (token_hash, peer_id)
);
CREATE INDEX IF NOT EXISTS hourly_tokens_expires_at_idx ON hourly_tokens (expires_at);

CREATE TABLE IF NOT EXISTS relays (
	peer_id         TEXT PRIMARY KEY,
	max_connections INT NOT NULL,
	connected_count INT NOT NULL,
	public_key      BYTEA,
	registered_at   TIMESTAMPTZ NOT NULL,
	last_update     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS server_identity (
	id          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	server_id   TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	public_key  BYTEA NOT NULL,
	private_key BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
`
