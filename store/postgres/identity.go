package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/vps-signal/store"
)

// IdentityStore implements store.IdentityStore for PostgreSQL. The table
// holds at most one row (enforced by the boolean-true primary key).
type IdentityStore struct {
	db *pgxpool.Pool
}

func (s *IdentityStore) Save(ctx context.Context, rec *store.IdentityRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO server_identity (id, server_id, node_id, public_key, private_key, created_at)
		VALUES (TRUE, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			server_id = EXCLUDED.server_id,
			node_id = EXCLUDED.node_id,
			public_key = EXCLUDED.public_key,
			private_key = EXCLUDED.private_key
	`, rec.ServerID, rec.NodeID, rec.PublicKey, rec.PrivateKey, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save server identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) Load(ctx context.Context) (*store.IdentityRecord, error) {
	var rec store.IdentityRecord
	err := s.db.QueryRow(ctx, `
		SELECT server_id, node_id, public_key, private_key, created_at FROM server_identity WHERE id = TRUE
	`).Scan(&rec.ServerID, &rec.NodeID, &rec.PublicKey, &rec.PrivateKey, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("postgres: server identity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load server identity: %w", err)
	}
	return &rec, nil
}
