package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/vps-signal/store"
)

// MembershipStore implements store.MembershipStore for PostgreSQL.
type MembershipStore struct {
	db *pgxpool.Pool
}

func (s *MembershipStore) Upsert(ctx context.Context, entry *store.MembershipEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal membership metadata: %w", err)
	}

	query := `
		INSERT INTO membership (server_id, node_id, endpoint, public_key, status, incarnation, last_seen, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (server_id) DO UPDATE SET
			node_id = EXCLUDED.node_id,
			endpoint = EXCLUDED.endpoint,
			public_key = EXCLUDED.public_key,
			status = EXCLUDED.status,
			incarnation = EXCLUDED.incarnation,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata
	`
	_, err = s.db.Exec(ctx, query,
		entry.ServerID, entry.NodeID, entry.Endpoint, entry.PublicKey,
		string(entry.Status), entry.Incarnation, entry.LastSeen, metadata,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert membership entry: %w", err)
	}
	return nil
}

func (s *MembershipStore) Get(ctx context.Context, serverID string) (*store.MembershipEntry, error) {
	query := `
		SELECT server_id, node_id, endpoint, public_key, status, incarnation, last_seen, metadata
		FROM membership WHERE server_id = $1
	`
	var entry store.MembershipEntry
	var status string
	var metadataJSON []byte

	err := s.db.QueryRow(ctx, query, serverID).Scan(
		&entry.ServerID, &entry.NodeID, &entry.Endpoint, &entry.PublicKey,
		&status, &entry.Incarnation, &entry.LastSeen, &metadataJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("postgres: membership entry not found: %s", serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get membership entry: %w", err)
	}
	entry.Status = store.MembershipStatus(status)
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal membership metadata: %w", err)
		}
	}
	return &entry, nil
}

func (s *MembershipStore) List(ctx context.Context) ([]*store.MembershipEntry, error) {
	query := `SELECT server_id, node_id, endpoint, public_key, status, incarnation, last_seen, metadata FROM membership`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list membership: %w", err)
	}
	defer rows.Close()

	var out []*store.MembershipEntry
	for rows.Next() {
		var entry store.MembershipEntry
		var status string
		var metadataJSON []byte
		if err := rows.Scan(
			&entry.ServerID, &entry.NodeID, &entry.Endpoint, &entry.PublicKey,
			&status, &entry.Incarnation, &entry.LastSeen, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan membership row: %w", err)
		}
		entry.Status = store.MembershipStatus(status)
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal membership metadata: %w", err)
			}
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate membership rows: %w", err)
	}
	return out, nil
}

func (s *MembershipStore) Delete(ctx context.Context, serverID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM membership WHERE server_id = $1`, serverID)
	if err != nil {
		return fmt.Errorf("postgres: delete membership entry: %w", err)
	}
	return nil
}
