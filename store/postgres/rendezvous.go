package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sage-x-project/vps-signal/store"
)

// RendezvousStore implements store.RendezvousStore for PostgreSQL. Upserts
// run inside a transaction that locks the target row `FOR UPDATE` so the
// vector-clock merge is serializable w.r.t. the (hash, peerId) key, per
// the Store concurrency contract.
type RendezvousStore struct {
	db *pgxpool.Pool
}

func (s *RendezvousStore) UpsertDailyPoint(ctx context.Context, entry *store.DailyPointEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin daily point upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingClock []byte
	var existingExpiry time.Time
	var existingCreated time.Time
	row := tx.QueryRow(ctx, `
		SELECT vector_clock, expires_at, created_at FROM daily_points
		WHERE point_hash = $1 AND peer_id = $2 FOR UPDATE
	`, entry.PointHash, entry.PeerID)

	merged := entry.VectorClock
	createdAt := entry.CreatedAt
	expiresAt := entry.ExpiresAt

	switch err := row.Scan(&existingClock, &existingExpiry, &existingCreated); err {
	case nil:
		var old store.VectorClock
		if err := json.Unmarshal(existingClock, &old); err != nil {
			return fmt.Errorf("postgres: unmarshal existing vector clock: %w", err)
		}
		merged = old.Merge(entry.VectorClock)
		if existingExpiry.After(expiresAt) {
			expiresAt = existingExpiry
		}
		if existingCreated.Before(createdAt) {
			createdAt = existingCreated
		}
	case pgx.ErrNoRows:
		// first write
	default:
		return fmt.Errorf("postgres: lock daily point row: %w", err)
	}

	clockJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("postgres: marshal vector clock: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_points (point_hash, peer_id, dead_drop, relay_id, expires_at, created_at, updated_at, vector_clock)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT (point_hash, peer_id) DO UPDATE SET
			dead_drop = EXCLUDED.dead_drop,
			relay_id = EXCLUDED.relay_id,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW(),
			vector_clock = EXCLUDED.vector_clock
	`, entry.PointHash, entry.PeerID, entry.DeadDrop, entry.RelayID, expiresAt, createdAt, clockJSON)
	if err != nil {
		return fmt.Errorf("postgres: upsert daily point: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *RendezvousStore) GetDailyPoint(ctx context.Context, pointHash, peerID string) (*store.DailyPointEntry, error) {
	query := `
		SELECT point_hash, peer_id, dead_drop, relay_id, expires_at, created_at, updated_at, vector_clock
		FROM daily_points WHERE point_hash = $1 AND peer_id = $2
	`
	var e store.DailyPointEntry
	var clockJSON []byte
	err := s.db.QueryRow(ctx, query, pointHash, peerID).Scan(
		&e.PointHash, &e.PeerID, &e.DeadDrop, &e.RelayID, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt, &clockJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("postgres: daily point not found: %s/%s", pointHash, peerID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get daily point: %w", err)
	}
	if err := json.Unmarshal(clockJSON, &e.VectorClock); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal vector clock: %w", err)
	}
	return &e, nil
}

func (s *RendezvousStore) QueryDailyPoint(ctx context.Context, pointHash string) ([]*store.DailyPointEntry, error) {
	query := `
		SELECT point_hash, peer_id, dead_drop, relay_id, expires_at, created_at, updated_at, vector_clock
		FROM daily_points WHERE point_hash = $1
	`
	rows, err := s.db.Query(ctx, query, pointHash)
	if err != nil {
		return nil, fmt.Errorf("postgres: query daily points: %w", err)
	}
	defer rows.Close()

	var out []*store.DailyPointEntry
	for rows.Next() {
		var e store.DailyPointEntry
		var clockJSON []byte
		if err := rows.Scan(&e.PointHash, &e.PeerID, &e.DeadDrop, &e.RelayID, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt, &clockJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan daily point row: %w", err)
		}
		if err := json.Unmarshal(clockJSON, &e.VectorClock); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal vector clock: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *RendezvousStore) DeleteDailyPointsByPeer(ctx context.Context, peerID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM daily_points WHERE peer_id = $1`, peerID)
	if err != nil {
		return fmt.Errorf("postgres: delete daily points by peer: %w", err)
	}
	return nil
}

func (s *RendezvousStore) DeleteExpiredDailyPoints(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM daily_points WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired daily points: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *RendezvousStore) UpsertHourlyToken(ctx context.Context, entry *store.HourlyTokenEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin hourly token upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingClock []byte
	var existingExpiry time.Time
	var existingCreated time.Time
	row := tx.QueryRow(ctx, `
		SELECT vector_clock, expires_at, created_at FROM hourly_tokens
		WHERE token_hash = $1 AND peer_id = $2 FOR UPDATE
	`, entry.TokenHash, entry.PeerID)

	merged := entry.VectorClock
	createdAt := entry.CreatedAt
	expiresAt := entry.ExpiresAt

	switch err := row.Scan(&existingClock, &existingExpiry, &existingCreated); err {
	case nil:
		var old store.VectorClock
		if err := json.Unmarshal(existingClock, &old); err != nil {
			return fmt.Errorf("postgres: unmarshal existing vector clock: %w", err)
		}
		merged = old.Merge(entry.VectorClock)
		if existingExpiry.After(expiresAt) {
			expiresAt = existingExpiry
		}
		if existingCreated.Before(createdAt) {
			createdAt = existingCreated
		}
	case pgx.ErrNoRows:
	default:
		return fmt.Errorf("postgres: lock hourly token row: %w", err)
	}

	clockJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("postgres: marshal vector clock: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO hourly_tokens (token_hash, peer_id, relay_id, expires_at, created_at, vector_clock)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash, peer_id) DO UPDATE SET
			relay_id = EXCLUDED.relay_id,
			expires_at = EXCLUDED.expires_at,
			vector_clock = EXCLUDED.vector_clock
	`, entry.TokenHash, entry.PeerID, entry.RelayID, expiresAt, createdAt, clockJSON)
	if err != nil {
		return fmt.Errorf("postgres: upsert hourly token: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *RendezvousStore) GetHourlyToken(ctx context.Context, tokenHash, peerID string) (*store.HourlyTokenEntry, error) {
	query := `
		SELECT token_hash, peer_id, relay_id, expires_at, created_at, vector_clock
		FROM hourly_tokens WHERE token_hash = $1 AND peer_id = $2
	`
	var e store.HourlyTokenEntry
	var clockJSON []byte
	err := s.db.QueryRow(ctx, query, tokenHash, peerID).Scan(
		&e.TokenHash, &e.PeerID, &e.RelayID, &e.ExpiresAt, &e.CreatedAt, &clockJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("postgres: hourly token not found: %s/%s", tokenHash, peerID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get hourly token: %w", err)
	}
	if err := json.Unmarshal(clockJSON, &e.VectorClock); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal vector clock: %w", err)
	}
	return &e, nil
}

func (s *RendezvousStore) QueryHourlyToken(ctx context.Context, tokenHash string) ([]*store.HourlyTokenEntry, error) {
	query := `
		SELECT token_hash, peer_id, relay_id, expires_at, created_at, vector_clock
		FROM hourly_tokens WHERE token_hash = $1
	`
	rows, err := s.db.Query(ctx, query, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("postgres: query hourly tokens: %w", err)
	}
	defer rows.Close()

	var out []*store.HourlyTokenEntry
	for rows.Next() {
		var e store.HourlyTokenEntry
		var clockJSON []byte
		if err := rows.Scan(&e.TokenHash, &e.PeerID, &e.RelayID, &e.ExpiresAt, &e.CreatedAt, &clockJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan hourly token row: %w", err)
		}
		if err := json.Unmarshal(clockJSON, &e.VectorClock); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal vector clock: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *RendezvousStore) DeleteHourlyTokensByPeer(ctx context.Context, peerID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM hourly_tokens WHERE peer_id = $1`, peerID)
	if err != nil {
		return fmt.Errorf("postgres: delete hourly tokens by peer: %w", err)
	}
	return nil
}

func (s *RendezvousStore) DeleteExpiredHourlyTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM hourly_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired hourly tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *RendezvousStore) UpsertRelay(ctx context.Context, entry *store.RelayEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO relays (peer_id, max_connections, connected_count, public_key, registered_at, last_update)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (peer_id) DO UPDATE SET
			max_connections = EXCLUDED.max_connections,
			connected_count = EXCLUDED.connected_count,
			public_key = EXCLUDED.public_key,
			last_update = NOW()
	`, entry.PeerID, entry.MaxConnections, entry.ConnectedCount, entry.PublicKey, entry.RegisteredAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert relay: %w", err)
	}
	return nil
}

func (s *RendezvousStore) GetRelay(ctx context.Context, peerID string) (*store.RelayEntry, error) {
	query := `
		SELECT peer_id, max_connections, connected_count, public_key, registered_at, last_update
		FROM relays WHERE peer_id = $1
	`
	var e store.RelayEntry
	err := s.db.QueryRow(ctx, query, peerID).Scan(
		&e.PeerID, &e.MaxConnections, &e.ConnectedCount, &e.PublicKey, &e.RegisteredAt, &e.LastUpdate,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("postgres: relay not found: %s", peerID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get relay: %w", err)
	}
	return &e, nil
}

func (s *RendezvousStore) ListRelays(ctx context.Context) ([]*store.RelayEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT peer_id, max_connections, connected_count, public_key, registered_at, last_update FROM relays`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relays: %w", err)
	}
	defer rows.Close()

	var out []*store.RelayEntry
	for rows.Next() {
		var e store.RelayEntry
		if err := rows.Scan(&e.PeerID, &e.MaxConnections, &e.ConnectedCount, &e.PublicKey, &e.RegisteredAt, &e.LastUpdate); err != nil {
			return nil, fmt.Errorf("postgres: scan relay row: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *RendezvousStore) DeleteRelay(ctx context.Context, peerID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM relays WHERE peer_id = $1`, peerID)
	if err != nil {
		return fmt.Errorf("postgres: delete relay: %w", err)
	}
	return nil
}
