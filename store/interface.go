package store

import (
	"context"
	"time"
)

// MembershipStore persists the membership snapshot so a restarted server
// can rejoin the ring without waiting a full gossip convergence.
type MembershipStore interface {
	Upsert(ctx context.Context, entry *MembershipEntry) error
	Get(ctx context.Context, serverID string) (*MembershipEntry, error)
	List(ctx context.Context) ([]*MembershipEntry, error)
	Delete(ctx context.Context, serverID string) error
}

// RendezvousStore persists daily points, hourly tokens and relay
// announcements, with vector-clock merge-on-conflict semantics and
// expiry sweeps. Read errors fail open (return an empty result); write
// errors surface to the caller.
type RendezvousStore interface {
	UpsertDailyPoint(ctx context.Context, entry *DailyPointEntry) error
	GetDailyPoint(ctx context.Context, pointHash, peerID string) (*DailyPointEntry, error)
	QueryDailyPoint(ctx context.Context, pointHash string) ([]*DailyPointEntry, error)
	DeleteDailyPointsByPeer(ctx context.Context, peerID string) error
	DeleteExpiredDailyPoints(ctx context.Context, before time.Time) (int64, error)

	UpsertHourlyToken(ctx context.Context, entry *HourlyTokenEntry) error
	GetHourlyToken(ctx context.Context, tokenHash, peerID string) (*HourlyTokenEntry, error)
	QueryHourlyToken(ctx context.Context, tokenHash string) ([]*HourlyTokenEntry, error)
	DeleteHourlyTokensByPeer(ctx context.Context, peerID string) error
	DeleteExpiredHourlyTokens(ctx context.Context, before time.Time) (int64, error)

	UpsertRelay(ctx context.Context, entry *RelayEntry) error
	GetRelay(ctx context.Context, peerID string) (*RelayEntry, error)
	ListRelays(ctx context.Context) ([]*RelayEntry, error)
	DeleteRelay(ctx context.Context, peerID string) error
}

// IdentityStore persists the server's own keypair across restarts.
type IdentityStore interface {
	Save(ctx context.Context, rec *IdentityRecord) error
	Load(ctx context.Context) (*IdentityRecord, error)
}

// Store combines all persistence interfaces behind a single handle, and
// is always serializable w.r.t. a single entity key.
type Store interface {
	Membership() MembershipStore
	Rendezvous() RendezvousStore
	Identity() IdentityStore

	Close() error
	Ping(ctx context.Context) error
}
