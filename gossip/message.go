package gossip

import (
	"time"

	"github.com/sage-x-project/vps-signal/store"
)

// MessageType identifies the kind of SWIM protocol message.
type MessageType string

const (
	MsgPing    MessageType = "ping"
	MsgAck     MessageType = "ack"
	MsgPingReq MessageType = "ping_req"
	MsgState   MessageType = "state_exchange"
)

// StateUpdate is a piggybacked (or full state-exchange) membership delta.
type StateUpdate struct {
	ServerID    string                 `json:"serverId"`
	NodeID      string                 `json:"nodeId,omitempty"`
	Endpoint    string                 `json:"endpoint,omitempty"`
	PublicKey   []byte                 `json:"publicKey,omitempty"`
	Status      string                 `json:"status"`
	Incarnation uint64                 `json:"incarnation"`
	Metadata    map[string]string      `json:"metadata,omitempty"`
}

// Message is a signed SWIM protocol message exchanged over Transport.
type Message struct {
	Type      MessageType   `json:"type"`
	SeqNo     uint64        `json:"seqNo"`
	From      string        `json:"from"`
	Target    string        `json:"target,omitempty"`
	State     []StateUpdate `json:"state,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Signature []byte        `json:"signature,omitempty"`
}

// signingPayload is the subset of Message fields covered by the
// signature — Signature itself is excluded.
type signingPayload struct {
	Type      MessageType   `json:"type"`
	SeqNo     uint64        `json:"seqNo"`
	From      string        `json:"from"`
	Target    string        `json:"target,omitempty"`
	State     []StateUpdate `json:"state,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (m *Message) payload() signingPayload {
	return signingPayload{
		Type:      m.Type,
		SeqNo:     m.SeqNo,
		From:      m.From,
		Target:    m.Target,
		State:     m.State,
		Timestamp: m.Timestamp,
	}
}

func entryToUpdate(e Entry) StateUpdate {
	return StateUpdate{
		ServerID:    e.ServerID,
		NodeID:      e.NodeID,
		Endpoint:    e.Endpoint,
		PublicKey:   e.PublicKey,
		Status:      string(e.Status),
		Incarnation: e.Incarnation,
		Metadata:    e.Metadata,
	}
}

func updateToEntry(su StateUpdate) Entry {
	return Entry{
		ServerID:    su.ServerID,
		NodeID:      su.NodeID,
		Endpoint:    su.Endpoint,
		PublicKey:   su.PublicKey,
		Status:      statusFromString(su.Status),
		Incarnation: su.Incarnation,
		Metadata:    su.Metadata,
	}
}

func statusFromString(s string) store.MembershipStatus {
	switch store.MembershipStatus(s) {
	case store.StatusAlive, store.StatusSuspect, store.StatusFailed, store.StatusLeft:
		return store.MembershipStatus(s)
	default:
		return store.StatusSuspect
	}
}
