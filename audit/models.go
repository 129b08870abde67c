package audit

import "time"

// Type names an audited business event on a dispute.
type Type string

const (
	TypeOpened             Type = "opened"
	TypeEvidenceSubmitted  Type = "evidence_submitted"
	TypeTierChanged        Type = "tier_changed"
	TypeVoteCast           Type = "vote_cast"
	TypeAppealFiled        Type = "appeal_filed"
	TypeResolved           Type = "resolved"
	TypeSettled            Type = "settled"
	TypeSettlementFailed   Type = "settlement_failed"
	TypeIntegrityViolation Type = "integrity_violation"
)

// Entry is an immutable audit record. Seq is assigned on append and is dense per
// dispute.
type Entry struct {
	DisputeID string         `json:"dispute_id"`
	Seq       int            `json:"seq"`
	Type      Type           `json:"type"`
	ActorID   *string        `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"timestamp"`
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Topic is the outbox topic an entry of type t is published on.
func Topic(t Type) string {
	return "dispute." + string(t)
}
