package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"disputeflow/db"
)

// Repository appends audit entries and their outbox messages. It must run on the
// same transaction as the state change being audited.
type Repository struct {
	q db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

// Append writes e with the next per-dispute sequence number and enqueues the
// matching outbox message.
func (r *Repository) Append(ctx context.Context, e Entry) (Entry, error) {
	body, err := json.Marshal(payloadOrEmpty(e.Payload))
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal payload: %w", err)
	}

	var actor any
	if e.ActorID != nil && *e.ActorID != "" {
		actor = *e.ActorID
	}

	const insertSQL = `
INSERT INTO audit_log (dispute_id, seq, type, actor_id, payload, ts)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::uuid, $4::jsonb, $5
FROM audit_log
WHERE dispute_id = $1
RETURNING seq
`
	if err := r.q.QueryRow(ctx, insertSQL, e.DisputeID, e.Type, actor, body, e.At).Scan(&e.Seq); err != nil {
		return Entry{}, fmt.Errorf("audit: insert entry: %w", err)
	}

	if err := r.enqueueOutbox(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *Repository) enqueueOutbox(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := r.q.Exec(ctx, q, Topic(e.Type), body); err != nil {
		return fmt.Errorf("audit: enqueue outbox: %w", err)
	}
	return nil
}

// List returns a dispute's audit trail in sequence order.
func (r *Repository) List(ctx context.Context, disputeID string) ([]Entry, error) {
	const selectSQL = `
SELECT dispute_id::text, seq, type, actor_id::text, payload, ts
FROM audit_log
WHERE dispute_id = $1
ORDER BY seq
`
	rows, err := r.q.Query(ctx, selectSQL, disputeID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e   Entry
			raw []byte
		)
		if err := rows.Scan(&e.DisputeID, &e.Seq, &e.Type, &e.ActorID, &raw, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Payload); err != nil {
				return nil, fmt.Errorf("audit: decode payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate: %w", err)
	}
	return entries, nil
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
