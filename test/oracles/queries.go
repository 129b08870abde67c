package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must yield no rows at any point in a run.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_tier_monotonic",
			SQL: `SELECT d.id, h
                  FROM disputes d, jsonb_array_elements(d.tier_history) h
                  WHERE (h->>'to_tier')::int < (h->>'from_tier')::int`,
		},
		{
			Name: "O2_votes_after_close",
			SQL: `SELECT v.dispute_id, v.juror_id, v.cast_at
                  FROM jury_votes v JOIN disputes d ON d.id = v.dispute_id
                  WHERE (d.escalated_at IS NOT NULL AND v.cast_at > d.escalated_at)
                     OR (d.resolved_at IS NOT NULL AND v.cast_at > d.resolved_at)`,
		},
		{
			Name: "O3_tier2_quorum",
			SQL: `SELECT d.id
                  FROM disputes d
                  WHERE d.resolution_tier = 2
                    AND (SELECT COUNT(*) FROM jury_votes v
                         WHERE v.dispute_id = d.id
                           AND v.choice = CASE d.resolution_outcome
                                              WHEN 'worker_wins' THEN 'worker'
                                              WHEN 'requester_wins' THEN 'requester'
                                          END)
                        < (SELECT COUNT(*) FROM jury_assignments a WHERE a.dispute_id = d.id) / 2 + 1`,
		},
		{
			Name: "O4_audit_seq_dense",
			SQL: `WITH s AS (
                      SELECT dispute_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY dispute_id ORDER BY seq) AS rn
                      FROM audit_log)
                  SELECT * FROM s WHERE seq <> rn`,
		},
		{
			Name: "O5_single_resolution",
			SQL: `SELECT dispute_id, COUNT(*) FROM audit_log
                  WHERE type = 'resolved'
                  GROUP BY dispute_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_settlement_consistency",
			SQL: `SELECT l.dispute_id, l.kind, l.status
                  FROM settlement_legs l JOIN disputes d ON d.id = l.dispute_id
                  WHERE d.status <> 'resolved'
                     OR (d.settled_at IS NOT NULL AND l.status <> 'completed')`,
		},
		{
			Name: "O7_appeal_requires_previous_outcome",
			SQL: `SELECT id FROM disputes
                  WHERE current_tier = 3 AND previous_outcome IS NULL`,
		},
		{
			Name: "O8_immutability_guards",
			SQL: `SELECT t.name AS missing_trigger
                  FROM (VALUES ('evidence_immutable'), ('jury_votes_immutable'), ('audit_log_immutable')) AS t(name)
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = t.name)`,
		},
	}
}

// Run executes every oracle and returns the first failure (name and sample row)
// or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
