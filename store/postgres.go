package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"disputeflow/audit"
	"disputeflow/auth"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/jury"
	"disputeflow/submission"
)

type pgStores struct {
	disputes    *dispute.Repository
	submissions *submission.Repository
	jury        *jury.Repository
	evidence    *evidence.Repository
	users       *auth.PGRepository
	audit       *audit.Repository
}

// NewStores binds every repository to q.
func NewStores(q db.DBTX) StoreProvider {
	return &pgStores{
		disputes:    dispute.NewRepository(q),
		submissions: submission.NewRepository(q),
		jury:        jury.NewRepository(q),
		evidence:    evidence.NewRepository(q),
		users:       auth.NewRepository(q),
		audit:       audit.NewRepository(q),
	}
}

func (s *pgStores) Disputes() DisputeStore       { return s.disputes }
func (s *pgStores) Settlements() SettlementStore { return s.disputes }
func (s *pgStores) Submissions() SubmissionStore { return s.submissions }
func (s *pgStores) Jury() JuryStore              { return s.jury }
func (s *pgStores) Evidence() EvidenceStore      { return s.evidence }
func (s *pgStores) Users() UserStore             { return s.users }
func (s *pgStores) Audit() AuditStore            { return s.audit }

type pgTxRunner struct {
	pool db.TxBeginner
}

// NewTxRunner builds a TxRunner backed by a pgx pool.
func NewTxRunner(pool db.TxBeginner) TxRunner {
	return &pgTxRunner{pool: pool}
}

func (r *pgTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}
