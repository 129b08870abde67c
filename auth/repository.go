package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"disputeflow/db"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
)

// PGRepository reads users from PostgreSQL.
type PGRepository struct {
	q db.DBTX
}

// NewRepository creates a PostgreSQL-backed user repository.
func NewRepository(q db.DBTX) *PGRepository {
	return &PGRepository{q: q}
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `
		SELECT id::text, display_name, role, reputation, created_at
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.q.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}

	return user, nil
}

// ListEligibleJurors returns members whose reputation clears the juror threshold.
func (r *PGRepository) ListEligibleJurors(ctx context.Context, minReputation float64) ([]User, error) {
	const selectSQL = `
		SELECT id::text, display_name, role, reputation, created_at
		FROM users
		WHERE role = 'member' AND reputation >= $1
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, selectSQL, minReputation)
	if err != nil {
		return nil, fmt.Errorf("auth: list eligible jurors: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth: scan juror: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: iterate jurors: %w", err)
	}
	return users, nil
}

// ListConflicts returns users with a prior working relationship to either party:
// anyone who has been on the other side of a submission with them.
func (r *PGRepository) ListConflicts(ctx context.Context, workerID, requesterID string) ([]string, error) {
	const selectSQL = `
		SELECT DISTINCT requester_id::text FROM submissions WHERE worker_id IN ($1, $2)
		UNION
		SELECT DISTINCT worker_id::text FROM submissions WHERE requester_id IN ($1, $2)
	`

	rows, err := r.q.Query(ctx, selectSQL, workerID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("auth: list conflicts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("auth: collect conflicts: %w", err)
	}
	return ids, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Role,
		&user.Reputation,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
