package votes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liveqa/backend/internal/models"
)

// Repository handles vote persistence. A user holds at most one vote per question.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a votes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ToggleVote removes the user's vote on the question if present and adds it otherwise.
func (r *Repository) ToggleVote(ctx context.Context, questionID, userID int64) (models.VoteAction, error) {
	var action models.VoteAction
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var removed int64
		err := tx.QueryRow(ctx,
			`DELETE FROM votes WHERE question_id = $1 AND user_id = $2 RETURNING question_id`,
			questionID, userID).Scan(&removed)
		if err == nil {
			action = models.VoteRemoved
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("delete vote: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO votes (question_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			questionID, userID); err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		action = models.VoteAdded
		return nil
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

// GetVoteCount returns the number of votes on a question.
func (r *Repository) GetVoteCount(ctx context.Context, questionID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM votes WHERE question_id = $1`, questionID).Scan(&n)
	return n, err
}

// HasUserVoted reports whether the user currently holds a vote on the question.
func (r *Repository) HasUserVoted(ctx context.Context, questionID, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM votes WHERE question_id = $1 AND user_id = $2)`,
		questionID, userID).Scan(&ok)
	return ok, err
}
