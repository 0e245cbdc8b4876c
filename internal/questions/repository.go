package questions

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liveqa/backend/internal/models"
)

// questionSelect reads a question with its author snapshot and live vote count.
// $1 is the viewer whose hasVoted flag is computed; 0 skips it.
const questionSelect = `SELECT q.id, q.content, q.room_id, q.user_id, q.created_at,
		u.first_name, u.last_name, COALESCE(u.avatar_url,''),
		(SELECT COUNT(*) FROM votes v WHERE v.question_id = q.id)::INT AS vote_count,
		EXISTS (SELECT 1 FROM votes v WHERE v.question_id = q.id AND v.user_id = $1) AS has_voted
	FROM questions q
	JOIN users u ON u.id = q.user_id`

// Repository handles question persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateQuestion inserts a question and returns it with its author and vote count.
func (r *Repository) CreateQuestion(ctx context.Context, content string, roomID, userID int64) (*models.Question, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO questions (content, room_id, user_id) VALUES ($1, $2, $3) RETURNING id`,
		content, roomID, userID).Scan(&id)
	if err != nil {
		return nil, err
	}
	q, err := scanQuestion(r.pool.QueryRow(ctx, questionSelect+` WHERE q.id = $2`, int64(0), id))
	if err != nil {
		return nil, err
	}
	q.HasVoted = nil
	return q, nil
}

// GetQuestion returns a live question by ID or models.ErrNotFound.
func (r *Repository) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, questionSelect+` WHERE q.id = $2 AND NOT q.is_deleted`, int64(0), id))
	if err != nil {
		return nil, err
	}
	q.HasVoted = nil
	return q, nil
}

// DeleteQuestion soft-deletes a live question. Votes are kept so the removal stays reversible in the database.
func (r *Repository) DeleteQuestion(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListByRoom returns the live questions of a room, most voted first.
// When viewerID is non-zero each question carries that user's hasVoted flag.
func (r *Repository) ListByRoom(ctx context.Context, roomID, viewerID int64) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx,
		questionSelect+` WHERE q.room_id = $2 AND NOT q.is_deleted ORDER BY vote_count DESC, q.created_at ASC`,
		viewerID, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		if viewerID == 0 {
			q.HasVoted = nil
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

// CountByRoom returns the number of live questions in a room.
func (r *Repository) CountByRoom(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE room_id = $1 AND NOT is_deleted`, roomID).Scan(&n)
	return n, err
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var (
		q        models.Question
		hasVoted bool
	)
	err := row.Scan(&q.ID, &q.Content, &q.RoomID, &q.UserID, &q.CreatedAt,
		&q.User.FirstName, &q.User.LastName, &q.User.AvatarURL, &q.VoteCount, &hasVoted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.User.ID = q.UserID
	q.HasVoted = &hasVoted
	return &q, nil
}
