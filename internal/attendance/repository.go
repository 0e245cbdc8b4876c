package attendance

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liveqa/backend/internal/models"
)

// Repository handles room_attendance rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordJoin opens an attendance span for the user in the room.
func (r *Repository) RecordJoin(ctx context.Context, roomCode string, userID int64) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO room_attendance (room_id, user_id, joined_at)
		 SELECT id, $2, NOW() FROM rooms WHERE code = $1`,
		roomCode, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordLeave closes the most recent open span of the user in the room.
func (r *Repository) RecordLeave(ctx context.Context, roomCode string, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE room_attendance a SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - a.joined_at))::BIGINT)
		 FROM (SELECT ra.id FROM room_attendance ra JOIN rooms r ON r.id = ra.room_id
		       WHERE r.code = $1 AND ra.user_id = $2 AND ra.left_at IS NULL
		       ORDER BY ra.joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		roomCode, userID)
	return err
}

// ListByRoom returns the attendance spans of a room, newest first.
func (r *Repository) ListByRoom(ctx context.Context, roomID int64) ([]models.Attendance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.user_id, u.first_name, u.last_name, a.joined_at, a.left_at, a.watch_seconds
		 FROM room_attendance a JOIN users u ON u.id = a.user_id
		 WHERE a.room_id = $1 ORDER BY a.joined_at DESC`,
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Attendance{}
	for rows.Next() {
		var row models.Attendance
		if err := rows.Scan(&row.UserID, &row.FirstName, &row.LastName, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
