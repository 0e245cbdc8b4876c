package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liveqa/backend/internal/models"
)

const (
	roomColumns = `id, code, title, COALESCE(description,''), is_active, is_ended, admin_id,
		COALESCE(archive_key,''), created_at, updated_at, ended_at`

	codeAttempts        = 5
	uniqueViolation     = "23505"
	roomsCodeConstraint = "rooms_code_key"
)

// ErrCodeExhausted is returned when no free room code was found.
var ErrCodeExhausted = errors.New("could not allocate a unique room code")

// Repository handles room persistence.
type Repository struct {
	pool    *pgxpool.Pool
	newCode func() (string, error)
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, newCode: NewCode}
}

// Create inserts an active room owned by adminID under a freshly generated code.
func (r *Repository) Create(ctx context.Context, adminID int64, title, description string) (*models.Room, error) {
	const q = `INSERT INTO rooms (code, title, description, admin_id)
		VALUES ($1, $2, NULLIF($3,''), $4)
		RETURNING ` + roomColumns
	for i := 0; i < codeAttempts; i++ {
		code, err := r.newCode()
		if err != nil {
			return nil, err
		}
		room, err := scanRoom(r.pool.QueryRow(ctx, q, code, title, description, adminID))
		if isCodeConflict(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert room: %w", err)
		}
		return room, nil
	}
	return nil, ErrCodeExhausted
}

// FindRoomByCode returns a room by its join code or models.ErrNotFound.
func (r *Repository) FindRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code))
}

// EndRoom marks the room inactive and ended and stamps ended_at once.
func (r *Repository) EndRoom(ctx context.Context, id int64) (*models.Room, error) {
	const q = `UPDATE rooms
		SET is_active = FALSE, is_ended = TRUE, ended_at = COALESCE(ended_at, NOW()), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + roomColumns
	return scanRoom(r.pool.QueryRow(ctx, q, id))
}

// Update changes the title and description of a room. Nil fields keep their value; an empty
// description clears it.
func (r *Repository) Update(ctx context.Context, id int64, title, description *string) (*models.Room, error) {
	const q = `UPDATE rooms
		SET title = COALESCE($2, title),
		    description = CASE WHEN $3::TEXT IS NULL THEN description ELSE NULLIF($3::TEXT, '') END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + roomColumns
	return scanRoom(r.pool.QueryRow(ctx, q, id, title, description))
}

// ListByAdmin returns the rooms administered by adminID, newest first.
func (r *Repository) ListByAdmin(ctx context.Context, adminID int64) ([]models.Room, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE admin_id = $1 ORDER BY created_at DESC`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *room)
	}
	return list, rows.Err()
}

// SetArchiveKey records where the session archive of a room was stored.
func (r *Repository) SetArchiveKey(ctx context.Context, id int64, key string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE rooms SET archive_key = $2, updated_at = NOW() WHERE id = $1`, id, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var m models.Room
	err := row.Scan(&m.ID, &m.Code, &m.Title, &m.Description, &m.IsActive, &m.IsEnded, &m.AdminID,
		&m.ArchiveKey, &m.CreatedAt, &m.UpdatedAt, &m.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func isCodeConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == roomsCodeConstraint
}
