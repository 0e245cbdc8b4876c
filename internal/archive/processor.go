package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/liveqa/backend/internal/models"
	"github.com/liveqa/backend/pkg/queue"
	"github.com/liveqa/backend/pkg/storage"
)

// RoomStore loads rooms and records where their archive lives.
type RoomStore interface {
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
	SetArchiveKey(ctx context.Context, id int64, key string) error
}

// QuestionLister lists the questions of a room.
type QuestionLister interface {
	ListByRoom(ctx context.Context, roomID, viewerID int64) ([]models.Question, error)
}

// AttendanceLister lists the attendance spans of a room.
type AttendanceLister interface {
	ListByRoom(ctx context.Context, roomID int64) ([]models.Attendance, error)
}

// ObjectStore stores archive objects.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
}

// JobQueue is the job source of the worker loop.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor turns session archive jobs into JSON transcripts in object storage.
type Processor struct {
	rooms      RoomStore
	questions  QuestionLister
	attendance AttendanceLister
	store      ObjectStore
	queue      JobQueue
	logger     *zap.Logger
	backoff    time.Duration
	now        func() time.Time
}

// NewProcessor creates a session archive processor.
func NewProcessor(rooms RoomStore, questions QuestionLister, attendance AttendanceLister, store ObjectStore, q JobQueue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		rooms:      rooms,
		questions:  questions,
		attendance: attendance,
		store:      store,
		queue:      q,
		logger:     logger,
		backoff:    queue.RetryBackoff,
		now:        time.Now,
	}
}

// Process executes one session archive job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SessionArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	room, err := p.rooms.FindRoomByCode(ctx, payload.RoomCode)
	if err != nil {
		return fmt.Errorf("load room %s: %w", payload.RoomCode, err)
	}
	if room.ID != payload.RoomID {
		return fmt.Errorf("room %s has id %d, job expects %d", payload.RoomCode, room.ID, payload.RoomID)
	}
	if room.ArchiveKey != "" {
		p.logger.Info("session already archived", zap.String("room_code", room.Code), zap.String("s3_key", room.ArchiveKey))
		return nil
	}

	questions, err := p.questions.ListByRoom(ctx, room.ID, 0)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	attendance, err := p.attendance.ListByRoom(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("list attendance: %w", err)
	}

	transcript := BuildTranscript(room, payload.EndedBy, payload.EndedAt, questions, attendance, p.now().UTC())
	body, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	key := storage.ArchiveKey(room.Code, room.ID)
	if err := p.store.Upload(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.rooms.SetArchiveKey(ctx, room.ID, key); err != nil {
		p.logger.Error("record archive key failed", zap.Error(err), zap.String("room_code", room.Code))
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("session archive completed",
		zap.String("room_code", room.Code), zap.String("s3_key", key),
		zap.Int("questions", len(questions)), zap.Int("attendance", len(attendance)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.wait(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}

func (p *Processor) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
