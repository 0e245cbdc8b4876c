package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type attendanceWrite struct {
	join   bool
	room   string
	userID int64
}

// attendanceLog applies join/leave writes one at a time in the order they were pushed, so a
// user's leave never reaches the store before the join it closes. push never blocks.
type attendanceLog struct {
	logger *zap.Logger
	wake   chan struct{}

	mu       sync.Mutex
	recorder AttendanceRecorder
	pending  []attendanceWrite
}

func newAttendanceLog(logger *zap.Logger) *attendanceLog {
	return &attendanceLog{logger: logger, wake: make(chan struct{}, 1)}
}

func (l *attendanceLog) setRecorder(r AttendanceRecorder) {
	l.mu.Lock()
	l.recorder = r
	l.mu.Unlock()
}

func (l *attendanceLog) push(w attendanceWrite) {
	l.mu.Lock()
	if l.recorder == nil {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, w)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run applies writes until ctx is done, then drains what is left.
func (l *attendanceLog) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.flush()
			return
		case <-l.wake:
			l.flush()
		}
	}
}

func (l *attendanceLog) flush() {
	for {
		l.mu.Lock()
		batch, recorder := l.pending, l.recorder
		l.pending = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, w := range batch {
			l.apply(recorder, w)
		}
	}
}

func (l *attendanceLog) apply(r AttendanceRecorder, w attendanceWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	kind := "leave"
	var err error
	if w.join {
		kind = "join"
		err = r.RecordJoin(ctx, w.room, w.userID)
	} else {
		err = r.RecordLeave(ctx, w.room, w.userID)
	}
	if err != nil {
		l.logger.Warn("record attendance "+kind, zap.String("room_code", w.room), zap.Int64("user_id", w.userID), zap.Error(err))
	}
}
