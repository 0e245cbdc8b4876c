package archive

import (
	"time"

	"github.com/liveqa/backend/internal/models"
)

// Transcript is the archived record of an ended session.
type Transcript struct {
	Room        RoomSummary         `json:"room"`
	EndedBy     int64               `json:"endedBy"`
	EndedAt     time.Time           `json:"endedAt"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Stats       Stats               `json:"stats"`
	Questions   []models.Question   `json:"questions"`
	Attendance  []models.Attendance `json:"attendance"`
}

// RoomSummary is the subset of a room kept in the archive.
type RoomSummary struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AdminID     int64     `json:"adminId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Stats aggregates a session.
type Stats struct {
	QuestionCount     int   `json:"questionCount"`
	VoteCount         int   `json:"voteCount"`
	UniqueAttendees   int   `json:"uniqueAttendees"`
	TotalWatchSeconds int64 `json:"totalWatchSeconds"`
}

// BuildTranscript assembles the archive of room from its questions and attendance.
func BuildTranscript(room *models.Room, endedBy int64, endedAt time.Time, questions []models.Question, attendance []models.Attendance, now time.Time) Transcript {
	if questions == nil {
		questions = []models.Question{}
	}
	if attendance == nil {
		attendance = []models.Attendance{}
	}
	t := Transcript{
		Room: RoomSummary{
			ID:          room.ID,
			Code:        room.Code,
			Title:       room.Title,
			Description: room.Description,
			AdminID:     room.AdminID,
			CreatedAt:   room.CreatedAt,
		},
		EndedBy:     endedBy,
		EndedAt:     endedAt,
		GeneratedAt: now,
		Questions:   questions,
		Attendance:  attendance,
	}
	users := make(map[int64]struct{})
	for _, q := range questions {
		t.Stats.VoteCount += q.VoteCount
	}
	for _, a := range attendance {
		users[a.UserID] = struct{}{}
		t.Stats.TotalWatchSeconds += a.WatchSeconds
	}
	t.Stats.QuestionCount = len(questions)
	t.Stats.UniqueAttendees = len(users)
	return t
}
