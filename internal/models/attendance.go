package models

import "time"

// Attendance is one join/leave span of a user in a room.
type Attendance struct {
	UserID       int64      `json:"userId"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LeftAt       *time.Time `json:"leftAt,omitempty"`
	WatchSeconds int64      `json:"watchSeconds"`
}
