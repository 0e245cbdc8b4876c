package models

import "time"

// Room is a live Q&A session identified by a short join code.
type Room struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"isActive"`
	IsEnded     bool       `json:"isEnded"`
	AdminID     int64      `json:"adminId"`
	ArchiveKey  string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Open reports whether the room still accepts participant actions.
func (r *Room) Open() bool {
	return r.IsActive && !r.IsEnded
}
