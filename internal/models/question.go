package models

import "time"

// Question is an audience question with its aggregate vote count and author snapshot.
type Question struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	RoomID    int64     `json:"roomId"`
	UserID    int64     `json:"userId"`
	VoteCount int       `json:"voteCount"`
	HasVoted  *bool     `json:"hasVoted,omitempty"`
	User      Author    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// VoteAction is the outcome of toggling a vote.
type VoteAction string

const (
	VoteAdded   VoteAction = "added"
	VoteRemoved VoteAction = "removed"
)
