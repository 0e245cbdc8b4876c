package realtime

import (
	"sort"
	"sync"
	"time"
)

// Participant is a user's live presence in one room. Display fields are a snapshot taken at join time.
type Participant struct {
	UserID       int64     `json:"userId"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	ConnectionID string    `json:"-"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Removal describes one participant dropped by a disconnect.
type Removal struct {
	RoomCode    string
	Participant Participant
	Remaining   []Participant
}

// Presence is the in-memory record of who is in which room.
// Each room maps user ID to participant, so a user is present at most once per room.
// byConn indexes connection ID to the rooms it holds a participant in.
// Every method runs under one mutex and never blocks on I/O.
type Presence struct {
	mu     sync.RWMutex
	rooms  map[string]map[int64]Participant
	byConn map[string]map[string]struct{}
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{
		rooms:  make(map[string]map[int64]Participant),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Upsert adds p to room, replacing any earlier entry for the same user.
// It returns the replaced entry, or nil, along with the new membership size and roster.
func (p *Presence) Upsert(room string, part Participant) (*Participant, int, []Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.rooms[room]
	if !ok {
		set = make(map[int64]Participant)
		p.rooms[room] = set
	}
	var replaced *Participant
	if old, ok := set[part.UserID]; ok {
		p.unindex(old.ConnectionID, room)
		replaced = &old
	}
	set[part.UserID] = part
	p.index(part.ConnectionID, room)
	return replaced, len(set), roster(set)
}

// Remove drops participants in room bound to connID, or to userID when userID is non-zero.
// The room entry is deleted once it is empty.
func (p *Presence) Remove(room, connID string, userID int64) (*Participant, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.rooms[room]
	if !ok {
		return nil, 0
	}
	var removed *Participant
	for uid, part := range set {
		if part.ConnectionID != connID && (userID == 0 || uid != userID) {
			continue
		}
		delete(set, uid)
		p.unindex(part.ConnectionID, room)
		if removed == nil {
			part := part
			removed = &part
		}
	}
	size := len(set)
	if size == 0 {
		delete(p.rooms, room)
	}
	return removed, size
}

// RemoveConnection drops every participant bound to connID. Unknown connections are a no-op.
// Removals are ordered by room code.
func (p *Presence) RemoveConnection(connID string) []Removal {
	p.mu.Lock()
	defer p.mu.Unlock()

	rooms := p.byConn[connID]
	if len(rooms) == 0 {
		return nil
	}
	codes := make([]string, 0, len(rooms))
	for code := range rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []Removal
	for _, code := range codes {
		set := p.rooms[code]
		for uid, part := range set {
			if part.ConnectionID != connID {
				continue
			}
			delete(set, uid)
			out = append(out, Removal{RoomCode: code, Participant: part, Remaining: roster(set)})
		}
		if len(set) == 0 {
			delete(p.rooms, code)
		}
	}
	delete(p.byConn, connID)
	return out
}

// Clear drops the whole membership set of room and returns what it held.
func (p *Presence) Clear(room string) []Participant {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.rooms[room]
	if !ok {
		return nil
	}
	for _, part := range set {
		p.unindex(part.ConnectionID, room)
	}
	delete(p.rooms, room)
	return roster(set)
}

// Participants returns the roster of room ordered by join time.
func (p *Presence) Participants(room string) []Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return roster(p.rooms[room])
}

// Count returns the membership size of room.
func (p *Presence) Count(room string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[room])
}

// Rooms returns the number of rooms with at least one participant.
func (p *Presence) Rooms() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms)
}

// RoomsOf returns the rooms connID currently holds a participant in.
func (p *Presence) RoomsOf(connID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byConn[connID]))
	for code := range p.byConn[connID] {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (p *Presence) index(connID, room string) {
	rooms, ok := p.byConn[connID]
	if !ok {
		rooms = make(map[string]struct{})
		p.byConn[connID] = rooms
	}
	rooms[room] = struct{}{}
}

func (p *Presence) unindex(connID, room string) {
	rooms, ok := p.byConn[connID]
	if !ok {
		return
	}
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(p.byConn, connID)
	}
}

func roster(set map[int64]Participant) []Participant {
	out := make([]Participant, 0, len(set))
	for _, part := range set {
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
