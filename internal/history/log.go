package history

import (
	"sort"
	"sync"
	"time"
)

// Message kinds carried in the body type tag.
const (
	KindText = "text"
	KindFile = "file"
)

// Message is one immutable entry in a room's history. The sender fields are a
// snapshot taken at send time; later re-identification does not rewrite them.
// Ordering within a room is the append order of the log, not the Timestamp
// field, since retried client sends can arrive out of order.
type Message struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	SenderID     string    `json:"senderId"`
	SenderName   string    `json:"senderName"`
	SenderAvatar string    `json:"senderAvatar,omitempty"`
	MsgType      string    `json:"msgType"`
	Text         string    `json:"text,omitempty"`
	FileName     string    `json:"fileName,omitempty"`
	FileData     string    `json:"fileData,omitempty"`
	FileSize     int64     `json:"fileSize,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Log keeps the per-room append-only message history in memory. Appends and
// prunes are guarded by one mutex so a sweep sees a consistent point-in-time
// view and never loses a concurrent append.
type Log struct {
	mu    sync.RWMutex
	rooms map[string][]Message
}

// NewLog returns an empty history log.
func NewLog() *Log {
	return &Log{rooms: make(map[string][]Message)}
}

// Append adds a message to the room's sequence, creating the sequence if this
// is the room's first message. There is no size cap at append time; retention
// is enforced only by pruning.
func (l *Log) Append(roomID string, msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms[roomID] = append(l.rooms[roomID], msg)
}

// Snapshot returns a copy of the room's current sequence in append order.
// Unknown rooms yield an empty slice.
func (l *Log) Snapshot(roomID string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.rooms[roomID]
	out := make([]Message, len(entries))
	copy(out, entries)
	return out
}

// Len reports the number of retained messages for a room.
func (l *Log) Len(roomID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms[roomID])
}

// RoomIDs lists every room that currently has a log entry, sorted for
// deterministic iteration.
func (l *Log) RoomIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.rooms))
	for id := range l.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PruneAt removes every entry older than now-window, per room, replacing each
// room's sequence with the surviving suffix in unchanged relative order. Rooms
// left with no messages keep an empty entry; room garbage collection is a
// separate, explicit step (DropEmptyExcept). Returns the number of removed
// entries.
func (l *Log) PruneAt(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for roomID, entries := range l.rooms {
		idx := 0
		for _, msg := range entries {
			if !msg.Timestamp.Before(cutoff) {
				entries[idx] = msg
				idx++
			}
		}
		removed += len(entries) - idx
		l.rooms[roomID] = entries[:idx]
	}
	return removed
}

// DropEmptyExcept deletes the log entry of every room that has no messages
// left and is not in the active set. Returns the number of rooms dropped.
func (l *Log) DropEmptyExcept(active map[string]struct{}) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for roomID, entries := range l.rooms {
		if len(entries) != 0 {
			continue
		}
		if _, inUse := active[roomID]; inUse {
			continue
		}
		delete(l.rooms, roomID)
		dropped++
	}
	return dropped
}
