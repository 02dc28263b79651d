package internal

import (
	"fmt"
	"strings"
	"time"

	"roomrelay/internal/history"
)

// Inbound event types a connection may send.
const (
	EventIdentify    = "identify"
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventSendFile    = "send-file"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
)

// Outbound event types the relay emits.
const (
	EventRoster          = "roster"
	EventHistory         = "history"
	EventMessage         = "message"
	EventPresenceOnline  = "presence-online"
	EventPresenceOffline = "presence-offline"
)

// ClientEvent is the flat JSON envelope for everything a connection sends us.
// Only the fields relevant to the given type are expected to be set.
type ClientEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	Text     string `json:"text,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileData string `json:"fileData,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// Validate classifies malformed payloads so the relay can drop them at the
// boundary instead of letting a missing field produce undefined behavior.
func (e ClientEvent) Validate() error {
	switch e.Type {
	case EventIdentify:
		return nil
	case EventJoinRoom, EventTypingStart, EventTypingStop:
		if strings.TrimSpace(e.RoomID) == "" {
			return fmt.Errorf("%s: missing roomId", e.Type)
		}
		return nil
	case EventSendMessage:
		if strings.TrimSpace(e.RoomID) == "" {
			return fmt.Errorf("%s: missing roomId", e.Type)
		}
		if e.Text == "" {
			return fmt.Errorf("%s: missing text", e.Type)
		}
		return nil
	case EventSendFile:
		if strings.TrimSpace(e.RoomID) == "" {
			return fmt.Errorf("%s: missing roomId", e.Type)
		}
		if e.FileName == "" {
			return fmt.Errorf("%s: missing fileName", e.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// RosterUser is one entry of the online-user list, shared by the roster event
// and the REST read surface.
type RosterUser struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

func rosterUsers(users []User) []RosterUser {
	out := make([]RosterUser, 0, len(users))
	for _, u := range users {
		out = append(out, RosterUser{
			ID:       u.ID,
			Name:     u.Name,
			Avatar:   u.Avatar,
			Online:   true,
			LastSeen: u.LastSeen,
		})
	}
	return out
}

// RosterEvent is delivered to the identifying connection only.
type RosterEvent struct {
	Type  string       `json:"type"`
	Users []RosterUser `json:"users"`
}

// PresenceOnlineEvent is broadcast to every other registered connection when a
// connection identifies.
type PresenceOnlineEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// PresenceOfflineEvent is broadcast to all remaining connections on
// disconnect.
type PresenceOfflineEvent struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	LastSeen time.Time `json:"lastSeen"`
}

// HistoryEvent replays a room's current log to the joining connection only.
type HistoryEvent struct {
	Type     string            `json:"type"`
	RoomID   string            `json:"roomId"`
	Messages []history.Message `json:"messages"`
}

// MessageEvent fans a persisted message out to the room, sender included so
// its UI reflects the authoritative server state.
type MessageEvent struct {
	Type string `json:"type"`
	history.Message
}

// TypingEvent is the ephemeral typing relay; never persisted, never echoed to
// its sender.
type TypingEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
