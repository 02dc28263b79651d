package internal

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// User is the identity a connection has claimed. Exactly one record exists per
// identified connection; it is owned by the Registry and destroyed when the
// connection closes.
type User struct {
	ID       string
	Name     string
	Avatar   string
	LastSeen time.Time
	Rooms    []string
}

type userRecord struct {
	id       string
	name     string
	avatar   string
	lastSeen time.Time
	rooms    map[string]struct{}
}

func (rec *userRecord) snapshot() User {
	rooms := make([]string, 0, len(rec.rooms))
	for roomID := range rec.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return User{
		ID:       rec.id,
		Name:     rec.name,
		Avatar:   rec.avatar,
		LastSeen: rec.lastSeen,
		Rooms:    rooms,
	}
}

// Registry maps active connection ids to identified users and tracks global
// online/offline transitions. Reads come from HTTP handlers concurrently with
// the relay loop, so all access is mutex-guarded and methods return copies.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*userRecord
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		users:  make(map[string]*userRecord),
		logger: logger.Named("presence"),
	}
}

// Register creates or replaces the user bound to connID. A missing user id
// defaults to the connection id and a missing name is tolerated (the display
// degrades rather than errors). Re-identification overwrites the record but
// keeps the joined-room set, so room membership survives a rename.
func (r *Registry) Register(connID, userID, name, avatar string) User {
	if userID == "" {
		userID = connID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.users[connID]
	if !exists {
		rec = &userRecord{rooms: make(map[string]struct{})}
		r.users[connID] = rec
	}
	rec.id = userID
	rec.name = name
	rec.avatar = avatar
	rec.lastSeen = time.Now()
	if exists {
		r.logger.Debug("re-identified connection",
			zap.String("connID", connID), zap.String("userID", userID))
	}
	return rec.snapshot()
}

// Lookup returns the user bound to connID, if any. Pure read.
func (r *Registry) Lookup(connID string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	return rec.snapshot(), true
}

// MarkJoined records roomID in the user's joined-room set. Returns false when
// the connection never identified.
func (r *Registry) MarkJoined(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[connID]
	if !ok {
		return false
	}
	rec.rooms[roomID] = struct{}{}
	return true
}

// Touch refreshes the user's last-seen timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.users[connID]; ok {
		rec.lastSeen = time.Now()
	}
}

// Unregister removes the user bound to connID and returns the final record,
// with LastSeen stamped, so the caller can broadcast the offline transition.
// A connection that disconnected before identifying is a no-op.
func (r *Registry) Unregister(connID string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	rec.lastSeen = time.Now()
	delete(r.users, connID)
	return rec.snapshot(), true
}

// Roster returns every currently identified user, name-ordered so snapshots
// are deterministic.
func (r *Registry) Roster() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.users))
	for _, rec := range r.users {
		users = append(users, rec.snapshot())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// ConnIDs lists the connection ids of every identified connection.
func (r *Registry) ConnIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users))
	for connID := range r.users {
		ids = append(ids, connID)
	}
	return ids
}

// Size reports how many connections are currently identified.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
