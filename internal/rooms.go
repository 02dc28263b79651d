package internal

import (
	"sort"
	"sync"
)

// Directory tracks which connections are subscribed to which rooms. Rooms are
// implicitly created on first join and their subscriber sets are deleted once
// the last connection leaves; there is no explicit leave operation, membership
// ends only on disconnect.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[string]struct{})}
}

// Join adds connID to the subscriber set of roomID, creating the set if this
// is the room's first subscriber.
func (d *Directory) Join(connID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		d.rooms[roomID] = set
	}
	set[connID] = struct{}{}
}

// Members returns the connection ids subscribed to roomID, sorted. Unknown
// rooms yield an empty slice.
func (d *Directory) Members(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.rooms[roomID]
	members := make([]string, 0, len(set))
	for connID := range set {
		members = append(members, connID)
	}
	sort.Strings(members)
	return members
}

// Contains reports whether connID is subscribed to roomID.
func (d *Directory) Contains(roomID, connID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[roomID][connID]
	return ok
}

// RemoveConnection drops connID from every room's subscriber set and returns
// the rooms it left. Subscriber sets that become empty are removed.
func (d *Directory) RemoveConnection(connID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var left []string
	for roomID, set := range d.rooms {
		if _, ok := set[connID]; !ok {
			continue
		}
		delete(set, connID)
		left = append(left, roomID)
		if len(set) == 0 {
			delete(d.rooms, roomID)
		}
	}
	sort.Strings(left)
	return left
}

// RoomIDs lists every room that currently has at least one subscriber.
func (d *Directory) RoomIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.rooms))
	for roomID := range d.rooms {
		ids = append(ids, roomID)
	}
	sort.Strings(ids)
	return ids
}
