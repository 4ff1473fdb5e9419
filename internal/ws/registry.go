package ws

import "sync"

// Registry maps a room id to the connections currently joined to it, along
// with the display name each connection joined under. Writes come only from
// Hub.Run; the mutex lets other goroutines read sizes.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]map[*Client]string
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int64]map[*Client]string)}
}

// Register adds c to the room's set, creating the set if needed.
func (r *Registry) Register(roomID int64, c *Client, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Client]string)
		r.rooms[roomID] = members
	}
	members[c] = username
}

// Unregister removes c from the room's set and drops the room entry once it
// is empty.
func (r *Registry) Unregister(roomID int64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// ForEach calls fn for every connection registered to roomID. fn runs with
// the registry locked and must not call back into the registry.
func (r *Registry) ForEach(roomID int64, fn func(c *Client, username string)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c, username := range r.rooms[roomID] {
		fn(c, username)
	}
}

// Len returns the number of connections joined to roomID.
func (r *Registry) Len(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Has reports whether roomID has an entry at all.
func (r *Registry) Has(roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Rooms returns the number of rooms with at least one connection.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
