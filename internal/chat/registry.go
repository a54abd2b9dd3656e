package chat

import (
	"sync"

	"go-chat-hub/internal/metrics"
)

// Handle is the hub's view of one live connection.
type Handle interface {
	// Send queues one text frame. It never blocks.
	Send(payload []byte) error
	// Close is idempotent.
	Close(code int, reason string)
}

type Kind int

const (
	KindDirect Kind = iota
	KindGlobal
	KindStatus
	KindRoom
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGlobal:
		return "global"
	case KindStatus:
		return "status"
	case KindRoom:
		return "room"
	default:
		return "unknown"
	}
}

// Key addresses a handle. Which fields matter depends on the Kind:
// direct uses UserID+PeerID, global uses UserID, room uses RoomID+UserID,
// status ignores the key and uses the handle itself.
type Key struct {
	UserID string
	PeerID string
	RoomID string
}

type Entry struct {
	Key    Key
	Handle Handle
}

// Registry indexes live handles. Its lock guards map mutation only; callers
// send on snapshots returned by All and Room.
type Registry struct {
	mu     sync.RWMutex
	direct map[string]map[string]Handle // owner -> peer -> handle
	global map[string]Handle            // user -> handle
	status map[Handle]string            // handle -> user
	rooms  map[string]map[string]Handle // room -> user -> handle
}

func NewRegistry() *Registry {
	return &Registry{
		direct: make(map[string]map[string]Handle),
		global: make(map[string]Handle),
		status: make(map[Handle]string),
		rooms:  make(map[string]map[string]Handle),
	}
}

// Attach stores h and returns the handle it replaced, if any. The replaced
// handle is closed with CloseSuperseded before Attach returns.
func (r *Registry) Attach(kind Kind, key Key, h Handle) Handle {
	r.mu.Lock()
	var old Handle
	switch kind {
	case KindDirect:
		old = put(r.direct, key.UserID, key.PeerID, h)
	case KindGlobal:
		old = r.global[key.UserID]
		r.global[key.UserID] = h
	case KindStatus:
		if _, ok := r.status[h]; ok {
			old = h
		}
		r.status[h] = key.UserID
	case KindRoom:
		old = put(r.rooms, key.RoomID, key.UserID, h)
	}
	r.mu.Unlock()

	if old == h {
		return nil
	}
	if old == nil {
		metrics.Connections.WithLabelValues(kind.String()).Inc()
		return nil
	}
	old.Close(CloseSuperseded, "superseded by a newer connection")
	return old
}

// Detach removes the entry under key if it still holds h. A nil h removes
// whatever is there. Absent entries are a no-op.
func (r *Registry) Detach(kind Kind, key Key, h Handle) bool {
	r.mu.Lock()
	var removed bool
	switch kind {
	case KindDirect:
		removed = drop(r.direct, key.UserID, key.PeerID, h)
	case KindGlobal:
		if cur, ok := r.global[key.UserID]; ok && (h == nil || cur == h) {
			delete(r.global, key.UserID)
			removed = true
		}
	case KindStatus:
		if _, ok := r.status[h]; ok {
			delete(r.status, h)
			removed = true
		}
	case KindRoom:
		removed = drop(r.rooms, key.RoomID, key.UserID, h)
	}
	r.mu.Unlock()

	if removed {
		metrics.Connections.WithLabelValues(kind.String()).Dec()
	}
	return removed
}

func (r *Registry) Lookup(kind Kind, key Key) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var h Handle
	switch kind {
	case KindDirect:
		h = r.direct[key.UserID][key.PeerID]
	case KindGlobal:
		h = r.global[key.UserID]
	case KindRoom:
		h = r.rooms[key.RoomID][key.UserID]
	}
	return h, h != nil
}

// All returns a snapshot of every handle of kind.
func (r *Registry) All(kind Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	switch kind {
	case KindDirect:
		for owner, peers := range r.direct {
			for peer, h := range peers {
				out = append(out, Entry{Key: Key{UserID: owner, PeerID: peer}, Handle: h})
			}
		}
	case KindGlobal:
		for id, h := range r.global {
			out = append(out, Entry{Key: Key{UserID: id}, Handle: h})
		}
	case KindStatus:
		for h, id := range r.status {
			out = append(out, Entry{Key: Key{UserID: id}, Handle: h})
		}
	case KindRoom:
		for room, members := range r.rooms {
			for id, h := range members {
				out = append(out, Entry{Key: Key{RoomID: room, UserID: id}, Handle: h})
			}
		}
	}
	return out
}

// Room returns a snapshot of the handles attached to one room.
func (r *Registry) Room(roomID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Entry, 0, len(members))
	for id, h := range members {
		out = append(out, Entry{Key: Key{RoomID: roomID, UserID: id}, Handle: h})
	}
	return out
}

// Holds reports whether userID still owns any direct or room handle.
func (r *Registry) Holds(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.direct[userID]) > 0 {
		return true
	}
	for _, members := range r.rooms {
		if _, ok := members[userID]; ok {
			return true
		}
	}
	return false
}

func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case KindDirect:
		n := 0
		for _, peers := range r.direct {
			n += len(peers)
		}
		return n
	case KindGlobal:
		return len(r.global)
	case KindStatus:
		return len(r.status)
	case KindRoom:
		n := 0
		for _, members := range r.rooms {
			n += len(members)
		}
		return n
	}
	return 0
}

func put(m map[string]map[string]Handle, outer, inner string, h Handle) Handle {
	group, ok := m[outer]
	if !ok {
		group = make(map[string]Handle)
		m[outer] = group
	}
	old := group[inner]
	group[inner] = h
	return old
}

// drop deletes m[outer][inner] if it matches h and removes the group once empty.
func drop(m map[string]map[string]Handle, outer, inner string, h Handle) bool {
	group, ok := m[outer]
	if !ok {
		return false
	}
	cur, ok := group[inner]
	if !ok || (h != nil && cur != h) {
		return false
	}
	delete(group, inner)
	if len(group) == 0 {
		delete(m, outer)
	}
	return true
}
