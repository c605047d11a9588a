package domain

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const linkLength = 12

// Room represents one broadcast session that a single broadcaster and any
// number of viewers share. It stores the metadata required for validation
// and quick signalling lookups.
type Room struct {
	Mutex     sync.RWMutex
	ID        uuid.UUID
	Name      string
	Link      string
	Peers     map[string]*Peer
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewRoom constructs a room with generated identifiers and lifetime options.
func NewRoom(name string, lifetime time.Duration) *Room {
	now := time.Now().UTC()
	room := &Room{
		ID:        uuid.New(),
		Name:      name,
		Link:      generateLink(),
		Peers:     make(map[string]*Peer),
		CreatedAt: now,
	}

	if lifetime > 0 {
		room.ExpiresAt = now.Add(lifetime)
	}

	return room
}

// IsExpired reports whether the room is no longer valid.
func (r *Room) IsExpired() bool {
	if r == nil {
		return true
	}
	if r.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(r.ExpiresAt)
}

// Broadcaster returns the broadcaster peer currently in the room, if any.
func (r *Room) Broadcaster() *Peer {
	r.Mutex.RLock()
	defer r.Mutex.RUnlock()
	for _, peer := range r.Peers {
		if peer.Role == RoleBroadcaster {
			return peer
		}
	}
	return nil
}

// Roster returns a snapshot of all peers currently in the room.
func (r *Room) Roster() []PeerInfo {
	r.Mutex.RLock()
	defer r.Mutex.RUnlock()
	roster := make([]PeerInfo, 0, len(r.Peers))
	for _, peer := range r.Peers {
		roster = append(roster, peer.Info())
	}
	return roster
}

func generateLink() string {
	link := strings.ReplaceAll(uuid.New().String(), "-", "")
	if len(link) <= linkLength {
		return link
	}
	return link[:linkLength]
}
