package domain

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type PeerStatus string

const (
	PeerStatusConnected    PeerStatus = "connected"
	PeerStatusConnecting   PeerStatus = "connecting"
	PeerStatusDisconnected PeerStatus = "disconnected"
)

// Peer represents an active room participant on the relay side.
type Peer struct {
	ID       string
	Role     Role
	Status   PeerStatus
	JoinedAt time.Time
	LastSeen time.Time
	Mutex    sync.RWMutex
	Socket   *websocket.Conn
	Events   chan Envelope

	eventsClosed bool
}

func NewPeer(id string, role Role) *Peer {
	return &Peer{
		ID:       id,
		Role:     role,
		Status:   PeerStatusConnecting,
		JoinedAt: time.Now().UTC(),
		LastSeen: time.Now().UTC(),
		Events:   make(chan Envelope, 16),
	}
}

func (p *Peer) Touch() {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	p.LastSeen = time.Now().UTC()
}

// EnqueueEvent delivers an event to the peer without blocking. It reports
// whether the event was accepted; a full queue or a closed peer drops it.
// Sends happen under the read lock so they can never race CloseEvents.
func (p *Peer) EnqueueEvent(event Envelope) bool {
	p.Mutex.RLock()
	defer p.Mutex.RUnlock()

	if p.eventsClosed || p.Events == nil {
		return false
	}
	select {
	case p.Events <- event:
		return true
	default:
		return false
	}
}

// CloseEvents closes the peer's event queue. Safe to call more than once.
func (p *Peer) CloseEvents() {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()

	if p.eventsClosed || p.Events == nil {
		return
	}
	p.eventsClosed = true
	close(p.Events)
}

func (p *Peer) SetStatus(status PeerStatus) {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	p.Status = status
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{ID: p.ID, Role: p.Role}
}
