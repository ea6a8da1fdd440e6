package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type PeerStatus string

const (
	PeerStatusConnected    PeerStatus = "connected"
	PeerStatusConnecting   PeerStatus = "connecting"
	PeerStatusDisconnected PeerStatus = "disconnected"
)

const peerEventBuffer = 64

// Peer is one live signaling connection registered in a room slot.
type Peer struct {
	ID        string
	MeetingID string
	Identity  string
	Role      Role
	Status    PeerStatus
	JoinedAt  time.Time
	LastSeen  time.Time
	Mutex     sync.RWMutex
	Events    chan SignalMessage

	done      chan struct{}
	closeOnce sync.Once
}

func NewPeer(meetingID, identity string, role Role) *Peer {
	now := time.Now().UTC()
	return &Peer{
		ID:        uuid.New().String(),
		MeetingID: meetingID,
		Identity:  identity,
		Role:      role,
		Status:    PeerStatusConnecting,
		JoinedAt:  now,
		LastSeen:  now,
		Events:    make(chan SignalMessage, peerEventBuffer),
		done:      make(chan struct{}),
	}
}

func (p *Peer) Touch() {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	p.LastSeen = time.Now().UTC()
}

// EnqueueEvent queues an outbound event without blocking. It reports false
// when the peer is closed or its buffer is full.
func (p *Peer) EnqueueEvent(event SignalMessage) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.Events <- event:
		return true
	default:
		return false
	}
}

func (p *Peer) SetStatus(status PeerStatus) {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	p.Status = status
}

func (p *Peer) CurrentStatus() PeerStatus {
	p.Mutex.RLock()
	defer p.Mutex.RUnlock()
	return p.Status
}

// Close signals the writer of this peer to flush and stop. Safe to call more
// than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.SetStatus(PeerStatusDisconnected)
		close(p.done)
	})
}

// Done is closed once the peer has been kicked, replaced or ended.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) IsClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
