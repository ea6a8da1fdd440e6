package domain

import (
	"sync"
	"time"
)

type RoomState string

const (
	RoomEmpty    RoomState = "empty"
	RoomHalfOpen RoomState = "half-open"
	RoomReady    RoomState = "ready"
)

// Room is the in-memory slot table for one meeting. It is never persisted;
// the Meeting record is authoritative for history.
type Room struct {
	Mutex     sync.Mutex
	MeetingID string
	Host      *Peer
	Guest     *Peer
	// Identities maps a connection id to the identity that registered it.
	Identities map[string]string
	// Pairing increments each time both slots become filled.
	Pairing    uint64
	ReadyTimer *time.Timer
	// Closed is set once the room is dropped from the registry. A joiner
	// that raced the drop must fetch a fresh room.
	Closed    bool
	CreatedAt time.Time
}

func NewRoom(meetingID string) *Room {
	return &Room{
		MeetingID:  meetingID,
		Identities: make(map[string]string),
		CreatedAt:  time.Now().UTC(),
	}
}

// The methods below expect Mutex to be held by the caller.

func (r *Room) Slot(role Role) *Peer {
	if role == RoleHost {
		return r.Host
	}
	return r.Guest
}

// SetSlot places p into its role slot and returns the previous occupant.
func (r *Room) SetSlot(p *Peer) *Peer {
	prev := r.Slot(p.Role)
	if p.Role == RoleHost {
		r.Host = p
	} else {
		r.Guest = p
	}
	if prev != nil {
		delete(r.Identities, prev.ID)
	}
	r.Identities[p.ID] = p.Identity
	return prev
}

// ClearConn empties the slot held by connID. It returns nil when connID no
// longer occupies any slot (for example after being replaced by a reconnect).
func (r *Room) ClearConn(connID string) *Peer {
	var cleared *Peer
	switch {
	case r.Host != nil && r.Host.ID == connID:
		cleared, r.Host = r.Host, nil
	case r.Guest != nil && r.Guest.ID == connID:
		cleared, r.Guest = r.Guest, nil
	}
	if cleared != nil {
		delete(r.Identities, connID)
	}
	return cleared
}

// Other returns the occupant that is not connID.
func (r *Room) Other(connID string) *Peer {
	switch {
	case r.Host != nil && r.Host.ID == connID:
		return r.Guest
	case r.Guest != nil && r.Guest.ID == connID:
		return r.Host
	default:
		return nil
	}
}

func (r *Room) Occupant(connID string) *Peer {
	switch {
	case r.Host != nil && r.Host.ID == connID:
		return r.Host
	case r.Guest != nil && r.Guest.ID == connID:
		return r.Guest
	default:
		return nil
	}
}

func (r *Room) Peers() []*Peer {
	peers := make([]*Peer, 0, 2)
	if r.Host != nil {
		peers = append(peers, r.Host)
	}
	if r.Guest != nil {
		peers = append(peers, r.Guest)
	}
	return peers
}

func (r *Room) State() RoomState {
	switch {
	case r.Host != nil && r.Guest != nil:
		return RoomReady
	case r.Host != nil || r.Guest != nil:
		return RoomHalfOpen
	default:
		return RoomEmpty
	}
}

func (r *Room) StopReadyTimer() {
	if r.ReadyTimer != nil {
		r.ReadyTimer.Stop()
		r.ReadyTimer = nil
	}
}
