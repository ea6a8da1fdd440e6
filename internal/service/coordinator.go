package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

// RoomSnapshot is a read-only view of a room for status endpoints.
type RoomSnapshot struct {
	State       domain.RoomState
	HostConnID  string
	GuestConnID string
}

// Coordinator owns the live rooms of meetings: one host slot and one guest
// slot each. It admits connections, relays negotiation messages between the
// two occupants and tears rooms down when a call ends.
type Coordinator struct {
	meetings   MeetingInteractor
	log        *slog.Logger
	validate   *validator.Validate
	readyDelay time.Duration
	endPolicy  domain.EndPolicy

	mu    sync.Mutex
	rooms map[string]*domain.Room
}

func NewCoordinator(meetings MeetingInteractor, readyDelay time.Duration, endPolicy domain.EndPolicy, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	endPolicy = domain.ParseEndPolicy(string(endPolicy))
	return &Coordinator{
		meetings:   meetings,
		log:        log,
		validate:   validator.New(),
		readyDelay: readyDelay,
		endPolicy:  endPolicy,
		rooms:      make(map[string]*domain.Room),
	}
}

// Join admits identity into the meeting named by a join-room message and
// registers a new connection in the slot of its derived role. A previous
// connection in that slot is replaced and closed.
func (c *Coordinator) Join(ctx context.Context, msg domain.SignalMessage, identity string) (*domain.Peer, error) {
	const op = "service.coordinator.join"
	log := c.log.With(
		slog.String("op", op),
		slog.String("meeting_id", msg.MeetingID),
		slog.String("identity", identity),
	)

	if msg.Type != domain.SignalJoinRoom {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrBadMessage, domain.SignalJoinRoom, msg.Type)
	}
	if err := c.validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if msg.Identity != "" && identity != "" && msg.Identity != identity {
		log.Warn("declared identity does not match token", slog.String("declared", msg.Identity))
		return nil, ErrUnauthorized
	}
	if identity == "" {
		identity = msg.Identity
	}

	admission, err := c.meetings.Admit(ctx, msg.MeetingID, identity)
	if err != nil {
		return nil, err
	}
	role := admission.Role
	if msg.Role != "" && msg.Role != role {
		log.Warn("declared role ignored", slog.String("declared", string(msg.Role)), slog.String("role", string(role)))
	}

	meeting, err := c.meetings.AddParticipant(ctx, admission.Meeting.ID, identity)
	if err != nil {
		log.Error("failed to add participant", sl.Err(err))
		return nil, err
	}

	peer := domain.NewPeer(meeting.ID, identity, role)

	var stale *domain.Peer
	for {
		room := c.room(meeting.ID)
		room.Mutex.Lock()
		if room.Closed {
			room.Mutex.Unlock()
			continue
		}

		stale = room.SetSlot(peer)
		peer.SetStatus(domain.PeerStatusConnected)
		peer.EnqueueEvent(domain.SignalMessage{
			Type:      domain.SignalJoined,
			MeetingID: meeting.ID,
			ConnID:    peer.ID,
			Role:      role,
			Status:    meeting.Status,
		})
		if room.State() == domain.RoomReady {
			c.scheduleReady(room)
		} else {
			room.StopReadyTimer()
		}
		room.Mutex.Unlock()
		break
	}

	if stale != nil {
		log.Info("replacing stale connection", slog.String("role", string(role)), slog.String("conn_id", stale.ID))
		stale.Close()
		if stale.Identity != identity {
			if _, err := c.meetings.RemoveParticipant(ctx, meeting.ID, stale.Identity); err != nil {
				log.Warn("failed to drop stale identity", sl.Err(err))
			}
		}
	}

	log.Info("peer joined", slog.String("conn_id", peer.ID), slog.String("role", string(role)))
	return peer, nil
}

// scheduleReady starts a new pairing and announces it to both occupants
// after readyDelay, unless the pairing changed in between. Room lock held.
func (c *Coordinator) scheduleReady(room *domain.Room) {
	room.StopReadyTimer()
	room.Pairing++
	pairing := room.Pairing

	if c.readyDelay <= 0 {
		c.announceReady(room)
		return
	}

	room.ReadyTimer = time.AfterFunc(c.readyDelay, func() {
		room.Mutex.Lock()
		defer room.Mutex.Unlock()
		if room.Closed || room.Pairing != pairing || room.State() != domain.RoomReady {
			return
		}
		room.ReadyTimer = nil
		c.announceReady(room)
	})
}

// announceReady expects the room lock to be held.
func (c *Coordinator) announceReady(room *domain.Room) {
	msg := domain.SignalMessage{
		Type:        domain.SignalBothReady,
		MeetingID:   room.MeetingID,
		HostConnID:  room.Host.ID,
		GuestConnID: room.Guest.ID,
	}
	for _, p := range room.Peers() {
		if !p.EnqueueEvent(msg) {
			c.log.Warn("both-ready not delivered", slog.String("meeting_id", room.MeetingID), slog.String("conn_id", p.ID))
		}
	}
	c.log.Info("both participants ready",
		slog.String("meeting_id", room.MeetingID),
		slog.Uint64("pairing", room.Pairing),
	)
}

// HandleSignal dispatches a message read from a joined connection.
func (c *Coordinator) HandleSignal(ctx context.Context, peer *domain.Peer, msg domain.SignalMessage) error {
	peer.Touch()

	switch {
	case msg.IsNegotiation():
		return c.Relay(peer, msg)
	case msg.Type == domain.SignalEndCall:
		meetingID := msg.MeetingID
		if meetingID == "" {
			meetingID = peer.MeetingID
		}
		return c.EndCall(ctx, peer, meetingID)
	case msg.Type == domain.SignalPing:
		peer.EnqueueEvent(domain.SignalMessage{Type: domain.SignalPong})
		return nil
	case msg.Type == domain.SignalJoinRoom:
		return ErrAlreadyJoined
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrBadMessage, msg.Type)
	}
}

// Relay forwards an offer, answer or candidate to the other occupant of the
// sender's room. Messages are never echoed back to the sender.
func (c *Coordinator) Relay(sender *domain.Peer, msg domain.SignalMessage) error {
	const op = "service.coordinator.relay"
	log := c.log.With(
		slog.String("op", op),
		slog.String("meeting_id", sender.MeetingID),
		slog.String("conn_id", sender.ID),
		slog.String("type", string(msg.Type)),
	)

	if !msg.IsNegotiation() {
		return fmt.Errorf("%w: %q is not relayed", ErrBadMessage, msg.Type)
	}

	room := c.lookup(sender.MeetingID)
	if room == nil {
		return ErrNotInRoom
	}

	room.Mutex.Lock()
	if room.Occupant(sender.ID) == nil {
		room.Mutex.Unlock()
		return ErrNotInRoom
	}
	target := room.Other(sender.ID)
	room.Mutex.Unlock()

	if target == nil {
		log.Debug("no counterpart to relay to")
		return nil
	}

	forward := msg
	forward.MeetingID = sender.MeetingID
	forward.SenderConnID = sender.ID
	forward.Identity = ""
	forward.Role = sender.Role

	if !target.EnqueueEvent(forward) {
		// A dropped negotiation message would leave the pair half-negotiated,
		// so the slow receiver is kicked and has to reconnect.
		log.Warn("counterpart not keeping up, closing it", slog.String("target", target.ID))
		target.Close()
	}
	return nil
}

// EndCall ends the meeting on behalf of a joined connection, subject to the
// configured end policy.
func (c *Coordinator) EndCall(ctx context.Context, sender *domain.Peer, meetingID string) error {
	if meetingID != sender.MeetingID {
		return ErrNotInRoom
	}
	if !c.endPolicy.Allows(sender.Role) {
		return ErrEndNotAllowed
	}

	room := c.lookup(meetingID)
	if room == nil {
		return ErrNotInRoom
	}
	room.Mutex.Lock()
	registered := room.Occupant(sender.ID) != nil
	room.Mutex.Unlock()
	if !registered {
		return ErrNotInRoom
	}

	_, err := c.endMeeting(ctx, meetingID, sender.ID)
	return err
}

// EndAsParticipant ends a meeting from outside the signaling channel. Only
// the host may do so.
func (c *Coordinator) EndAsParticipant(ctx context.Context, meetingID, identity string) (*domain.Meeting, error) {
	role, err := c.meetings.RoleOf(ctx, meetingID, identity)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleHost {
		return nil, ErrEndNotAllowed
	}
	return c.endMeeting(ctx, meetingID, "")
}

func (c *Coordinator) endMeeting(ctx context.Context, meetingID, by string) (*domain.Meeting, error) {
	const op = "service.coordinator.endMeeting"
	log := c.log.With(slog.String("op", op), slog.String("meeting_id", meetingID))

	meeting, err := c.meetings.SetStatus(ctx, meetingID, domain.MeetingStatusFinished)
	if err != nil {
		log.Error("failed to finish meeting", sl.Err(err))
		return nil, err
	}

	c.mu.Lock()
	room := c.rooms[meetingID]
	delete(c.rooms, meetingID)
	c.mu.Unlock()

	if room == nil {
		log.Info("meeting ended without live room")
		return meeting, nil
	}

	room.Mutex.Lock()
	room.Closed = true
	room.StopReadyTimer()
	peers := room.Peers()
	room.Host, room.Guest = nil, nil
	clear(room.Identities)
	room.Mutex.Unlock()

	ended := domain.SignalMessage{
		Type:         domain.SignalEnded,
		MeetingID:    meetingID,
		SenderConnID: by,
		Status:       domain.MeetingStatusFinished,
	}
	for _, p := range peers {
		p.EnqueueEvent(ended)
		p.Close()
		if meeting, err = c.meetings.RemoveParticipant(ctx, meetingID, p.Identity); err != nil {
			log.Warn("failed to remove participant", slog.String("identity", p.Identity), sl.Err(err))
		}
	}

	log.Info("meeting ended", slog.String("by", by), slog.Int("peers", len(peers)))
	if meeting == nil {
		return c.meetings.Get(ctx, meetingID)
	}
	return meeting, nil
}

// Leave unregisters a connection after its socket closed. It does nothing
// when the connection was already replaced or the room is gone.
func (c *Coordinator) Leave(ctx context.Context, peer *domain.Peer) error {
	const op = "service.coordinator.leave"
	log := c.log.With(
		slog.String("op", op),
		slog.String("meeting_id", peer.MeetingID),
		slog.String("conn_id", peer.ID),
	)

	peer.Close()

	room := c.lookup(peer.MeetingID)
	if room == nil {
		return nil
	}

	room.Mutex.Lock()
	cleared := room.ClearConn(peer.ID)
	if cleared == nil {
		room.Mutex.Unlock()
		return nil
	}
	room.StopReadyTimer()
	other := room.Slot(cleared.Role.Other())
	room.Mutex.Unlock()

	if other != nil {
		other.EnqueueEvent(domain.SignalMessage{
			Type:      domain.SignalUserLeft,
			MeetingID: peer.MeetingID,
			ConnID:    cleared.ID,
			Role:      cleared.Role,
		})
	}

	if other == nil || other.Identity != cleared.Identity {
		if _, err := c.meetings.RemoveParticipant(ctx, peer.MeetingID, cleared.Identity); err != nil {
			log.Error("failed to remove participant", sl.Err(err))
			return err
		}
	}

	meeting, err := c.meetings.Reconcile(ctx, peer.MeetingID)
	if err != nil {
		log.Error("failed to reconcile meeting", sl.Err(err))
		return err
	}
	if meeting.IsFinished() {
		c.dropIfEmpty(peer.MeetingID, room)
	}

	log.Info("peer left", slog.String("role", string(cleared.Role)), slog.String("status", string(meeting.Status)))
	return nil
}

// Sweep reconciles rooms nobody is connected to and drops the ones whose
// meeting has finished.
func (c *Coordinator) Sweep(ctx context.Context) {
	const op = "service.coordinator.sweep"

	c.mu.Lock()
	rooms := make([]*domain.Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		room.Mutex.Lock()
		empty := room.State() == domain.RoomEmpty
		room.Mutex.Unlock()
		if !empty {
			continue
		}

		meeting, err := c.meetings.Reconcile(ctx, room.MeetingID)
		if err != nil {
			c.log.Warn("sweep reconcile failed", slog.String("op", op), slog.String("meeting_id", room.MeetingID), sl.Err(err))
			continue
		}
		if meeting.IsFinished() && c.dropIfEmpty(room.MeetingID, room) {
			c.log.Debug("room collected", slog.String("op", op), slog.String("meeting_id", room.MeetingID))
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

func (c *Coordinator) Snapshot(meetingID string) RoomSnapshot {
	room := c.lookup(meetingID)
	if room == nil {
		return RoomSnapshot{State: domain.RoomEmpty}
	}

	room.Mutex.Lock()
	defer room.Mutex.Unlock()

	snap := RoomSnapshot{State: room.State()}
	if room.Host != nil {
		snap.HostConnID = room.Host.ID
	}
	if room.Guest != nil {
		snap.GuestConnID = room.Guest.ID
	}
	return snap
}

func (c *Coordinator) room(meetingID string) *domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[meetingID]
	if !ok {
		room = domain.NewRoom(meetingID)
		c.rooms[meetingID] = room
	}
	return room
}

func (c *Coordinator) lookup(meetingID string) *domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[meetingID]
}

// dropIfEmpty removes room from the registry when it is still the
// registered room and has no occupant.
func (c *Coordinator) dropIfEmpty(meetingID string, room *domain.Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms[meetingID] != room {
		return false
	}

	room.Mutex.Lock()
	defer room.Mutex.Unlock()
	if room.State() != domain.RoomEmpty {
		return false
	}
	room.Closed = true
	room.StopReadyTimer()
	delete(c.rooms, meetingID)
	return true
}

// IsClientError reports whether err is caused by the caller rather than by
// the server.
func IsClientError(err error) bool {
	var windowErr *TimeWindowError
	return errors.As(err, &windowErr) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrMeetingFinished) ||
		errors.Is(err, ErrEndNotAllowed) ||
		errors.Is(err, ErrNotInRoom) ||
		errors.Is(err, ErrAlreadyJoined) ||
		errors.Is(err, ErrBadMessage)
}
