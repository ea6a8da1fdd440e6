package service

import (
	"context"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/pion/webrtc/v3"
)

type MeetingInteractor interface {
	Get(ctx context.Context, meetingID string) (*domain.Meeting, error)
	GetOrCreate(ctx context.Context, sessionID string) (*domain.Meeting, error)
	Admit(ctx context.Context, sessionID, identity string) (*Admission, error)
	RoleOf(ctx context.Context, meetingID, identity string) (domain.Role, error)
	AddParticipant(ctx context.Context, meetingID, identity string) (*domain.Meeting, error)
	RemoveParticipant(ctx context.Context, meetingID, identity string) (*domain.Meeting, error)
	SetStatus(ctx context.Context, meetingID string, status domain.MeetingStatus) (*domain.Meeting, error)
	Reconcile(ctx context.Context, meetingID string) (*domain.Meeting, error)
}

type SignalingInteractor interface {
	Join(ctx context.Context, msg domain.SignalMessage, identity string) (*domain.Peer, error)
	HandleSignal(ctx context.Context, peer *domain.Peer, msg domain.SignalMessage) error
	Leave(ctx context.Context, peer *domain.Peer) error
	EndAsParticipant(ctx context.Context, meetingID, identity string) (*domain.Meeting, error)
	Snapshot(meetingID string) RoomSnapshot
}

type ICEProvider interface {
	ICEServers() ([]webrtc.ICEServer, error)
}
