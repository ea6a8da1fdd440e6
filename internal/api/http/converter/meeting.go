package converter

import (
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/service"
)

type MeetingResponse struct {
	ID                 string               `json:"id"`
	SessionID          string               `json:"session_id"`
	Status             domain.MeetingStatus `json:"status"`
	StartTime          time.Time            `json:"start_time"`
	EndTime            time.Time            `json:"end_time"`
	ActiveParticipants []string             `json:"active_participants"`
	LastEndedAt        *time.Time           `json:"last_ended_at,omitempty"`
	ReopenCount        int                  `json:"reopen_count"`
	Room               RoomResponse         `json:"room"`
}

type RoomResponse struct {
	State       domain.RoomState `json:"state"`
	HostConnID  string           `json:"host_conn_id,omitempty"`
	GuestConnID string           `json:"guest_conn_id,omitempty"`
}

// JoinResponse is the join preflight result. Its field names are shared with
// the web client's join call, hence camelCase.
type JoinResponse struct {
	MeetingID string               `json:"meetingId"`
	Status    domain.MeetingStatus `json:"status"`
	Role      domain.Role          `json:"role"`
	StartTime time.Time            `json:"startTime"`
	EndTime   time.Time            `json:"endTime"`
}

func MeetingToApi(m *domain.Meeting, snap service.RoomSnapshot) *MeetingResponse {
	active := m.ActiveParticipants
	if active == nil {
		active = []string{}
	}
	return &MeetingResponse{
		ID:                 m.ID,
		SessionID:          m.SessionID,
		Status:             m.Status,
		StartTime:          m.StartTime,
		EndTime:            m.EndTime,
		ActiveParticipants: active,
		LastEndedAt:        m.LastEndedAt,
		ReopenCount:        m.ReopenCount,
		Room: RoomResponse{
			State:       snap.State,
			HostConnID:  snap.HostConnID,
			GuestConnID: snap.GuestConnID,
		},
	}
}

func AdmissionToApi(a *service.Admission) *JoinResponse {
	return &JoinResponse{
		MeetingID: a.Meeting.ID,
		Status:    a.Meeting.Status,
		Role:      a.Role,
		StartTime: a.Meeting.StartTime,
		EndTime:   a.Meeting.EndTime,
	}
}
