package domain

import (
	"slices"
	"time"
)

type MeetingStatus string

const (
	MeetingStatusNotStarted MeetingStatus = "not-started"
	MeetingStatusLive       MeetingStatus = "live"
	MeetingStatusFinished   MeetingStatus = "finished"
)

// Meeting is the call-side record of a Session. Its ID equals the Session ID.
type Meeting struct {
	ID                 string        `json:"id"`
	SessionID          string        `json:"session_id"`
	ParticipantA       string        `json:"participant_a"`
	ParticipantB       string        `json:"participant_b"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Status             MeetingStatus `json:"status"`
	ActiveParticipants []string      `json:"active_participants"`
	LastEndedAt        *time.Time    `json:"last_ended_at,omitempty"`
	ReopenCount        int           `json:"reopen_count"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewMeetingFromSession copies the window and participants of s into a
// not-started meeting.
func NewMeetingFromSession(s *Session) *Meeting {
	now := time.Now().UTC()
	return &Meeting{
		ID:                 s.ID,
		SessionID:          s.ID,
		ParticipantA:       s.ParticipantA,
		ParticipantB:       s.ParticipantB,
		StartTime:          s.StartTime.UTC(),
		EndTime:            s.EndTime.UTC(),
		Status:             MeetingStatusNotStarted,
		ActiveParticipants: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (m *Meeting) IsFinished() bool {
	return m.Status == MeetingStatusFinished
}

func (m *Meeting) HasActive(identity string) bool {
	return slices.Contains(m.ActiveParticipants, identity)
}

// AddActive inserts identity into the active set and marks the meeting live.
func (m *Meeting) AddActive(identity string) {
	if !m.HasActive(identity) {
		m.ActiveParticipants = append(m.ActiveParticipants, identity)
	}
	m.Status = MeetingStatusLive
}

func (m *Meeting) RemoveActive(identity string) {
	m.ActiveParticipants = slices.DeleteFunc(m.ActiveParticipants, func(id string) bool {
		return id == identity
	})
}

// Window returns the booked time window of the meeting.
func (m *Meeting) Window() Window {
	return Window{Start: m.StartTime, End: m.EndTime}
}

// Clone returns a deep copy so callers never share the active set slice.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	c := *m
	c.ActiveParticipants = slices.Clone(m.ActiveParticipants)
	if c.ActiveParticipants == nil {
		c.ActiveParticipants = []string{}
	}
	if m.LastEndedAt != nil {
		t := *m.LastEndedAt
		c.LastEndedAt = &t
	}
	return &c
}
