package domain

import "time"

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusConfirmed SessionStatus = "confirmed"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session is a booked interview slot. It is owned by the booking flow and
// treated as read-only here.
type Session struct {
	ID           string        `json:"id"`
	ParticipantA string        `json:"participant_a"` // expert
	ParticipantB string        `json:"participant_b"` // candidate
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Status       SessionStatus `json:"status"`
}
