package domain

import (
	"time"

	"github.com/pion/webrtc/v3"
)

type SignalType string

const (
	SignalJoinRoom     SignalType = "join-room"
	SignalJoined       SignalType = "joined"
	SignalBothReady    SignalType = "both-ready"
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalEndCall      SignalType = "end-call"
	SignalEnded        SignalType = "meeting-ended"
	SignalUserLeft     SignalType = "user-left"
	SignalError        SignalType = "error"
	SignalPing         SignalType = "ping"
	SignalPong         SignalType = "pong"
)

// Error reasons carried by SignalError events.
const (
	ReasonUnauthorized  = "unauthorized"
	ReasonNotFound      = "not-found"
	ReasonNotYetStarted = "not-yet-started"
	ReasonExpired       = "expired"
	ReasonFinished      = "finished"
	ReasonNotAllowed    = "not-allowed"
	ReasonBadRequest    = "bad-request"
	ReasonInternal      = "internal"
)

// SignalMessage is the envelope for every real-time message in both
// directions. Negotiation payloads (SDP, Candidate) are relayed untouched.
type SignalMessage struct {
	Type         SignalType                 `json:"type"`
	MeetingID    string                     `json:"meetingId,omitempty" validate:"required_if=Type join-room"`
	Role         Role                       `json:"role,omitempty" validate:"omitempty,oneof=host guest"`
	Identity     string                     `json:"identity,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	SenderConnID string                     `json:"senderConnId,omitempty"`
	HostConnID   string                     `json:"hostConnId,omitempty"`
	GuestConnID  string                     `json:"guestConnId,omitempty"`
	ConnID       string                     `json:"connId,omitempty"`
	Status       MeetingStatus              `json:"status,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
	Boundary     *time.Time                 `json:"boundary,omitempty"`
}

// IsNegotiation reports whether the message is relayed verbatim to the other
// occupant of the room.
func (m SignalMessage) IsNegotiation() bool {
	switch m.Type {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	default:
		return false
	}
}

func ErrorMessage(reason string, boundary *time.Time) SignalMessage {
	return SignalMessage{Type: SignalError, Reason: reason, Boundary: boundary}
}
