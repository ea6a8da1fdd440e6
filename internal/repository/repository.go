package repository

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrProfileNotFound = errors.New("profile not found")
)

// SessionRepository reads bookings produced by the booking flow.
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
}

// MeetingRepository persists meeting lifecycle state. Every mutating call
// returns ErrMeetingNotFound when the meeting does not exist.
type MeetingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Meeting, error)
	// CreateIfAbsent atomically inserts m unless a meeting with the same id
	// exists, and returns whichever record is stored.
	CreateIfAbsent(ctx context.Context, m *domain.Meeting) (*domain.Meeting, error)
	AddParticipant(ctx context.Context, id string, identity string) (*domain.Meeting, error)
	RemoveParticipant(ctx context.Context, id string, identity string) (*domain.Meeting, error)
	UpdateStatus(ctx context.Context, id string, status domain.MeetingStatus, endedAt *time.Time) (*domain.Meeting, error)
	// Reopen sets status live, clears the active set and bumps ReopenCount
	// when the meeting is finished. Otherwise it returns the stored record
	// unchanged, so concurrent reopens count once.
	Reopen(ctx context.Context, id string) (*domain.Meeting, error)
	// FinishIfIdle marks the meeting finished when it is not finished yet,
	// now >= EndTime and no participant is active. It reports whether the
	// transition happened.
	FinishIfIdle(ctx context.Context, id string, now time.Time) (bool, error)
}

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}

type ProfileRepository interface {
	ListByAccountID(ctx context.Context, accountID string) ([]*domain.Profile, error)
}
