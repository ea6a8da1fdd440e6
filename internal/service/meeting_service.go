package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

// MeetingPolicy bounds who may enter a meeting and when.
type MeetingPolicy struct {
	// EarlyJoin opens the join window this long before the booked start.
	EarlyJoin time.Duration
	// ReopenGrace is how long after the last end a finished meeting may
	// still be reopened by a rejoining participant.
	ReopenGrace time.Duration
	MaxReopens  int
}

// Admission is the outcome of a successful join preflight.
type Admission struct {
	Meeting *domain.Meeting
	Role    domain.Role
}

type MeetingService struct {
	sessions repository.SessionRepository
	meetings repository.MeetingRepository
	auth     *Authorizer
	policy   MeetingPolicy
	log      *slog.Logger
	now      func() time.Time
}

func NewMeetingService(
	sessions repository.SessionRepository,
	meetings repository.MeetingRepository,
	auth *Authorizer,
	policy MeetingPolicy,
	log *slog.Logger,
) *MeetingService {
	if log == nil {
		log = slog.Default()
	}
	return &MeetingService{
		sessions: sessions,
		meetings: meetings,
		auth:     auth,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MeetingService) WithClock(now func() time.Time) *MeetingService {
	s.now = now
	return s
}

func (s *MeetingService) Get(ctx context.Context, meetingID string) (*domain.Meeting, error) {
	return s.meetings.GetByID(ctx, meetingID)
}

// GetOrCreate returns the meeting of a session, creating it from the session
// on first use. Concurrent callers observe the same record.
func (s *MeetingService) GetOrCreate(ctx context.Context, sessionID string) (*domain.Meeting, error) {
	const op = "service.meeting.getOrCreate"
	log := s.log.With(slog.String("op", op), slog.String("session_id", sessionID))

	meeting, err := s.meetings.GetByID(ctx, sessionID)
	if err == nil {
		return meeting, nil
	}
	if !errors.Is(err, repository.ErrMeetingNotFound) {
		log.Error("failed to load meeting", sl.Err(err))
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			log.Error("failed to load session", sl.Err(err))
		}
		return nil, err
	}

	meeting, err = s.meetings.CreateIfAbsent(ctx, domain.NewMeetingFromSession(session))
	if err != nil {
		log.Error("failed to create meeting", sl.Err(err))
		return nil, err
	}

	log.Info("meeting ready", slog.String("meeting_id", meeting.ID), slog.String("status", string(meeting.Status)))
	return meeting, nil
}

func (s *MeetingService) AddParticipant(ctx context.Context, meetingID, identity string) (*domain.Meeting, error) {
	return s.meetings.AddParticipant(ctx, meetingID, identity)
}

func (s *MeetingService) RemoveParticipant(ctx context.Context, meetingID, identity string) (*domain.Meeting, error) {
	return s.meetings.RemoveParticipant(ctx, meetingID, identity)
}

// SetStatus writes status. Finishing a meeting stamps LastEndedAt.
func (s *MeetingService) SetStatus(ctx context.Context, meetingID string, status domain.MeetingStatus) (*domain.Meeting, error) {
	var endedAt *time.Time
	if status == domain.MeetingStatusFinished {
		now := s.now().UTC()
		endedAt = &now
	}
	return s.meetings.UpdateStatus(ctx, meetingID, status, endedAt)
}

// Reconcile finishes a meeting whose window has passed and that nobody is
// connected to. It returns the meeting as stored afterwards.
func (s *MeetingService) Reconcile(ctx context.Context, meetingID string) (*domain.Meeting, error) {
	const op = "service.meeting.reconcile"

	meeting, err := s.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.IsFinished() {
		return meeting, nil
	}

	finished, err := s.meetings.FinishIfIdle(ctx, meetingID, s.now())
	if err != nil {
		return nil, err
	}
	if !finished {
		return meeting, nil
	}

	s.log.Info("meeting finished by reconcile", slog.String("op", op), slog.String("meeting_id", meetingID))
	return s.meetings.GetByID(ctx, meetingID)
}

// CheckWindow applies the time gate: joins are accepted from EarlyJoin
// before the start until the end.
func (s *MeetingService) CheckWindow(m *domain.Meeting) error {
	now := s.now()
	window := m.Window().WithEarlyJoin(s.policy.EarlyJoin)

	if now.Before(window.Start) {
		return &TimeWindowError{Reason: WindowNotYetStarted, Boundary: window.Start.UTC()}
	}
	if window.HasEnded(now) {
		return &TimeWindowError{Reason: WindowExpired, Boundary: window.End.UTC()}
	}
	return nil
}

// Admit runs every check a join has to pass and returns the meeting along
// with the role derived for identity. Authorization runs first so a stranger
// can never reopen a meeting.
func (s *MeetingService) Admit(ctx context.Context, sessionID, identity string) (*Admission, error) {
	const op = "service.meeting.admit"
	log := s.log.With(
		slog.String("op", op),
		slog.String("session_id", sessionID),
		slog.String("identity", identity),
	)

	meeting, err := s.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	role, ok := s.auth.Authorize(ctx, meeting, identity)
	if !ok {
		log.Warn("join rejected", slog.String("reason", domain.ReasonUnauthorized))
		return nil, ErrUnauthorized
	}

	if err := s.CheckWindow(meeting); err != nil {
		log.Info("join rejected", sl.Err(err))
		return nil, err
	}

	if meeting.IsFinished() {
		if !s.canReopen(meeting) {
			log.Info("join rejected", slog.String("reason", domain.ReasonFinished), slog.Int("reopen_count", meeting.ReopenCount))
			return nil, ErrMeetingFinished
		}
		before := meeting.ReopenCount
		meeting, err = s.meetings.Reopen(ctx, meeting.ID)
		if err != nil {
			log.Error("failed to reopen meeting", sl.Err(err))
			return nil, err
		}
		if meeting.ReopenCount > before {
			log.Info("meeting reopened", slog.Int("reopen_count", meeting.ReopenCount))
		}
	}

	return &Admission{Meeting: meeting, Role: role}, nil
}

// RoleOf returns the role identity holds in an existing meeting.
func (s *MeetingService) RoleOf(ctx context.Context, meetingID, identity string) (domain.Role, error) {
	meeting, err := s.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return "", err
	}
	role, ok := s.auth.Authorize(ctx, meeting, identity)
	if !ok {
		return "", ErrUnauthorized
	}
	return role, nil
}

func (s *MeetingService) canReopen(m *domain.Meeting) bool {
	if m.ReopenCount >= s.policy.MaxReopens {
		return false
	}
	if m.LastEndedAt == nil {
		return true
	}
	return s.now().Before(m.LastEndedAt.Add(s.policy.ReopenGrace))
}
