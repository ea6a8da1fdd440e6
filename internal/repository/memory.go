package repository

import (
	"context"
	"sync"
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
)

type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[string]*domain.Session),
	}
}

// Put stores or replaces a session. The booking flow owns sessions, so this
// only exists for local runs and tests.
func (r *InMemorySessionRepository) Put(session *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *session
	r.sessions[s.ID] = &s
}

func (r *InMemorySessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	s := *session
	return &s, nil
}

type InMemoryMeetingRepository struct {
	mu       sync.RWMutex
	meetings map[string]*domain.Meeting
}

func NewInMemoryMeetingRepository() *InMemoryMeetingRepository {
	return &InMemoryMeetingRepository{
		meetings: make(map[string]*domain.Meeting),
	}
}

func (r *InMemoryMeetingRepository) GetByID(ctx context.Context, id string) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meeting, ok := r.meetings[id]
	if !ok {
		return nil, ErrMeetingNotFound
	}

	return meeting.Clone(), nil
}

func (r *InMemoryMeetingRepository) CreateIfAbsent(ctx context.Context, m *domain.Meeting) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.meetings[m.ID]; ok {
		return existing.Clone(), nil
	}

	r.meetings[m.ID] = m.Clone()
	return m.Clone(), nil
}

func (r *InMemoryMeetingRepository) AddParticipant(ctx context.Context, id string, identity string) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(m *domain.Meeting) {
		m.AddActive(identity)
	})
}

func (r *InMemoryMeetingRepository) RemoveParticipant(ctx context.Context, id string, identity string) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(m *domain.Meeting) {
		m.RemoveActive(identity)
	})
}

func (r *InMemoryMeetingRepository) UpdateStatus(ctx context.Context, id string, status domain.MeetingStatus, endedAt *time.Time) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(m *domain.Meeting) {
		m.Status = status
		if endedAt != nil {
			t := endedAt.UTC()
			m.LastEndedAt = &t
		}
	})
}

func (r *InMemoryMeetingRepository) Reopen(ctx context.Context, id string) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(m *domain.Meeting) {
		if !m.IsFinished() {
			return
		}
		m.Status = domain.MeetingStatusLive
		m.ActiveParticipants = []string{}
		m.ReopenCount++
	})
}

func (r *InMemoryMeetingRepository) FinishIfIdle(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	meeting, ok := r.meetings[id]
	if !ok {
		return false, ErrMeetingNotFound
	}
	if meeting.IsFinished() || !domain.HasEnded(now, meeting.EndTime) || len(meeting.ActiveParticipants) > 0 {
		return false, nil
	}

	ended := now.UTC()
	meeting.Status = domain.MeetingStatusFinished
	meeting.LastEndedAt = &ended
	meeting.UpdatedAt = ended
	return true, nil
}

func (r *InMemoryMeetingRepository) mutate(ctx context.Context, id string, fn func(m *domain.Meeting)) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	meeting, ok := r.meetings[id]
	if !ok {
		return nil, ErrMeetingNotFound
	}

	fn(meeting)
	meeting.UpdatedAt = time.Now().UTC()
	return meeting.Clone(), nil
}

type InMemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	profiles map[string][]*domain.Profile
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	return &InMemoryAccountRepository{
		accounts: make(map[string]*domain.Account),
		profiles: make(map[string][]*domain.Profile),
	}
}

func (r *InMemoryAccountRepository) PutAccount(account *domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := *account
	r.accounts[a.ID] = &a
}

func (r *InMemoryAccountRepository) PutProfile(profile *domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *profile
	r.profiles[p.AccountID] = append(r.profiles[p.AccountID], &p)
}

func (r *InMemoryAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}

	a := *account
	return &a, nil
}

func (r *InMemoryAccountRepository) ListByAccountID(ctx context.Context, accountID string) ([]*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles, ok := r.profiles[accountID]
	if !ok || len(profiles) == 0 {
		return nil, ErrProfileNotFound
	}

	result := make([]*domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}
