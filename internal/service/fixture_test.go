package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
	"github.com/immxrtalbeast/mockmeet/lib/logger/slogdiscard"
)

var sessionStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	clock    *testClock
	sessions *repository.InMemorySessionRepository
	meetings *repository.InMemoryMeetingRepository
	accounts *repository.InMemoryAccountRepository
	auth     *Authorizer
	svc      *MeetingService
}

func newFixture(t *testing.T, policy MeetingPolicy) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &testClock{now: sessionStart},
		sessions: repository.NewInMemorySessionRepository(),
		meetings: repository.NewInMemoryMeetingRepository(),
		accounts: repository.NewInMemoryAccountRepository(),
	}

	f.sessions.Put(&domain.Session{
		ID:           "session-raw",
		ParticipantA: "host-1",
		ParticipantB: "guest-1",
		StartTime:    sessionStart,
		EndTime:      sessionStart.Add(time.Hour),
		Status:       domain.SessionStatusConfirmed,
	})
	f.sessions.Put(&domain.Session{
		ID:           "session-mixed",
		ParticipantA: "profile-expert-7",
		ParticipantB: "candidate@example.com",
		StartTime:    sessionStart,
		EndTime:      sessionStart.Add(time.Hour),
		Status:       domain.SessionStatusConfirmed,
	})

	f.accounts.PutAccount(&domain.Account{ID: "account-expert", Name: "Expert", Email: "expert@example.com"})
	f.accounts.PutProfile(&domain.Profile{ID: "profile-expert-7", AccountID: "account-expert", Kind: "expert"})
	f.accounts.PutAccount(&domain.Account{ID: "account-candidate", Name: "Candidate", Email: "Candidate@Example.com"})

	log := slogdiscard.NewDiscardLogger()
	f.auth = NewAuthorizer(f.accounts, f.accounts, log)
	f.svc = NewMeetingService(f.sessions, f.meetings, f.auth, policy, log).WithClock(f.clock.Now)
	return f
}

func defaultPolicy() MeetingPolicy {
	return MeetingPolicy{
		EarlyJoin:   10 * time.Minute,
		ReopenGrace: 15 * time.Minute,
		MaxReopens:  3,
	}
}

type failingAccounts struct{}

func (failingAccounts) GetByID(context.Context, string) (*domain.Account, error) {
	return nil, errors.New("accounts unavailable")
}

func (failingAccounts) ListByAccountID(context.Context, string) ([]*domain.Profile, error) {
	return nil, errors.New("profiles unavailable")
}

// drain returns every event currently queued for p.
func drain(p *domain.Peer) []domain.SignalMessage {
	var events []domain.SignalMessage
	for {
		select {
		case ev := <-p.Events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func ofType(events []domain.SignalMessage, typ domain.SignalType) []domain.SignalMessage {
	var out []domain.SignalMessage
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
