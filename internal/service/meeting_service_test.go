package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
	"github.com/immxrtalbeast/mockmeet/lib/logger/slogdiscard"
)

func TestMeetingService_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.svc.GetOrCreate(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	})

	t.Run("copies the session", func(t *testing.T) {
		m, err := f.svc.GetOrCreate(ctx, "session-raw")
		require.NoError(t, err)
		assert.Equal(t, "session-raw", m.ID)
		assert.Equal(t, "host-1", m.ParticipantA)
		assert.Equal(t, "guest-1", m.ParticipantB)
		assert.Equal(t, domain.MeetingStatusNotStarted, m.Status)
		assert.Empty(t, m.ActiveParticipants)
	})

	t.Run("concurrent callers share one record", func(t *testing.T) {
		const workers = 16
		var wg sync.WaitGroup
		results := make([]*domain.Meeting, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m, err := f.svc.GetOrCreate(ctx, "session-mixed")
				if err == nil {
					results[i] = m
				}
			}(i)
		}
		wg.Wait()

		for _, m := range results {
			require.NotNil(t, m)
			assert.Equal(t, results[0].CreatedAt, m.CreatedAt)
		}
	})
}

func TestMeetingService_AdmitTimeGate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		now          time.Time
		wantReason   WindowReason
		wantBoundary time.Time
	}{
		{name: "too early", now: sessionStart.Add(-11 * time.Minute), wantReason: WindowNotYetStarted, wantBoundary: sessionStart.Add(-10 * time.Minute)},
		{name: "inside early join buffer", now: sessionStart.Add(-5 * time.Minute)},
		{name: "at start", now: sessionStart},
		{name: "one second before end", now: sessionStart.Add(time.Hour - time.Second)},
		{name: "at end", now: sessionStart.Add(time.Hour), wantReason: WindowExpired, wantBoundary: sessionStart.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultPolicy())
			f.clock.Set(tt.now)

			adm, err := f.svc.Admit(ctx, "session-raw", "guest-1")
			if tt.wantReason == "" {
				require.NoError(t, err)
				assert.Equal(t, domain.RoleGuest, adm.Role)
				return
			}

			require.ErrorIs(t, err, ErrTimeWindow)
			var windowErr *TimeWindowError
			require.True(t, errors.As(err, &windowErr))
			assert.Equal(t, tt.wantReason, windowErr.Reason)
			assert.True(t, tt.wantBoundary.Equal(windowErr.Boundary))
		})
	}
}

func TestMeetingService_AdmitUnauthorizedDoesNotReopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())

	_, err := f.svc.GetOrCreate(ctx, "session-raw")
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "session-raw", domain.MeetingStatusFinished)
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, "session-raw", "intruder")
	assert.ErrorIs(t, err, ErrUnauthorized)

	m, err := f.svc.Get(ctx, "session-raw")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusFinished, m.Status)
	assert.Zero(t, m.ReopenCount)
}

func TestMeetingService_AdmitReopenIsBounded(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.MaxReopens = 1
	f := newFixture(t, policy)
	f.clock.Set(sessionStart.Add(5 * time.Minute))

	_, err := f.svc.Admit(ctx, "session-raw", "host-1")
	require.NoError(t, err)
	_, err = f.svc.AddParticipant(ctx, "session-raw", "host-1")
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "session-raw", domain.MeetingStatusFinished)
	require.NoError(t, err)

	adm, err := f.svc.Admit(ctx, "session-raw", "guest-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingStatusLive, adm.Meeting.Status)
	assert.Empty(t, adm.Meeting.ActiveParticipants)
	assert.Equal(t, 1, adm.Meeting.ReopenCount)

	_, err = f.svc.SetStatus(ctx, "session-raw", domain.MeetingStatusFinished)
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, "session-raw", "guest-1")
	assert.ErrorIs(t, err, ErrMeetingFinished)
}

// interleavedMeetings runs beforeReopen once, right before the first
// Reopen reaches the store.
type interleavedMeetings struct {
	*repository.InMemoryMeetingRepository
	beforeReopen func()
}

func (r *interleavedMeetings) Reopen(ctx context.Context, id string) (*domain.Meeting, error) {
	if fn := r.beforeReopen; fn != nil {
		r.beforeReopen = nil
		fn()
	}
	return r.InMemoryMeetingRepository.Reopen(ctx, id)
}

func TestMeetingService_ConcurrentReopenCountsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	f.clock.Set(sessionStart.Add(5 * time.Minute))

	_, err := f.svc.GetOrCreate(ctx, "session-raw")
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, "session-raw", domain.MeetingStatusFinished)
	require.NoError(t, err)

	meetings := &interleavedMeetings{InMemoryMeetingRepository: f.meetings}
	svc := NewMeetingService(f.sessions, meetings, f.auth, defaultPolicy(), slogdiscard.NewDiscardLogger()).
		WithClock(f.clock.Now)

	// The host reopens and connects while the guest's admission still holds
	// the finished snapshot.
	meetings.beforeReopen = func() {
		adm, err := svc.Admit(ctx, "session-raw", "host-1")
		require.NoError(t, err)
		assert.Equal(t, 1, adm.Meeting.ReopenCount)
		_, err = svc.AddParticipant(ctx, "session-raw", "host-1")
		require.NoError(t, err)
	}

	adm, err := svc.Admit(ctx, "session-raw", "guest-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGuest, adm.Role)
	assert.Equal(t, domain.MeetingStatusLive, adm.Meeting.Status)
	assert.Equal(t, []string{"host-1"}, adm.Meeting.ActiveParticipants)
	assert.Equal(t, 1, adm.Meeting.ReopenCount)

	stored, err := f.svc.Get(ctx, "session-raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"host-1"}, stored.ActiveParticipants)
	assert.Equal(t, 1, stored.ReopenCount)
}

func TestMeetingService_AdmitReopenGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	f.clock.Set(sessionStart.Add(5 * time.Minute))

	_, err := f.svc.GetOrCreate(ctx, "session-raw")
	require.NoError(t, err)
	m, err := f.svc.SetStatus(ctx, "session-raw", domain.MeetingStatusFinished)
	require.NoError(t, err)
	require.NotNil(t, m.LastEndedAt)
	assert.True(t, m.LastEndedAt.Equal(sessionStart.Add(5*time.Minute)))

	f.clock.Set(sessionStart.Add(21 * time.Minute))
	_, err = f.svc.Admit(ctx, "session-raw", "host-1")
	assert.ErrorIs(t, err, ErrMeetingFinished)
}

func TestMeetingService_Reconcile(t *testing.T) {
	ctx := context.Background()
	end := sessionStart.Add(time.Hour)

	t.Run("before end stays live", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		_, err := f.svc.GetOrCreate(ctx, "session-raw")
		require.NoError(t, err)
		_, err = f.svc.AddParticipant(ctx, "session-raw", "host-1")
		require.NoError(t, err)
		_, err = f.svc.RemoveParticipant(ctx, "session-raw", "host-1")
		require.NoError(t, err)

		m, err := f.svc.Reconcile(ctx, "session-raw")
		require.NoError(t, err)
		assert.Equal(t, domain.MeetingStatusLive, m.Status)
	})

	t.Run("after end with someone connected stays live", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		_, err := f.svc.GetOrCreate(ctx, "session-raw")
		require.NoError(t, err)
		_, err = f.svc.AddParticipant(ctx, "session-raw", "host-1")
		require.NoError(t, err)

		f.clock.Set(end.Add(time.Minute))
		m, err := f.svc.Reconcile(ctx, "session-raw")
		require.NoError(t, err)
		assert.Equal(t, domain.MeetingStatusLive, m.Status)
	})

	t.Run("after end and idle finishes", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		_, err := f.svc.GetOrCreate(ctx, "session-raw")
		require.NoError(t, err)

		f.clock.Set(end)
		m, err := f.svc.Reconcile(ctx, "session-raw")
		require.NoError(t, err)
		assert.Equal(t, domain.MeetingStatusFinished, m.Status)
		require.NotNil(t, m.LastEndedAt)

		again, err := f.svc.Reconcile(ctx, "session-raw")
		require.NoError(t, err)
		assert.Equal(t, m.LastEndedAt, again.LastEndedAt)
	})

	t.Run("unknown meeting", func(t *testing.T) {
		f := newFixture(t, defaultPolicy())
		_, err := f.svc.Reconcile(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrMeetingNotFound)
	})
}

func TestMeetingService_ParticipantsAreASet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	_, err := f.svc.GetOrCreate(ctx, "session-raw")
	require.NoError(t, err)

	_, err = f.svc.AddParticipant(ctx, "session-raw", "host-1")
	require.NoError(t, err)
	m, err := f.svc.AddParticipant(ctx, "session-raw", "host-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"host-1"}, m.ActiveParticipants)
	assert.Equal(t, domain.MeetingStatusLive, m.Status)

	m, err = f.svc.RemoveParticipant(ctx, "session-raw", "nobody")
	require.NoError(t, err)
	assert.Equal(t, []string{"host-1"}, m.ActiveParticipants)
}

func TestMeetingService_RoleOf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	_, err := f.svc.GetOrCreate(ctx, "session-mixed")
	require.NoError(t, err)

	role, err := f.svc.RoleOf(ctx, "session-mixed", "account-expert")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, role)

	_, err = f.svc.RoleOf(ctx, "session-mixed", "stranger")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
