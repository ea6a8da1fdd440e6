package repository

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresSessionRepository struct {
	db *gorm.DB
}

func NewPostgresSessionRepository(db *gorm.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

func (r *PostgresSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var session model.Session
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return toDomainSession(&session), nil
}

type PostgresMeetingRepository struct {
	db *gorm.DB
}

func NewPostgresMeetingRepository(db *gorm.DB) *PostgresMeetingRepository {
	return &PostgresMeetingRepository{db: db}
}

func (r *PostgresMeetingRepository) GetByID(ctx context.Context, id string) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.load(r.db.WithContext(ctx), id)
}

func (r *PostgresMeetingRepository) CreateIfAbsent(ctx context.Context, m *domain.Meeting) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("meeting is nil")
	}

	row := toModelMeeting(m)

	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}

	return r.load(db, m.ID)
}

func (r *PostgresMeetingRepository) AddParticipant(ctx context.Context, id string, identity string) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(tx *gorm.DB, _ *model.Meeting, now time.Time) error {
		participant := model.MeetingParticipant{
			MeetingID: id,
			Identity:  identity,
			JoinedAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participant).Error; err != nil {
			return err
		}
		return tx.Model(&model.Meeting{}).Where("id = ?", id).Updates(map[string]any{
			"status":     string(domain.MeetingStatusLive),
			"updated_at": now,
		}).Error
	})
}

func (r *PostgresMeetingRepository) RemoveParticipant(ctx context.Context, id string, identity string) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(tx *gorm.DB, _ *model.Meeting, now time.Time) error {
		if err := tx.Where("meeting_id = ? AND identity = ?", id, identity).Delete(&model.MeetingParticipant{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Meeting{}).Where("id = ?", id).Update("updated_at", now).Error
	})
}

func (r *PostgresMeetingRepository) UpdateStatus(ctx context.Context, id string, status domain.MeetingStatus, endedAt *time.Time) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(tx *gorm.DB, _ *model.Meeting, now time.Time) error {
		updates := map[string]any{
			"status":     string(status),
			"updated_at": now,
		}
		if endedAt != nil {
			updates["last_ended_at"] = endedAt.UTC()
		}
		return tx.Model(&model.Meeting{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *PostgresMeetingRepository) Reopen(ctx context.Context, id string) (*domain.Meeting, error) {
	return r.mutate(ctx, id, func(tx *gorm.DB, row *model.Meeting, now time.Time) error {
		if row.Status != string(domain.MeetingStatusFinished) {
			return nil
		}
		if err := tx.Where("meeting_id = ?", id).Delete(&model.MeetingParticipant{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Meeting{}).
			Where("id = ? AND status = ?", id, string(domain.MeetingStatusFinished)).
			Updates(map[string]any{
				"status":       string(domain.MeetingStatusLive),
				"reopen_count": gorm.Expr("reopen_count + 1"),
				"updated_at":   now,
			}).Error
	})
}

func (r *PostgresMeetingRepository) FinishIfIdle(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now = now.UTC()
	res := r.db.WithContext(ctx).
		Model(&model.Meeting{}).
		Where("id = ? AND status <> ? AND end_time <= ?", id, string(domain.MeetingStatusFinished), now).
		Where("NOT EXISTS (SELECT 1 FROM meeting_participants mp WHERE mp.meeting_id = meetings.id)").
		Updates(map[string]any{
			"status":        string(domain.MeetingStatusFinished),
			"last_ended_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Meeting{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrMeetingNotFound
	}
	return false, nil
}

func (r *PostgresMeetingRepository) mutate(ctx context.Context, id string, fn func(tx *gorm.DB, row *model.Meeting, now time.Time) error) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *domain.Meeting
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.Meeting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMeetingNotFound
			}
			return err
		}

		if err := fn(tx, &row, time.Now().UTC()); err != nil {
			return err
		}

		result, err = r.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresMeetingRepository) load(db *gorm.DB, id string) (*domain.Meeting, error) {
	var meeting model.Meeting
	err := db.Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC")
	}).First(&meeting, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}
	return toDomainMeeting(&meeting), nil
}

type PostgresAccountRepository struct {
	db *gorm.DB
}

func NewPostgresAccountRepository(db *gorm.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var account model.Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return toDomainAccount(&account), nil
}

func (r *PostgresAccountRepository) ListByAccountID(ctx context.Context, accountID string) ([]*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var profiles []model.Profile
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&profiles).Error; err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, ErrProfileNotFound
	}

	result := make([]*domain.Profile, 0, len(profiles))
	for i := range profiles {
		result = append(result, &domain.Profile{
			ID:        profiles[i].ID,
			AccountID: profiles[i].AccountID,
			Kind:      profiles[i].Kind,
		})
	}
	return result, nil
}

func toDomainSession(s *model.Session) *domain.Session {
	return &domain.Session{
		ID:           s.ID,
		ParticipantA: s.ParticipantA,
		ParticipantB: s.ParticipantB,
		StartTime:    s.StartTime.UTC(),
		EndTime:      s.EndTime.UTC(),
		Status:       domain.SessionStatus(s.Status),
	}
}

func toModelMeeting(m *domain.Meeting) *model.Meeting {
	var lastEndedAt *time.Time
	if m.LastEndedAt != nil {
		t := m.LastEndedAt.UTC()
		lastEndedAt = &t
	}

	now := time.Now().UTC()
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return &model.Meeting{
		ID:           m.ID,
		SessionID:    m.SessionID,
		ParticipantA: m.ParticipantA,
		ParticipantB: m.ParticipantB,
		StartTime:    m.StartTime.UTC(),
		EndTime:      m.EndTime.UTC(),
		Status:       string(m.Status),
		LastEndedAt:  lastEndedAt,
		ReopenCount:  m.ReopenCount,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    now,
	}
}

func toDomainMeeting(m *model.Meeting) *domain.Meeting {
	active := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		active = append(active, p.Identity)
	}

	var lastEndedAt *time.Time
	if m.LastEndedAt != nil {
		t := m.LastEndedAt.UTC()
		lastEndedAt = &t
	}

	status := domain.MeetingStatus(m.Status)
	if status == "" {
		status = domain.MeetingStatusNotStarted
	}

	return &domain.Meeting{
		ID:                 m.ID,
		SessionID:          m.SessionID,
		ParticipantA:       m.ParticipantA,
		ParticipantB:       m.ParticipantB,
		StartTime:          m.StartTime.UTC(),
		EndTime:            m.EndTime.UTC(),
		Status:             status,
		ActiveParticipants: active,
		LastEndedAt:        lastEndedAt,
		ReopenCount:        m.ReopenCount,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

func toDomainAccount(a *model.Account) *domain.Account {
	email := ""
	if a.Email != nil {
		email = *a.Email
	}
	return &domain.Account{
		ID:        a.ID,
		Name:      a.Name,
		Email:     email,
		CreatedAt: a.CreatedAt.UTC(),
	}
}
