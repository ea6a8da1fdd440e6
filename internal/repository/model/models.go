package model

import (
	"time"
)

type Session struct {
	ID           string    `gorm:"size:64;primaryKey"`
	ParticipantA string    `gorm:"size:255;not null"`
	ParticipantB string    `gorm:"size:255;not null"`
	StartTime    time.Time `gorm:"not null"`
	EndTime      time.Time `gorm:"not null"`
	Status       string    `gorm:"size:32;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Meeting struct {
	ID           string     `gorm:"size:64;primaryKey"`
	SessionID    string     `gorm:"size:64;uniqueIndex;not null"`
	ParticipantA string     `gorm:"size:255;not null"`
	ParticipantB string     `gorm:"size:255;not null"`
	StartTime    time.Time  `gorm:"not null"`
	EndTime      time.Time  `gorm:"index;not null"`
	Status       string     `gorm:"size:32;index;not null"`
	LastEndedAt  *time.Time
	ReopenCount  int        `gorm:"not null;default:0"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`

	Participants []MeetingParticipant `gorm:"constraint:OnDelete:CASCADE"`
}

// MeetingParticipant is one row of a meeting's active set. The composite
// primary key gives set semantics.
type MeetingParticipant struct {
	MeetingID string    `gorm:"size:64;primaryKey"`
	Identity  string    `gorm:"size:255;primaryKey"`
	JoinedAt  time.Time `gorm:"not null"`
}

type Account struct {
	ID        string  `gorm:"size:64;primaryKey"`
	Name      string  `gorm:"size:255;not null"`
	Email     *string `gorm:"size:255;uniqueIndex:idx_accounts_email,where:email IS NOT NULL"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Profile struct {
	ID        string `gorm:"size:64;primaryKey"`
	AccountID string `gorm:"size:64;index;not null"`
	Kind      string `gorm:"size:32;not null"`
	CreatedAt time.Time
}
