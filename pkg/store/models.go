package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID         string `gorm:"primaryKey"`
	Email      string `gorm:"uniqueIndex;not null"`
	Name       string
	CreatedAt  time.Time `gorm:"not null"`
	LastSeenAt time.Time `gorm:"not null"`
}

type SessionModel struct {
	ID               string    `gorm:"primaryKey"`
	UserID           string    `gorm:"not null;index"`
	CurrentModule    int       `gorm:"not null"`
	CompletionStatus int       `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;index"`
}

type ModuleResponseModel struct {
	ID           string `gorm:"primaryKey"`
	SessionID    string `gorm:"not null;uniqueIndex:idx_session_module"`
	ModuleNumber int    `gorm:"not null;uniqueIndex:idx_session_module"`
	InputMethod  string `gorm:"not null"`
	AITranscript datatypes.JSON
	FormData     datatypes.JSON
	AuditReview  string `gorm:"type:text"`
	CompletedAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type FinalDocumentModel struct {
	ID               string `gorm:"primaryKey"`
	SessionID        string `gorm:"not null;uniqueIndex"`
	CombinedOverview string `gorm:"type:text"`
	ActionPlan       string `gorm:"type:text"`
	GeneratedAt      time.Time `gorm:"not null"`
}
