package model

import "time"

// Command lifecycle states. Transitions only move forward through this list;
// a command never regresses.
const (
	CommandStatusPending      = "pending"
	CommandStatusSent         = "sent"
	CommandStatusAcknowledged = "acknowledged"
	CommandStatusCompleted    = "completed"
	CommandStatusFailed       = "failed"
)

// GatewayCommand is an operator-issued command queued for a gateway. Lower
// priority values are delivered first.
type GatewayCommand struct {
	ID          string `gorm:"primaryKey;size:64"`
	GatewayID   string `gorm:"size:64;not null;index"`
	Type        string `gorm:"size:64;not null"`
	Parameters  string `gorm:"type:text"`
	Priority    int    `gorm:"not null;default:100"`
	Status      string `gorm:"size:16;not null;default:'pending';index"`
	RetryCount  int    `gorm:"not null;default:0"`
	MaxRetries  int    `gorm:"not null;default:3"`
	Error       string `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"not null"`
	SentAt      *time.Time
	AckedAt     *time.Time
	CompletedAt *time.Time
}
