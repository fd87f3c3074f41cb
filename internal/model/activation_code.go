package model

import "time"

// Activation code lifecycle states.
const (
	CodeStatusIssued   = "issued"
	CodeStatusRedeemed = "redeemed"
	CodeStatusExpired  = "expired"
	CodeStatusRevoked  = "revoked"
)

// ActivationCode is a one-time code that binds a gateway to a tenant account.
// MachineID is empty until the first successful redemption and never changes
// afterwards: a code has at most one bound machine for its lifetime.
type ActivationCode struct {
	Code           string `gorm:"primaryKey;size:32"`
	Status         string `gorm:"size:16;not null;default:'issued';index"`
	UserID         int64  `gorm:"not null;index"`
	TenantID       int64  `gorm:"not null;index"`
	MachineID      string `gorm:"size:128"`
	GatewayID      string `gorm:"size:64"`
	FailedAttempts int    `gorm:"not null;default:0"`
	SyncCount      int    `gorm:"not null;default:0"`
	Notes          string `gorm:"size:512"`
	ExpiresAt      time.Time
	ActivatedAt    *time.Time
	LastSyncAt     *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}
