package model

import "time"

// Gateway connectivity states.
const (
	GatewayStatusConnected    = "connected"
	GatewayStatusDisconnected = "disconnected"
	GatewayStatusNeverSeen    = "never_seen"
)

// Gateway represents a remote device bound to a tenant account. Exactly one
// row exists per (user_id, machine_id) pair; repeated activations of the same
// pair reuse the row.
type Gateway struct {
	ID                  string `gorm:"primaryKey;size:64"`
	UserID              int64  `gorm:"not null;uniqueIndex:idx_gateway_user_machine"`
	TenantID            int64  `gorm:"not null;index"`
	MachineID           string `gorm:"size:128;not null;uniqueIndex:idx_gateway_user_machine"`
	Hostname            string `gorm:"size:256"`
	Platform            string `gorm:"size:64"`
	AgentVersion        string `gorm:"size:64"`
	LastIP              string `gorm:"size:64"`
	Status              string `gorm:"size:16;not null;default:'never_seen'"`
	LastSeenAt          *time.Time
	CredentialExpiresAt *time.Time
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}
