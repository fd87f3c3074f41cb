package model

import "time"

// AuditEvent is an append-only record of a security-relevant action. Rows are
// never updated or deleted by this service.
type AuditEvent struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Action    string `gorm:"size:64;not null;index"`
	Success   bool   `gorm:"not null"`
	UserID    int64  `gorm:"index"`
	TenantID  int64  `gorm:"index"`
	GatewayID string `gorm:"size:64;index"`
	SourceIP  string `gorm:"size:64"`
	Metadata  string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}
