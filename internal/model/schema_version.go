package model

import "time"

// SchemaVersion is the server's authoritative definition of the local tables
// a gateway should maintain. Tables and TagMapping are stored as JSON text so
// the layout can evolve without migrations. At most one version is active per
// tenant at a time.
type SchemaVersion struct {
	ID         int64  `gorm:"primaryKey"`
	TenantID   int64  `gorm:"not null;index"`
	Version    string `gorm:"size:64;not null"`
	Tables     string `gorm:"type:text;not null"`
	TagMapping string `gorm:"type:text"`
	Active     bool   `gorm:"not null;default:false;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
