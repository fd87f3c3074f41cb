package model

import "time"

// PushSubscription holds a browser push subscription for an operator who
// wants alarm notifications for their tenant's points.
type PushSubscription struct {
	Endpoint  string `gorm:"primaryKey"`
	TenantID  int64  `gorm:"not null;index"`
	P256DH    string `gorm:"column:p256dh;not null"`
	Auth      string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
