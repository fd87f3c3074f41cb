package model

import "time"

// Device is a piece of field equipment a gateway relays data for.
type Device struct {
	ID        int64  `gorm:"primaryKey"`
	TenantID  int64  `gorm:"not null;index"`
	GatewayID string `gorm:"size:64;index"`
	Name      string `gorm:"size:256;not null"`
	Status    string `gorm:"size:16;not null;default:'disconnected'"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Points []MonitoredPoint `gorm:"foreignKey:DeviceID"`
}

// Point data types.
const (
	DataTypeBool   = "bool"
	DataTypeInt    = "int"
	DataTypeFloat  = "float"
	DataTypeString = "string"
)

// MonitoredPoint is one monitored value (tag) on a device. Scaling is applied
// as value = raw*ScaleFactor + Offset when ScaleFactor is non-zero.
type MonitoredPoint struct {
	ID             int64    `gorm:"primaryKey"`
	DeviceID       int64    `gorm:"not null;index"`
	TenantID       int64    `gorm:"not null;index"`
	Name           string   `gorm:"size:128;not null;index"`
	ExternalID     int64    `gorm:"index"`
	DataType       string   `gorm:"size:16;not null;default:'float'"`
	ScaleFactor    float64  `gorm:"not null;default:0"`
	Offset         float64  `gorm:"not null;default:0"`
	AlarmHigh      *float64 `gorm:"default:null"`
	AlarmLow       *float64 `gorm:"default:null"`
	Enabled        bool     `gorm:"not null;default:true"`
	PollIntervalMs int      `gorm:"not null;default:1000"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Associations
	Device Device `gorm:"constraint:OnDelete:CASCADE"`
}
