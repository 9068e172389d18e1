package models

import (
	"time"

	"gorm.io/datatypes"
)

// Device: физическое устройство под одним hardware id.
type Device struct {
	ID          uint           `gorm:"primaryKey"`
	HardwareID  string         `gorm:"column:hardware_id;size:191;uniqueIndex;not null"`
	AccountID   string         `gorm:"column:account_id;size:64;index;not null"`
	Status      string         `gorm:"size:16;not null;default:registered"`
	FirstSeenAt time.Time      `gorm:"not null"`
	LastSeenAt  time.Time      `gorm:"not null"`
	Info        datatypes.JSON `gorm:"type:json"`
}

// HardwareLink: одна строка на original_id; побеждает самый свежий updated_at.
type HardwareLink struct {
	ID         uint      `gorm:"primaryKey"`
	OriginalID string    `gorm:"column:original_id;size:191;uniqueIndex;not null"`
	CurrentID  string    `gorm:"column:current_id;size:191;index;not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false;not null"`
}

// FactoryResetEvent: неизменяемый аудит сброса.
type FactoryResetEvent struct {
	ID                 uint64         `gorm:"primaryKey"`
	OriginalHardwareID string         `gorm:"column:original_hardware_id;size:191;index;not null"`
	NewHardwareID      string         `gorm:"column:new_hardware_id;size:191;not null"`
	DetectedAt         time.Time      `gorm:"not null"`
	Info               datatypes.JSON `gorm:"type:json"`
}

type StolenDevice struct {
	ID            uint      `gorm:"primaryKey"`
	HardwareID    string    `gorm:"column:hardware_id;size:191;uniqueIndex;not null"`
	AccountID     string    `gorm:"column:account_id;size:64;not null"`
	ReportedAt    time.Time `gorm:"not null"`
	RecoveryEmail string    `gorm:"size:320"`
	RecoveryPhone string    `gorm:"size:64"`
}
