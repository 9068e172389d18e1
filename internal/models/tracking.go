package models

import (
	"time"

	"gorm.io/datatypes"
)

// LocationRecord: append-only; читается по (hardware_id, recorded_at desc, id desc).
type LocationRecord struct {
	ID         uint64         `gorm:"primaryKey"`
	HardwareID string         `gorm:"column:hardware_id;size:191;not null;index:idx_loc_hw_time,priority:1"`
	Latitude   float64        `gorm:"not null"`
	Longitude  float64        `gorm:"not null"`
	RecordedAt time.Time      `gorm:"not null;index:idx_loc_hw_time,priority:2"`
	Connection datatypes.JSON `gorm:"type:json"`
}

type DeviceCommand struct {
	ID              uint64         `gorm:"primaryKey"`
	HardwareID      string         `gorm:"column:hardware_id;size:191;not null;index:idx_cmd_hw_status,priority:1"`
	IssuerAccountID string         `gorm:"column:issuer_account_id;size:64;not null"`
	Kind            string         `gorm:"column:kind;size:32;not null"`
	Payload         datatypes.JSON `gorm:"type:json"`
	IssuedAt        time.Time      `gorm:"not null"`
	Status          string         `gorm:"size:16;not null;index:idx_cmd_hw_status,priority:2"`
	ExecutedAt      *time.Time
	Result          datatypes.JSON `gorm:"type:json"`
}

// DevicePhoto.Data без size/type: на MySQL это longtext (TEXT режет на 64 КБ),
// на Postgres и SQLite обычный text.
type DevicePhoto struct {
	ID         uint64    `gorm:"primaryKey"`
	HardwareID string    `gorm:"column:hardware_id;size:191;index;not null"`
	Data       string    `gorm:"not null"`
	TakenAt    time.Time `gorm:"not null"`
}

// OwnerLocation: позиция самого владельца, последняя по (recorded_at, id).
type OwnerLocation struct {
	ID         uint64    `gorm:"primaryKey"`
	AccountID  string    `gorm:"column:account_id;size:64;not null;index:idx_owner_loc_time,priority:1"`
	Latitude   float64   `gorm:"not null"`
	Longitude  float64   `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null;index:idx_owner_loc_time,priority:2"`
	CreatedAt  time.Time
}

type Account struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"size:320;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false;not null"`
}
