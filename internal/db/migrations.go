// internal/db/migrations.go
package db

import (
	"fmt"

	"ghosttrack/internal/models"

	"gorm.io/gorm"
)

// Migrate создаёт/обновляет все таблицы домена и служебные индексы.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Device{},
		&models.HardwareLink{},
		&models.FactoryResetEvent{},
		&models.StolenDevice{},
		&models.LocationRecord{},
		&models.DeviceCommand{},
		&models.DevicePhoto{},
		&models.OwnerLocation{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return MigratePendingCommandIndex(db)
}

// MigratePendingCommandIndex: опрос устройства читает только pending-команды,
// где можно, держим частичный индекс.
func MigratePendingCommandIndex(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	switch dialect := db.Dialector.Name(); dialect {
	case "mysql":
		// частичных индексов нет, хватает составного idx_cmd_hw_status
		return nil
	case "postgres":
		return db.Exec(`CREATE INDEX IF NOT EXISTS ix_device_commands_pending ON "device_commands" ("hardware_id", "issued_at", "id") WHERE "status" = 'pending'`).Error
	case "sqlite":
		return db.Exec(`CREATE INDEX IF NOT EXISTS ix_device_commands_pending ON device_commands (hardware_id, issued_at, id) WHERE status = 'pending'`).Error
	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
