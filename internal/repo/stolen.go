package repo

import (
	"context"
	"errors"

	"ghosttrack/internal/lifecycle"
	"ghosttrack/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StolenStore struct {
	db *gorm.DB
}

func NewStolenStore(db *gorm.DB) *StolenStore {
	return &StolenStore{db: db}
}

var _ lifecycle.Store = (*StolenStore)(nil)

// MarkStolen: insert-if-absent по уникальному hardware_id. Только вставивший
// вызов переводит devices.status в stolen.
func (s *StolenStore) MarkStolen(ctx context.Context, rec lifecycle.Record) (lifecycle.Record, bool, error) {
	created := false
	out := rec
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.StolenDevice{
			HardwareID:    rec.HardwareID,
			AccountID:     rec.AccountID,
			ReportedAt:    rec.ReportedAt,
			RecoveryEmail: rec.RecoveryEmail,
			RecoveryPhone: rec.RecoveryPhone,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hardware_id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return tx.Model(&models.Device{}).
				Where("hardware_id = ?", rec.HardwareID).
				Update("status", string(lifecycle.StatusStolen)).Error
		}
		var cur models.StolenDevice
		if err := tx.Where("hardware_id = ?", rec.HardwareID).First(&cur).Error; err != nil {
			return err
		}
		out = toStolen(cur)
		return nil
	})
	if err != nil {
		return lifecycle.Record{}, false, err
	}
	return out, created, nil
}

func (s *StolenStore) Find(ctx context.Context, hardwareID string) (lifecycle.Record, error) {
	var m models.StolenDevice
	err := s.db.WithContext(ctx).Where("hardware_id = ?", hardwareID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return lifecycle.Record{}, lifecycle.ErrNotStolen
	}
	if err != nil {
		return lifecycle.Record{}, err
	}
	return toStolen(m), nil
}

func toStolen(m models.StolenDevice) lifecycle.Record {
	return lifecycle.Record{
		HardwareID:    m.HardwareID,
		AccountID:     m.AccountID,
		ReportedAt:    m.ReportedAt,
		RecoveryEmail: m.RecoveryEmail,
		RecoveryPhone: m.RecoveryPhone,
	}
}
