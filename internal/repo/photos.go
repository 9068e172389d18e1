package repo

import (
	"context"
	"errors"

	"ghosttrack/internal/evidence"
	"ghosttrack/internal/models"

	"gorm.io/gorm"
)

type PhotoStore struct {
	db *gorm.DB
}

func NewPhotoStore(db *gorm.DB) *PhotoStore {
	return &PhotoStore{db: db}
}

var _ evidence.Store = (*PhotoStore)(nil)

func (s *PhotoStore) AppendPhoto(ctx context.Context, p *evidence.Photo) error {
	m := models.DevicePhoto{HardwareID: p.HardwareID, Data: p.Data, TakenAt: p.TakenAt}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	p.ID = m.ID
	return nil
}

func (s *PhotoStore) LatestPhoto(ctx context.Context, hardwareID string) (evidence.Photo, bool, error) {
	var m models.DevicePhoto
	err := s.db.WithContext(ctx).Where("hardware_id = ?", hardwareID).
		Order("taken_at desc, id desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return evidence.Photo{}, false, nil
	}
	if err != nil {
		return evidence.Photo{}, false, err
	}
	return evidence.Photo{ID: m.ID, HardwareID: m.HardwareID, Data: m.Data, TakenAt: m.TakenAt}, true, nil
}
