package repo

import (
	"context"
	"errors"

	"ghosttrack/internal/models"
	"ghosttrack/internal/whereabouts"

	"gorm.io/gorm"
)

// OwnerLocationStore: gorm-реализация whereabouts.Store.
type OwnerLocationStore struct {
	db *gorm.DB
}

func NewOwnerLocationStore(db *gorm.DB) *OwnerLocationStore {
	return &OwnerLocationStore{db: db}
}

var _ whereabouts.Store = (*OwnerLocationStore)(nil)

func (s *OwnerLocationStore) Save(ctx context.Context, fix *whereabouts.Fix) error {
	m := models.OwnerLocation{
		AccountID:  fix.AccountID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		RecordedAt: fix.RecordedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	fix.ID = m.ID
	return nil
}

func (s *OwnerLocationStore) Latest(ctx context.Context, accountID string) (whereabouts.Fix, error) {
	var m models.OwnerLocation
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("recorded_at desc, id desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return whereabouts.Fix{}, whereabouts.ErrNoFix
	}
	if err != nil {
		return whereabouts.Fix{}, err
	}
	return whereabouts.Fix{
		ID:         m.ID,
		AccountID:  m.AccountID,
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		RecordedAt: m.RecordedAt,
	}, nil
}
