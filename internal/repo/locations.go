package repo

import (
	"context"
	"encoding/json"

	"ghosttrack/internal/ledger"
	"ghosttrack/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LocationStore struct {
	db *gorm.DB
}

func NewLocationStore(db *gorm.DB) *LocationStore {
	return &LocationStore{db: db}
}

var _ ledger.Store = (*LocationStore)(nil)

func (s *LocationStore) Append(ctx context.Context, rec *ledger.Record) error {
	raw, err := json.Marshal(rec.Connection)
	if err != nil {
		return err
	}
	m := models.LocationRecord{
		HardwareID: rec.HardwareID,
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
		RecordedAt: rec.RecordedAt,
		Connection: datatypes.JSON(raw),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	rec.ID = m.ID
	return nil
}

func (s *LocationStore) Recent(ctx context.Context, hardwareID string, limit int) ([]ledger.Record, error) {
	var rows []models.LocationRecord
	if err := s.db.WithContext(ctx).
		Where("hardware_id = ?", hardwareID).
		Order("recorded_at desc, id desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.Record, 0, len(rows))
	for _, r := range rows {
		var conn ledger.ConnectionInfo
		if err := decodeJSON(r.Connection, &conn); err != nil {
			return nil, err
		}
		out = append(out, ledger.Record{
			ID:         r.ID,
			HardwareID: r.HardwareID,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			RecordedAt: r.RecordedAt,
			Connection: conn,
		})
	}
	return out, nil
}
