package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ghosttrack/internal/identity"
	"ghosttrack/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStore: gorm-реализация identity.Store.
type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

var _ identity.Store = (*DeviceStore)(nil)

func (s *DeviceStore) Find(ctx context.Context, hardwareID string) (identity.Device, error) {
	var m models.Device
	err := s.db.WithContext(ctx).Where("hardware_id = ?", hardwareID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return identity.Device{}, identity.ErrDeviceNotFound
	}
	if err != nil {
		return identity.Device{}, err
	}
	return toDevice(m)
}

// Upsert: создаёт устройство или обновляет last_seen/info. При чужом
// владельце трогаем только last_seen_at. Проигранная гонка на создании
// (unique hardware_id) повторяется как обновление.
func (s *DeviceStore) Upsert(ctx context.Context, hardwareID, accountID string, info identity.Info, now time.Time) (identity.UpsertResult, error) {
	raw, err := encodeJSON(info)
	if err != nil {
		return identity.UpsertResult{}, err
	}
	db := s.db.WithContext(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		var m models.Device
		err := db.Where("hardware_id = ?", hardwareID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m = models.Device{
				HardwareID:  hardwareID,
				AccountID:   accountID,
				Status:      "registered",
				FirstSeenAt: now,
				LastSeenAt:  now,
				Info:        raw,
			}
			if err := db.Create(&m).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					continue
				}
				return identity.UpsertResult{}, err
			}
			d, err := toDevice(m)
			return identity.UpsertResult{Device: d, Created: true}, err
		}
		if err != nil {
			return identity.UpsertResult{}, err
		}

		res := identity.UpsertResult{}
		updates := map[string]any{"last_seen_at": now}
		m.LastSeenAt = now
		if m.AccountID != accountID {
			res.OwnerMismatch = true
			res.PriorOwner = m.AccountID
		} else if info != nil {
			updates["info"] = raw
			m.Info = raw
		}
		if err := db.Model(&models.Device{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
			return identity.UpsertResult{}, err
		}
		res.Device, err = toDevice(m)
		return res, err
	}
	return identity.UpsertResult{}, fmt.Errorf("upsert %s: concurrent create did not settle", hardwareID)
}

func (s *DeviceStore) Touch(ctx context.Context, hardwareID string, now time.Time) error {
	tx := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("hardware_id = ?", hardwareID).
		Update("last_seen_at", now)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return identity.ErrDeviceNotFound
	}
	return nil
}

// Link: last-write-wins по updated_at, строка блокируется на время сравнения
// (sqlite FOR UPDATE не поддерживает, там хватает блокировки БД на запись).
func (s *DeviceStore) Link(ctx context.Context, l identity.Link) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.HardwareLink
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("original_id = ?", l.OriginalID).
			First(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := models.HardwareLink{OriginalID: l.OriginalID, CurrentID: l.CurrentID, UpdatedAt: l.UpdatedAt}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "original_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"current_id", "updated_at"}),
			}).Create(&row).Error
		case err != nil:
			return err
		}
		if cur.UpdatedAt.After(l.UpdatedAt) {
			return nil
		}
		return tx.Model(&models.HardwareLink{}).Where("id = ?", cur.ID).
			Updates(map[string]any{"current_id": l.CurrentID, "updated_at": l.UpdatedAt}).Error
	})
}

func (s *DeviceStore) Successor(ctx context.Context, originalID string) (string, bool, error) {
	var m models.HardwareLink
	err := s.db.WithContext(ctx).Where("original_id = ?", originalID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.CurrentID, true, nil
}

func (s *DeviceStore) Predecessor(ctx context.Context, currentID string) (string, bool, error) {
	var m models.HardwareLink
	err := s.db.WithContext(ctx).Where("current_id = ?", currentID).
		Order("updated_at desc, id desc").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.OriginalID, true, nil
}

func (s *DeviceStore) RecordReset(ctx context.Context, ev identity.ResetEvent) error {
	raw, err := encodeJSON(ev.Info)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&models.FactoryResetEvent{
		OriginalHardwareID: ev.OriginalHardwareID,
		NewHardwareID:      ev.NewHardwareID,
		DetectedAt:         ev.DetectedAt,
		Info:               raw,
	}).Error
}

func (s *DeviceStore) ListResets(ctx context.Context, originalID string) ([]identity.ResetEvent, error) {
	var rows []models.FactoryResetEvent
	if err := s.db.WithContext(ctx).Where("original_hardware_id = ?", originalID).
		Order("detected_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]identity.ResetEvent, 0, len(rows))
	for _, r := range rows {
		var info identity.Info
		if err := decodeJSON(r.Info, &info); err != nil {
			return nil, err
		}
		out = append(out, identity.ResetEvent{
			ID:                 r.ID,
			OriginalHardwareID: r.OriginalHardwareID,
			NewHardwareID:      r.NewHardwareID,
			DetectedAt:         r.DetectedAt,
			Info:               info,
		})
	}
	return out, nil
}

func toDevice(m models.Device) (identity.Device, error) {
	var info identity.Info
	if err := decodeJSON(m.Info, &info); err != nil {
		return identity.Device{}, err
	}
	return identity.Device{
		HardwareID:  m.HardwareID,
		AccountID:   m.AccountID,
		FirstSeenAt: m.FirstSeenAt,
		LastSeenAt:  m.LastSeenAt,
		Info:        info,
	}, nil
}

// encodeJSON: nil-мапа -> NULL в колонке.
func encodeJSON[M ~map[string]any](v M) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
