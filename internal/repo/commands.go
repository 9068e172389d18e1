package repo

import (
	"context"
	"errors"
	"time"

	"ghosttrack/internal/commands"
	"ghosttrack/internal/models"

	"gorm.io/gorm"
)

type CommandStore struct {
	db *gorm.DB
}

func NewCommandStore(db *gorm.DB) *CommandStore {
	return &CommandStore{db: db}
}

var _ commands.Store = (*CommandStore)(nil)

func (s *CommandStore) Create(ctx context.Context, cmd *commands.Command) error {
	payload, err := encodeJSON(cmd.Payload)
	if err != nil {
		return err
	}
	m := models.DeviceCommand{
		HardwareID:      cmd.HardwareID,
		IssuerAccountID: cmd.IssuerAccountID,
		Kind:            string(cmd.Kind),
		Payload:         payload,
		IssuedAt:        cmd.IssuedAt,
		Status:          string(cmd.Status),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	cmd.ID = m.ID
	return nil
}

func (s *CommandStore) Pending(ctx context.Context, hardwareID string) ([]commands.Command, error) {
	var rows []models.DeviceCommand
	if err := s.db.WithContext(ctx).
		Where("hardware_id = ? AND status = ?", hardwareID, string(commands.StatusPending)).
		Order("issued_at asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]commands.Command, 0, len(rows))
	for _, r := range rows {
		c, err := toCommand(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// MarkExecuted: условный UPDATE ... WHERE status='pending'; переход делает
// ровно один из конкурирующих вызовов.
func (s *CommandStore) MarkExecuted(ctx context.Context, id uint64, result map[string]any, at time.Time) (bool, error) {
	raw, err := encodeJSON(result)
	if err != nil {
		return false, err
	}
	tx := s.db.WithContext(ctx).Model(&models.DeviceCommand{}).
		Where("id = ? AND status = ?", id, string(commands.StatusPending)).
		Updates(map[string]any{
			"status":      string(commands.StatusExecuted),
			"executed_at": at,
			"result":      raw,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (s *CommandStore) Find(ctx context.Context, id uint64) (commands.Command, error) {
	var m models.DeviceCommand
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return commands.Command{}, commands.ErrCommandNotFound
	}
	if err != nil {
		return commands.Command{}, err
	}
	return toCommand(m)
}

func toCommand(m models.DeviceCommand) (commands.Command, error) {
	c := commands.Command{
		ID:              m.ID,
		HardwareID:      m.HardwareID,
		IssuerAccountID: m.IssuerAccountID,
		Kind:            commands.Kind(m.Kind),
		IssuedAt:        m.IssuedAt,
		Status:          commands.Status(m.Status),
		ExecutedAt:      m.ExecutedAt,
	}
	if err := decodeJSON(m.Payload, &c.Payload); err != nil {
		return commands.Command{}, err
	}
	if err := decodeJSON(m.Result, &c.Result); err != nil {
		return commands.Command{}, err
	}
	return c, nil
}
