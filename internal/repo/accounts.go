package repo

import (
	"context"
	"errors"

	"ghosttrack/internal/accounts"
	"ghosttrack/internal/models"

	"gorm.io/gorm"
)

type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

var _ accounts.Store = (*AccountStore)(nil)

func (s *AccountStore) Create(ctx context.Context, a accounts.Account) error {
	err := s.db.WithContext(ctx).Create(&models.Account{
		ID:           a.ID,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return accounts.ErrEmailTaken
	}
	return err
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (accounts.Account, error) {
	return s.find(ctx, "email = ?", email)
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (accounts.Account, error) {
	return s.find(ctx, "id = ?", id)
}

func (s *AccountStore) find(ctx context.Context, where string, arg string) (accounts.Account, error) {
	var m models.Account
	err := s.db.WithContext(ctx).Where(where, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	if err != nil {
		return accounts.Account{}, err
	}
	return accounts.Account{ID: m.ID, Email: m.Email, PasswordHash: m.PasswordHash, CreatedAt: m.CreatedAt}, nil
}
