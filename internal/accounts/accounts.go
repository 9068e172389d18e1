// Package accounts is the minimal owner-account collaborator: registration,
// login and password re-verification for second-factor commands.
package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ghosttrack/internal/apperr"
	"ghosttrack/internal/validate"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")
)

// credentials: пароль в байтах, bcrypt режет всё после 72.
type credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Store interface {
	// Create returns ErrEmailTaken on a duplicate email.
	Create(ctx context.Context, a Account) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
}

// TokenIssuer is satisfied by *auth.Tokens.
type TokenIssuer interface {
	Issue(accountID string) (string, error)
}

type Service struct {
	store  Store
	tokens TokenIssuer
	cost   int
}

func NewService(store Store, tokens TokenIssuer) *Service {
	if store == nil {
		store = NewMemStore()
	}
	return &Service{store: store, tokens: tokens, cost: bcrypt.DefaultCost}
}

// WithCost lowers the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type Session struct {
	AccountID string `json:"user_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
}

func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, apperr.Internal("hash password", err)
	}
	a := Account{ID: uuid.NewString(), Email: email, PasswordHash: string(hash), CreatedAt: time.Now().UTC()}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return Session{}, apperr.Conflict("email already registered")
		}
		return Session{}, apperr.Internal("create account", err)
	}
	return s.session(a)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	a, err := s.store.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrAccountNotFound) {
		return Session{}, apperr.Unauthorized("invalid credentials")
	}
	if err != nil {
		return Session{}, apperr.Internal("find account", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return Session{}, apperr.Unauthorized("invalid credentials")
	}
	return s.session(a)
}

// VerifyPassword re-checks password for accountID. A mismatch is Forbidden,
// independent of the caller's token.
func (s *Service) VerifyPassword(ctx context.Context, accountID, password string) error {
	a, err := s.store.FindByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return apperr.Forbidden("invalid password")
	}
	if err != nil {
		return apperr.Internal("find account", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return apperr.Forbidden("invalid password")
	}
	return nil
}

func (s *Service) session(a Account) (Session, error) {
	tok, err := s.tokens.Issue(a.ID)
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	return Session{AccountID: a.ID, Email: a.Email, Token: tok}, nil
}

type memStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

func NewMemStore() Store {
	return &memStore{byID: make(map[string]Account), byEmail: make(map[string]string)}
}

func (m *memStore) Create(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[a.Email]; ok {
		return ErrEmailTaken
	}
	m.byID[a.ID] = a
	m.byEmail[a.Email] = a.ID
	return nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return m.byID[id], nil
}

func (m *memStore) FindByID(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}
