package users

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/sitestock/sitestock/internal/shared"
)

// Service wraps user administration rules.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new account with a hashed password.
func (s *Service) Create(ctx context.Context, account Account, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.repo.Create(ctx, account, string(hash))
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Get fetches a single account.
func (s *Service) Get(ctx context.Context, id int64) (*Account, error) {
	return s.repo.FindByID(ctx, id)
}

// Update changes name, role and active flag.
func (s *Service) Update(ctx context.Context, account Account) error {
	return s.repo.Update(ctx, account)
}

// ChangePassword verifies the current password before storing the new hash.
func (s *Service) ChangePassword(ctx context.Context, id int64, current, next string) error {
	hash, err := s.repo.PasswordHash(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)); err != nil {
		return shared.ErrInvalidCredentials
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, id, string(newHash))
}

// ResetPassword stores a new hash without checking the old one. Admin only.
func (s *Service) ResetPassword(ctx context.Context, id int64, next string) error {
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, id, string(newHash))
}
