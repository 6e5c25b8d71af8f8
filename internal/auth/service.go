package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sitestock/sitestock/internal/shared"
)

// dummyHash keeps credential checks constant-time when the email is
// unknown: the bcrypt comparison runs either way.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Service owns credential checks and the postgres session trail kept
// alongside the redis session store.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate resolves email/password credentials to an active
// account. Every failure mode collapses into
// shared.ErrInvalidCredentials so responses never reveal whether the
// email exists.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// TrackSession records the session in postgres for audit and forced
// revocation; redis remains the source of truth for liveness.
func (s *Service) TrackSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, userAgent string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, userAgent)
}

// DiscardSession drops the postgres record after logout.
func (s *Service) DiscardSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
