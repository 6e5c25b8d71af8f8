package materials

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/shared"
)

// Service wraps material administration and the project linkage rules
// consumed by the stock ledger.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a material.
func (s *Service) Create(ctx context.Context, material Material) (int64, error) {
	return s.repo.Create(ctx, material)
}

// List returns all materials.
func (s *Service) List(ctx context.Context) ([]Material, error) {
	return s.repo.List(ctx)
}

// Get fetches a single material.
func (s *Service) Get(ctx context.Context, id int64) (*Material, error) {
	return s.repo.FindByID(ctx, id)
}

// Update changes mutable material fields.
func (s *Service) Update(ctx context.Context, material Material) error {
	return s.repo.Update(ctx, material)
}

// Names exposes the id → name directory for reporting.
func (s *Service) Names(ctx context.Context) (map[int64]string, error) {
	return s.repo.Names(ctx)
}

// LinkMaterial attaches a material to a project so stock can be
// recorded against that partition.
func (s *Service) LinkMaterial(ctx context.Context, projectID, materialID int64) error {
	if _, err := s.repo.FindByID(ctx, materialID); err != nil {
		return err
	}
	return s.repo.Link(ctx, projectID, materialID)
}

// UnlinkMaterial removes the linkage. Existing ledger rows stay put.
func (s *Service) UnlinkMaterial(ctx context.Context, projectID, materialID int64) error {
	return s.repo.Unlink(ctx, projectID, materialID)
}

// EnsureLinked fails with shared.ErrNotLinked unless the material is
// attached to the project. The general store needs no linkage and is
// handled before this is called.
func (s *Service) EnsureLinked(ctx context.Context, projectID, materialID int64) error {
	linked, err := s.repo.IsLinked(ctx, projectID, materialID)
	if err != nil {
		return err
	}
	if !linked {
		return shared.ErrNotLinked
	}
	return nil
}

// LinkedMaterialIDs lists the materials attached to a project.
func (s *Service) LinkedMaterialIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return s.repo.LinkedMaterialIDs(ctx, projectID)
}

// ReorderLevel returns the material's reorder threshold, zero when none
// is configured.
func (s *Service) ReorderLevel(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	material, err := s.repo.FindByID(ctx, materialID)
	if err != nil {
		return decimal.Zero, err
	}
	if !material.ReorderLevel.Valid {
		return decimal.Zero, nil
	}
	return material.ReorderLevel.Decimal, nil
}
