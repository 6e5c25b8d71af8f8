package projects

import "context"

// Service wraps project administration rules.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a project; status defaults to "In Progress".
func (s *Service) Create(ctx context.Context, project Project) (int64, error) {
	if project.Status == "" {
		project.Status = StatusInProgress
	}
	return s.repo.Create(ctx, project)
}

// List returns all projects.
func (s *Service) List(ctx context.Context) ([]Project, error) {
	return s.repo.List(ctx)
}

// Get fetches a single project.
func (s *Service) Get(ctx context.Context, id int64) (*Project, error) {
	return s.repo.FindByID(ctx, id)
}

// Update changes mutable project fields.
func (s *Service) Update(ctx context.Context, project Project) error {
	if project.Status == "" {
		project.Status = StatusInProgress
	}
	return s.repo.Update(ctx, project)
}

// Names exposes the id → name directory for reporting.
func (s *Service) Names(ctx context.Context) (map[int64]string, error) {
	return s.repo.Names(ctx)
}
