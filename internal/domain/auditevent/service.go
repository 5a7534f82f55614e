package auditevent

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Append(ctx context.Context, e *Event) error {
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, resourceType, resourceID string, limit, offset int) ([]*Event, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, resourceType, resourceID, limit, offset)
}
