package audit

import (
	"context"
	"fmt"
)

// RepositoryPort abstracts timeline reads for the service.
type RepositoryPort interface {
	Timeline(ctx context.Context, q TimelineQuery) ([]Entry, error)
}

// Service coordinates audit timeline reads. Writes go through Recorder;
// reads never mutate state.
type Service struct {
	repo RepositoryPort
}

// NewService builds the audit query service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of the audit trail, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.Timeline(ctx, TimelineQuery{
		ResourceType: filters.ResourceType,
		Category:     string(filters.Category),
		ActorID:      filters.ActorID,
		From:         filters.From,
		To:           filters.To,
		Offset:       (page - 1) * pageSize,
		Limit:        pageSize + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export fetches the full filtered trail without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Timeline(ctx, TimelineQuery{
		ResourceType: filters.ResourceType,
		Category:     string(filters.Category),
		ActorID:      filters.ActorID,
		From:         filters.From,
		To:           filters.To,
	})
}
