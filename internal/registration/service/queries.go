package service

import (
	"context"
	"errors"
	"sort"

	"enroll/internal/forms/models"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// GetRequest returns one request's state.
func (s *Service) GetRequest(ctx context.Context, actor string, id domain.RequestID) (*models.UserRequestState, error) {
	if err := s.authorize(ctx, actor, CapabilityRead); err != nil {
		return nil, err
	}
	st, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return st, nil
}

// GetRequests lists all request states, oldest first, for administrative UIs.
func (s *Service) GetRequests(ctx context.Context, actor string) ([]*models.UserRequestState, error) {
	if err := s.authorize(ctx, actor, CapabilityRead); err != nil {
		return nil, err
	}
	all, err := s.requests.GetAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return all, nil
}
