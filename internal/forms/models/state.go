package models

import (
	"time"

	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// Status is the lifecycle state of a submitted request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusDropped  Status = "dropped"
)

// AdminComment is an append-only administrator note on a request.
type AdminComment struct {
	Author    string
	Text      string
	Public    bool
	CreatedAt time.Time
}

// UserRequestState wraps a submitted request with its mutable lifecycle
// fields. Owned by the orchestrator and persisted via the request store.
type UserRequestState struct {
	ID            domain.RequestID
	Request       *Request
	Status        Status
	AdminComments []AdminComment
	CreatedEntity domain.EntityID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Pending reports whether the request can still be updated or decided.
func (s *UserRequestState) Pending() bool { return s.Status == StatusPending }

// MarkAccepted transitions to accepted, recording the created entity.
// The entity id is set exactly once.
func (s *UserRequestState) MarkAccepted(entity domain.EntityID, now time.Time) error {
	if !s.Pending() {
		return dErrors.New(dErrors.CodeInvalidState, "request is not pending")
	}
	if !s.CreatedEntity.IsNil() {
		return dErrors.New(dErrors.CodeInvalidState, "request already has a created entity")
	}
	s.Status = StatusAccepted
	s.CreatedEntity = entity
	s.UpdatedAt = now
	return nil
}

// MarkRejected transitions to rejected. No entity side effects.
func (s *UserRequestState) MarkRejected(now time.Time) error {
	if !s.Pending() {
		return dErrors.New(dErrors.CodeInvalidState, "request is not pending")
	}
	s.Status = StatusRejected
	s.UpdatedAt = now
	return nil
}

// AddComment appends an administrator comment.
func (s *UserRequestState) AddComment(author, text string, public bool, now time.Time) {
	if text == "" {
		return
	}
	s.AdminComments = append(s.AdminComments, AdminComment{
		Author:    author,
		Text:      text,
		Public:    public,
		CreatedAt: now,
	})
	s.UpdatedAt = now
}
