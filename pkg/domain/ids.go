// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "enroll/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a RequestID where an EntityID is expected.
type (
	RequestID uuid.UUID
	EntityID  uuid.UUID
)

// RegistrationCode is the opaque token addressing an invitation.
type RegistrationCode string

// FormName identifies a registration or enquiry form.
type FormName string

// ProfileName identifies a stored translation profile.
type ProfileName string

// New functions - generate fresh identifiers.

func NewRequestID() RequestID { return RequestID(uuid.New()) }
func NewEntityID() EntityID   { return EntityID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseRequestID(s string) (RequestID, error) {
	id, err := parseUUID(s, "request ID")
	return RequestID(id), err
}

func ParseEntityID(s string) (EntityID, error) {
	id, err := parseUUID(s, "entity ID")
	return EntityID(id), err
}

func ParseRegistrationCode(s string) (RegistrationCode, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "registration code cannot be empty")
	}
	return RegistrationCode(s), nil
}

// String methods - for logging and debugging.

func (id RequestID) String() string       { return uuid.UUID(id).String() }
func (id EntityID) String() string        { return uuid.UUID(id).String() }
func (c RegistrationCode) String() string { return string(c) }
func (n FormName) String() string         { return string(n) }
func (n ProfileName) String() string      { return string(n) }

// IsNil checks - used for service-layer validation.

func (id RequestID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id EntityID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (c RegistrationCode) IsNil() bool { return c == "" }

// parseUUID is the shared validation logic.
// Nil UUIDs are allowed here; use IsNil() at the service layer for business
// validation, so store lookups can return proper "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
