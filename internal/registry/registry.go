// Package registry defines the identity-registry collaborator the
// orchestrator commits accepted requests to, and an in-memory
// implementation of it.
package registry

import (
	"context"
	"time"

	"enroll/pkg/domain"
)

// Entity states the registry accepts for newly created entities.
const (
	StateActive        = "active"
	StateDisabled      = "disabled"
	StateAuthnDisabled = "authentication_disabled"
)

// Identity is one identity attached to an entity.
type Identity struct {
	Type      string
	Value     string
	Confirmed bool
	Source    string
}

// Attribute is one attribute value set within a group context.
type Attribute struct {
	Name      string
	Values    []string
	Confirmed bool
	Source    string
}

// Credential is a prepared secret to install on the entity.
type Credential struct {
	Name       string
	SecretHash string
}

// NewEntity is the creation payload: the first resolved identity plus the
// root-group attributes, and the initial state.
type NewEntity struct {
	State      string
	Identity   Identity
	Attributes []Attribute
}

// Registry is the directory the accept path writes to. Implementations are
// expected to be crash-consistent; this package ships a memory one.
type Registry interface {
	CreateEntity(ctx context.Context, entity NewEntity) (domain.EntityID, error)
	AddIdentity(ctx context.Context, entityID domain.EntityID, identity Identity) error
	AddGroupMember(ctx context.Context, group domain.GroupPath, entityID domain.EntityID) error
	SetAttributes(ctx context.Context, entityID domain.EntityID, group domain.GroupPath, attrs []Attribute) error
	SetAttributeClasses(ctx context.Context, entityID domain.EntityID, group domain.GroupPath, classes []string) error
	SetCredential(ctx context.Context, entityID domain.EntityID, credential Credential) error

	// Schema checks, consulted when re-validating a translation result.
	GroupExists(ctx context.Context, group domain.GroupPath) (bool, error)
	KnownIdentityType(ctx context.Context, name string) (bool, error)
	KnownAttributeType(ctx context.Context, name string) (bool, error)
	KnownCredential(ctx context.Context, name string) (bool, error)
}

// ElementReader exposes entity-owned verifiable elements to the
// confirmation manager's entity facility.
type ElementReader interface {
	IdentityValue(ctx context.Context, entityID domain.EntityID, identityType string) (value string, confirmed bool, err error)
	AttributeValue(ctx context.Context, entityID domain.EntityID, name string) (value string, confirmed bool, err error)
	ConfirmIdentity(ctx context.Context, entityID domain.EntityID, identityType string, at time.Time) error
	ConfirmAttribute(ctx context.Context, entityID domain.EntityID, name string, at time.Time) error
}
