package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

type identityRecord struct {
	value     string
	confirmed bool
	source    string
}

type attributeRecord struct {
	values    []string
	confirmed bool
	source    string
}

type groupRecord struct {
	attributes map[string]*attributeRecord
	classes    []string
}

type entityRecord struct {
	state       string
	identities  map[string]*identityRecord
	groups      map[domain.GroupPath]*groupRecord
	credentials map[string]string
}

// InMemoryRegistry is a schema-aware memory directory. Group memberships
// must be established parent before child; writing attributes into a group
// the entity is not a member of is a consistency violation, which is what
// makes commit-ordering bugs visible in tests.
type InMemoryRegistry struct {
	mu sync.RWMutex

	groups         map[domain.GroupPath]bool
	identityTypes  map[string]bool
	attributeTypes map[string]bool
	credentials    map[string]bool

	entities map[domain.EntityID]*entityRecord
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		groups:         map[domain.GroupPath]bool{domain.Root: true},
		identityTypes:  make(map[string]bool),
		attributeTypes: make(map[string]bool),
		credentials:    make(map[string]bool),
		entities:       make(map[domain.EntityID]*entityRecord),
	}
}

// Schema registration, used by wiring and tests.

func (r *InMemoryRegistry) RegisterGroup(path domain.GroupPath) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[path] = true
}

func (r *InMemoryRegistry) RegisterIdentityType(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identityTypes[name] = true
}

func (r *InMemoryRegistry) RegisterAttributeType(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attributeTypes[name] = true
}

func (r *InMemoryRegistry) RegisterCredential(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credentials[name] = true
}

func (r *InMemoryRegistry) CreateEntity(_ context.Context, entity NewEntity) (domain.EntityID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !validState(entity.State) {
		return domain.EntityID{}, dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("unknown entity state %q", entity.State))
	}
	if !r.identityTypes[entity.Identity.Type] {
		return domain.EntityID{}, dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("unknown identity type %q", entity.Identity.Type))
	}

	rec := &entityRecord{
		state:       entity.State,
		identities:  make(map[string]*identityRecord),
		groups:      map[domain.GroupPath]*groupRecord{domain.Root: newGroupRecord()},
		credentials: make(map[string]string),
	}
	rec.identities[entity.Identity.Type] = &identityRecord{
		value:     entity.Identity.Value,
		confirmed: entity.Identity.Confirmed,
		source:    entity.Identity.Source,
	}
	for _, at := range entity.Attributes {
		if !r.attributeTypes[at.Name] {
			return domain.EntityID{}, dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("unknown attribute type %q", at.Name))
		}
		rec.groups[domain.Root].attributes[at.Name] = &attributeRecord{
			values:    append([]string(nil), at.Values...),
			confirmed: at.Confirmed,
			source:    at.Source,
		}
	}

	id := domain.NewEntityID()
	r.entities[id] = rec
	return id, nil
}

func (r *InMemoryRegistry) AddIdentity(_ context.Context, entityID domain.EntityID, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !r.identityTypes[identity.Type] {
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("unknown identity type %q", identity.Type))
	}
	rec.identities[identity.Type] = &identityRecord{
		value:     identity.Value,
		confirmed: identity.Confirmed,
		source:    identity.Source,
	}
	return nil
}

func (r *InMemoryRegistry) AddGroupMember(_ context.Context, group domain.GroupPath, entityID domain.EntityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !r.groups[group] {
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("group %q does not exist", group))
	}
	// Parent membership must already be in place. This is the invariant the
	// accept path's depth ordering exists to satisfy.
	if parent := group.Parent(); parent != group {
		if _, member := rec.groups[parent]; !member {
			return dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("entity is not a member of parent group %q", parent))
		}
	}
	if _, member := rec.groups[group]; !member {
		rec.groups[group] = newGroupRecord()
	}
	return nil
}

func (r *InMemoryRegistry) SetAttributes(_ context.Context, entityID domain.EntityID, group domain.GroupPath, attrs []Attribute) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	g, member := rec.groups[group]
	if !member {
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("entity is not a member of group %q", group))
	}
	for _, at := range attrs {
		if !r.attributeTypes[at.Name] {
			return dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("unknown attribute type %q", at.Name))
		}
		g.attributes[at.Name] = &attributeRecord{
			values:    append([]string(nil), at.Values...),
			confirmed: at.Confirmed,
			source:    at.Source,
		}
	}
	return nil
}

func (r *InMemoryRegistry) SetAttributeClasses(_ context.Context, entityID domain.EntityID, group domain.GroupPath, classes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	g, member := rec.groups[group]
	if !member {
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("entity is not a member of group %q", group))
	}
	g.classes = append([]string(nil), classes...)
	return nil
}

func (r *InMemoryRegistry) SetCredential(_ context.Context, entityID domain.EntityID, credential Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !r.credentials[credential.Name] {
		return dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("unknown credential %q", credential.Name))
	}
	rec.credentials[credential.Name] = credential.SecretHash
	return nil
}

func (r *InMemoryRegistry) GroupExists(_ context.Context, group domain.GroupPath) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[group], nil
}

func (r *InMemoryRegistry) KnownIdentityType(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identityTypes[name], nil
}

func (r *InMemoryRegistry) KnownAttributeType(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attributeTypes[name], nil
}

func (r *InMemoryRegistry) KnownCredential(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.credentials[name], nil
}

// ElementReader implementation, backing the entity confirmation facility.

func (r *InMemoryRegistry) IdentityValue(_ context.Context, entityID domain.EntityID, identityType string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return "", false, sentinel.ErrNotFound
	}
	id, ok := rec.identities[identityType]
	if !ok {
		return "", false, sentinel.ErrNotFound
	}
	return id.value, id.confirmed, nil
}

func (r *InMemoryRegistry) AttributeValue(_ context.Context, entityID domain.EntityID, name string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	at, ok := r.findAttribute(entityID, name)
	if !ok {
		return "", false, sentinel.ErrNotFound
	}
	if len(at.values) == 0 {
		return "", at.confirmed, nil
	}
	return at.values[0], at.confirmed, nil
}

func (r *InMemoryRegistry) ConfirmIdentity(_ context.Context, entityID domain.EntityID, identityType string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return sentinel.ErrNotFound
	}
	id, ok := rec.identities[identityType]
	if !ok {
		return sentinel.ErrNotFound
	}
	id.confirmed = true
	return nil
}

func (r *InMemoryRegistry) ConfirmAttribute(_ context.Context, entityID domain.EntityID, name string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.findAttribute(entityID, name)
	if !ok {
		return sentinel.ErrNotFound
	}
	at.confirmed = true
	return nil
}

// Inspection helpers for tests and diagnostics.

func (r *InMemoryRegistry) EntityState(entityID domain.EntityID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[entityID]
	if !ok {
		return "", false
	}
	return rec.state, true
}

func (r *InMemoryRegistry) Memberships(entityID domain.EntityID) []domain.GroupPath {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[entityID]
	if !ok {
		return nil
	}
	out := make([]domain.GroupPath, 0, len(rec.groups))
	for g := range rec.groups {
		out = append(out, g)
	}
	domain.SortByDepth(out)
	return out
}

func (r *InMemoryRegistry) GroupAttribute(entityID domain.EntityID, group domain.GroupPath, name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[entityID]
	if !ok {
		return nil, false
	}
	g, ok := rec.groups[group]
	if !ok {
		return nil, false
	}
	at, ok := g.attributes[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), at.values...), true
}

func (r *InMemoryRegistry) AttributeClasses(entityID domain.EntityID, group domain.GroupPath) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[entityID]
	if !ok {
		return nil
	}
	g, ok := rec.groups[group]
	if !ok {
		return nil
	}
	return append([]string(nil), g.classes...)
}

func (r *InMemoryRegistry) CredentialHash(entityID domain.EntityID, name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[entityID]
	if !ok {
		return "", false
	}
	hash, ok := rec.credentials[name]
	return hash, ok
}

func (r *InMemoryRegistry) findAttribute(entityID domain.EntityID, name string) (*attributeRecord, bool) {
	rec, ok := r.entities[entityID]
	if !ok {
		return nil, false
	}
	for _, g := range rec.groups {
		if at, ok := g.attributes[name]; ok {
			return at, true
		}
	}
	return nil, false
}

func newGroupRecord() *groupRecord {
	return &groupRecord{attributes: make(map[string]*attributeRecord)}
}

func validState(s string) bool {
	switch s {
	case StateActive, StateDisabled, StateAuthnDisabled:
		return true
	}
	return false
}
