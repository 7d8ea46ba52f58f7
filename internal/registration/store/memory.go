// Package store holds the in-memory persistence for the registration
// vertical: requests, invitations, forms, and compiled profiles.
package store

import (
	"context"
	"sync"

	"enroll/internal/forms/models"
	"enroll/internal/profile"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
)

// InMemoryRequestStore keeps request state keyed by request id.
type InMemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*models.UserRequestState
}

func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{requests: make(map[domain.RequestID]*models.UserRequestState)}
}

func (s *InMemoryRequestStore) Create(_ context.Context, state *models.UserRequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[state.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.requests[state.ID] = state
	return nil
}

func (s *InMemoryRequestStore) Get(_ context.Context, id domain.RequestID) (*models.UserRequestState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.requests[id]; ok {
		return st, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryRequestStore) Update(_ context.Context, state *models.UserRequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[state.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[state.ID] = state
	return nil
}

func (s *InMemoryRequestStore) Delete(_ context.Context, id domain.RequestID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *InMemoryRequestStore) GetAll(_ context.Context) ([]*models.UserRequestState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.UserRequestState, 0, len(s.requests))
	for _, st := range s.requests {
		out = append(out, st)
	}
	return out, nil
}

// InMemoryInvitationStore keeps invitations keyed by registration code.
type InMemoryInvitationStore struct {
	mu          sync.RWMutex
	invitations map[domain.RegistrationCode]*models.Invitation
}

func NewInMemoryInvitationStore() *InMemoryInvitationStore {
	return &InMemoryInvitationStore{invitations: make(map[domain.RegistrationCode]*models.Invitation)}
}

func (s *InMemoryInvitationStore) Create(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invitations[inv.Code]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.invitations[inv.Code] = inv
	return nil
}

func (s *InMemoryInvitationStore) Find(_ context.Context, code domain.RegistrationCode) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inv, ok := s.invitations[code]; ok {
		return inv, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryInvitationStore) Update(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[inv.Code]; !ok {
		return sentinel.ErrNotFound
	}
	s.invitations[inv.Code] = inv
	return nil
}

func (s *InMemoryInvitationStore) Delete(_ context.Context, code domain.RegistrationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[code]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.invitations, code)
	return nil
}

// FindByAddress lists invitations tied to a contact address, used by
// invitation auto-processing during acceptance.
func (s *InMemoryInvitationStore) FindByAddress(_ context.Context, address string) ([]*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Invitation
	for _, inv := range s.invitations {
		if inv.ContactAddress == address {
			out = append(out, inv)
		}
	}
	return out, nil
}

// InMemoryFormStore keeps form schemas keyed by name.
type InMemoryFormStore struct {
	mu    sync.RWMutex
	forms map[domain.FormName]*models.Form
}

func NewInMemoryFormStore() *InMemoryFormStore {
	return &InMemoryFormStore{forms: make(map[domain.FormName]*models.Form)}
}

func (s *InMemoryFormStore) Put(_ context.Context, form *models.Form) error {
	if err := form.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[form.Name] = form
	return nil
}

func (s *InMemoryFormStore) Get(_ context.Context, name domain.FormName) (*models.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.forms[name]; ok {
		return f, nil
	}
	return nil, sentinel.ErrNotFound
}

// InMemoryProfileStore compiles profile definitions on Put and resolves
// compiled profiles by name. Implements profile.Resolver.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	registry *profile.Registry
	profiles map[domain.ProfileName]*profile.Profile
}

func NewInMemoryProfileStore(registry *profile.Registry) *InMemoryProfileStore {
	return &InMemoryProfileStore{
		registry: registry,
		profiles: make(map[domain.ProfileName]*profile.Profile),
	}
}

func (s *InMemoryProfileStore) Put(_ context.Context, def profile.Definition) error {
	compiled, err := profile.Compile(def, s.registry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[def.Name] = compiled
	return nil
}

func (s *InMemoryProfileStore) Lookup(_ context.Context, name domain.ProfileName) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[name]; ok {
		return p, nil
	}
	return nil, sentinel.ErrNotFound
}
