// Package seeder populates the in-memory stores with a demo schema so the
// server is usable out of the box. Durable deployments replace this with
// migration-managed configuration.
package seeder

import (
	"context"
	"fmt"
	"log/slog"

	"enroll/internal/forms/models"
	"enroll/internal/profile"
	"enroll/pkg/domain"
)

type FormStore interface {
	Put(ctx context.Context, form *models.Form) error
}

type ProfileStore interface {
	Put(ctx context.Context, def profile.Definition) error
}

// SchemaRegistry is the registry surface needed to declare element types.
type SchemaRegistry interface {
	RegisterGroup(path domain.GroupPath)
	RegisterIdentityType(name string)
	RegisterAttributeType(name string)
	RegisterCredential(name string)
}

// Seeder installs the demo onboarding configuration.
type Seeder struct {
	forms    FormStore
	profiles ProfileStore
	registry SchemaRegistry
	logger   *slog.Logger
}

func New(forms FormStore, profiles ProfileStore, registry SchemaRegistry, logger *slog.Logger) *Seeder {
	return &Seeder{
		forms:    forms,
		profiles: profiles,
		registry: registry,
		logger:   logger,
	}
}

// SeedAll declares the element schema, one registration form, and its
// translation profile.
func (s *Seeder) SeedAll(ctx context.Context) error {
	s.seedSchema()

	if err := s.seedProfiles(ctx); err != nil {
		return fmt.Errorf("failed to seed profiles: %w", err)
	}
	if err := s.seedForms(ctx); err != nil {
		return fmt.Errorf("failed to seed forms: %w", err)
	}

	s.logger.Info("demo configuration seeded",
		"forms", []string{"staff"},
		"profiles", []string{"staff-translate"},
	)
	return nil
}

func (s *Seeder) seedSchema() {
	for _, name := range []string{"email", "phone"} {
		s.registry.RegisterIdentityType(name)
	}
	for _, name := range []string{"displayName", "role", "dept"} {
		s.registry.RegisterAttributeType(name)
	}
	for _, path := range []domain.GroupPath{"/staff", "/staff/dev"} {
		s.registry.RegisterGroup(path)
	}
	s.registry.RegisterCredential("password")
}

func (s *Seeder) seedForms(ctx context.Context) error {
	return s.forms.Put(ctx, &models.Form{
		Name:    "staff",
		Type:    models.FormRegistration,
		Profile: "staff-translate",
		Identities: []models.IdentityParam{
			{Type: "email", Label: "Work email", Confirmation: models.ModeOnSubmit},
		},
		Attributes: []models.AttributeParam{
			{Name: "displayName", Group: domain.Root, Label: "Display name"},
			{Name: "role", Group: "/staff", Label: "Role", Optional: true},
		},
		Groups: []models.GroupParam{
			{Label: "Teams", PathPattern: "/staff/**", MultiSelect: true, Optional: true},
		},
		Credentials: []models.CredentialParam{
			{Name: "password"},
		},
		Templates: models.NotificationTemplates{
			Submitted:    "request-submitted",
			Accepted:     "request-accepted",
			Rejected:     "request-rejected",
			Invitation:   "invitation",
			Confirmation: "confirm-value",
		},
	})
}

func (s *Seeder) seedProfiles(ctx context.Context) error {
	return s.profiles.Put(ctx, profile.Definition{
		Name: "staff-translate",
		Kind: profile.KindRegistration,
		Rules: []profile.RuleDefinition{
			{Condition: "true", Action: "mapIdentity", Params: []string{"email", "idsByType.email"}},
			{Condition: "true", Action: "mapAttribute", Params: []string{"displayName", "/", "attrs.displayName"}},
			{Condition: "attrs.role ~= nil", Action: "mapAttribute", Params: []string{"role", "/staff", "attrs.role"}},
			{Condition: "true", Action: "mapGroup", Params: []string{`"/staff"`}},
			{Condition: "true", Action: "setEntityState", Params: []string{`"active"`}},
		},
	})
}
