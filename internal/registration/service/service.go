// Package service implements the request lifecycle orchestrator: submit,
// accept/reject/update/drop, invitation management, and confirmation
// dispatch.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Notifier,Authorizer

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"enroll/internal/audit"
	"enroll/internal/confirmation"
	"enroll/internal/expr"
	"enroll/internal/forms"
	"enroll/internal/forms/models"
	"enroll/internal/profile"
	regmetrics "enroll/internal/registration/metrics"
	"enroll/internal/registry"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// Action is a processing verb an administrator (or auto-processing) applies
// to a pending request.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionUpdate Action = "update"
	ActionDrop   Action = "drop"
)

// Capability is an authorization unit checked before operations.
type Capability string

const (
	CapabilityMaintenance      Capability = "maintenance"
	CapabilityRead             Capability = "read"
	CapabilityCredentialModify Capability = "credentialModify"
	CapabilityAttributeModify  Capability = "attributeModify"
	CapabilityIdentityModify   Capability = "identityModify"
	CapabilityGroupModify      Capability = "groupModify"
)

// processCapabilities is the set required to decide a request.
var processCapabilities = []Capability{
	CapabilityCredentialModify,
	CapabilityAttributeModify,
	CapabilityIdentityModify,
	CapabilityGroupModify,
}

// SystemActor attributes auto-processed transitions in comments and audit.
const SystemActor = "auto-processing"

type RequestStore interface {
	Create(ctx context.Context, state *models.UserRequestState) error
	Get(ctx context.Context, id domain.RequestID) (*models.UserRequestState, error)
	Update(ctx context.Context, state *models.UserRequestState) error
	Delete(ctx context.Context, id domain.RequestID) error
	GetAll(ctx context.Context) ([]*models.UserRequestState, error)
}

type InvitationStore interface {
	Create(ctx context.Context, inv *models.Invitation) error
	Find(ctx context.Context, code domain.RegistrationCode) (*models.Invitation, error)
	Update(ctx context.Context, inv *models.Invitation) error
	Delete(ctx context.Context, code domain.RegistrationCode) error
	FindByAddress(ctx context.Context, address string) ([]*models.Invitation, error)
}

type FormStore interface {
	Get(ctx context.Context, name domain.FormName) (*models.Form, error)
}

// Notifier is the outbound message sink. Delivery is best-effort; failures
// never roll back request state.
type Notifier interface {
	Send(ctx context.Context, address, templateID string, params map[string]string, locale string) error
	SendToGroup(ctx context.Context, group domain.GroupPath, templateID string, params map[string]string, locale string) error
}

// Authorizer is the external policy check consulted before each operation.
type Authorizer interface {
	Authorize(ctx context.Context, actor string, capabilities ...Capability) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service is the lifecycle orchestrator.
type Service struct {
	requests    RequestStore
	invitations InvitationStore
	forms       FormStore
	profiles    profile.Resolver

	registry      registry.Registry
	preprocessor  *forms.Preprocessor
	evaluator     *expr.Evaluator
	confirmations *confirmation.Manager
	notifier      Notifier
	authorizer    Authorizer

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *regmetrics.Metrics
	tracer         trace.Tracer
	tx             StoreTx
	now            func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *regmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Deps bundles the mandatory collaborators.
type Deps struct {
	Requests      RequestStore
	Invitations   InvitationStore
	Forms         FormStore
	Profiles      profile.Resolver
	Registry      registry.Registry
	Preprocessor  *forms.Preprocessor
	Evaluator     *expr.Evaluator
	Confirmations *confirmation.Manager
	Notifier      Notifier
	Authorizer    Authorizer
}

func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		requests:      deps.Requests,
		invitations:   deps.Invitations,
		forms:         deps.Forms,
		profiles:      deps.Profiles,
		registry:      deps.Registry,
		preprocessor:  deps.Preprocessor,
		evaluator:     deps.Evaluator,
		confirmations: deps.Confirmations,
		notifier:      deps.Notifier,
		authorizer:    deps.Authorizer,
		logger:        slog.Default(),
		tracer:        otel.Tracer("enroll/registration"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = newInMemoryStoreTx()
	}
	return s
}

func (s *Service) authorize(ctx context.Context, actor string, capabilities ...Capability) error {
	if s.authorizer == nil {
		return nil
	}
	if err := s.authorizer.Authorize(ctx, actor, capabilities...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeForbidden, "operation not permitted")
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			slog.String("action", event.Action),
			slog.String("error", err.Error()))
	}
}

// notify is the best-effort wrapper around the notification sink.
func (s *Service) notify(ctx context.Context, address, templateID string, params map[string]string, locale string) {
	if s.notifier == nil || templateID == "" || address == "" {
		return
	}
	if err := s.notifier.Send(ctx, address, templateID, params, locale); err != nil {
		s.logger.WarnContext(ctx, "notification send failed",
			slog.String("template", templateID),
			slog.String("error", err.Error()))
	}
}
