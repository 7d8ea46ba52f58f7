package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"enroll/internal/audit"
	"enroll/internal/confirmation"
	"enroll/internal/expr"
	"enroll/internal/forms"
	"enroll/internal/forms/models"
	"enroll/internal/profile"
	"enroll/internal/registration/service"
	"enroll/internal/registration/service/mocks"
	"enroll/internal/registration/store"
	"enroll/internal/registry"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

type sentMessage struct {
	address  string
	template string
	params   map[string]string
}

// auditRecorder captures emitted audit events synchronously.
type auditRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *auditRecorder) Emit(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *auditRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

// ServiceSuite exercises the request lifecycle end to end against the memory
// stores and registry: submission, decisions, auto-processing, invitation
// merging, and confirmation token handling.
type ServiceSuite struct {
	suite.Suite
	ctx  context.Context
	ctrl *gomock.Controller

	notifier   *mocks.MockNotifier
	authorizer *mocks.MockAuthorizer

	requests    *store.InMemoryRequestStore
	invitations *store.InMemoryInvitationStore
	forms       *store.InMemoryFormStore
	profiles    *store.InMemoryProfileStore
	reg         *registry.InMemoryRegistry
	manager     *confirmation.Manager
	audits      *auditRecorder
	svc         *service.Service

	mu   sync.Mutex
	sent []sentMessage
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.authorizer = mocks.NewMockAuthorizer(s.ctrl)
	s.sent = nil

	s.notifier.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, address, templateID string, params map[string]string, _ string) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sent = append(s.sent, sentMessage{address: address, template: templateID, params: params})
			return nil
		}).AnyTimes()
	s.notifier.EXPECT().
		SendToGroup(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	s.requests = store.NewInMemoryRequestStore()
	s.invitations = store.NewInMemoryInvitationStore()
	s.forms = store.NewInMemoryFormStore()
	s.profiles = store.NewInMemoryProfileStore(profile.DefaultRegistry())

	s.reg = registry.NewInMemoryRegistry()
	s.reg.RegisterIdentityType("email")
	s.reg.RegisterAttributeType("role")
	s.reg.RegisterAttributeType("dept")
	s.reg.RegisterAttributeType("displayName")
	s.reg.RegisterGroup("/staff")
	s.reg.RegisterGroup("/staff/dev")
	s.reg.RegisterCredential("password")

	codec := confirmation.NewCodec("test-signing-key", "enroll-test", time.Hour)
	s.manager = confirmation.NewManager(codec, confirmation.NewInMemoryTokenStore())
	s.manager.RegisterFacility(confirmation.OwnerRequest, service.NewRequestFacility(s.requests))
	s.manager.RegisterFacility(confirmation.OwnerEntity, service.NewEntityFacility(s.reg))

	s.audits = &auditRecorder{}
	s.svc = service.New(service.Deps{
		Requests:      s.requests,
		Invitations:   s.invitations,
		Forms:         s.forms,
		Profiles:      s.profiles,
		Registry:      s.reg,
		Preprocessor:  forms.NewPreprocessor(s.invitations),
		Evaluator:     expr.New(),
		Confirmations: s.manager,
		Notifier:      s.notifier,
		Authorizer:    s.authorizer,
	}, service.WithAuditPublisher(s.audits))
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) allowAll() {
	s.authorizer.EXPECT().
		Authorize(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
}

func (s *ServiceSuite) putForm(form *models.Form) {
	s.Require().NoError(s.forms.Put(s.ctx, form))
}

func (s *ServiceSuite) putProfile(def profile.Definition) {
	s.Require().NoError(s.profiles.Put(s.ctx, def))
}

// staffForm is the schema most tests submit against: one verifiable email
// identity, an optional role attribute targeting /staff, and an optional
// password credential.
func (s *ServiceSuite) staffForm(profileName domain.ProfileName) *models.Form {
	return &models.Form{
		Name:    "staff",
		Type:    models.FormRegistration,
		Profile: profileName,
		Identities: []models.IdentityParam{
			{Type: "email", Confirmation: models.ModeOnSubmit},
		},
		Attributes: []models.AttributeParam{
			{Name: "role", Group: "/staff", Optional: true},
		},
		Credentials: []models.CredentialParam{
			{Name: "password", Optional: true},
		},
		Templates: models.NotificationTemplates{
			Submitted:    "tmpl-submitted",
			Accepted:     "tmpl-accepted",
			Rejected:     "tmpl-rejected",
			Invitation:   "tmpl-invitation",
			Confirmation: "tmpl-confirmation",
		},
	}
}

// staffTranslate maps the email identity, the role attribute into /staff, a
// display name into the root group, and both staff groups with the child
// declared first so depth ordering on commit is actually exercised.
func (s *ServiceSuite) staffTranslate() profile.Definition {
	return profile.Definition{
		Name: "staff-translate",
		Kind: profile.KindRegistration,
		Rules: []profile.RuleDefinition{
			{Condition: "true", Action: "mapIdentity", Params: []string{"email", "idsByType.email"}},
			{Condition: "attrs.role ~= nil", Action: "mapAttribute", Params: []string{"role", "/staff", "attrs.role"}},
			{Condition: "true", Action: "mapGroup", Params: []string{`"/staff/dev"`}},
			{Condition: "true", Action: "mapGroup", Params: []string{`"/staff"`}},
			{Condition: "true", Action: "mapAttribute", Params: []string{"displayName", "/", "idsByType.email"}},
		},
	}
}

func (s *ServiceSuite) staffRequest() *models.Request {
	return &models.Request{
		Identities: []*models.IdentityEntry{
			{Type: "email", Value: "jane@example.com"},
		},
		Attributes: []*models.AttributeEntry{
			{Name: "role", Values: []string{"dev"}},
		},
		Credentials: []*models.CredentialEntry{
			{Name: "password", Secret: "hunter2"},
		},
		Locale: "en",
	}
}

func (s *ServiceSuite) messages(template string) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.sent {
		if m.template == template {
			out = append(out, m)
		}
	}
	return out
}

func (s *ServiceSuite) confirmationToken() string {
	msgs := s.messages("tmpl-confirmation")
	s.Require().NotEmpty(msgs, "expected a confirmation message")
	return msgs[len(msgs)-1].params["token"]
}

func (s *ServiceSuite) TestSubmitAndAcceptCreatesEntity() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	s.Len(s.messages("tmpl-submitted"), 1)
	s.Len(s.messages("tmpl-confirmation"), 1)

	err = s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "welcome aboard", "looks fine")
	s.Require().NoError(err)

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, st.Status)
	s.Require().False(st.CreatedEntity.IsNil())
	entityID := st.CreatedEntity

	state, ok := s.reg.EntityState(entityID)
	s.Require().True(ok)
	s.Equal(registry.StateActive, state)

	s.Equal([]domain.GroupPath{"/", "/staff", "/staff/dev"}, s.reg.Memberships(entityID))

	name, ok := s.reg.GroupAttribute(entityID, domain.Root, "displayName")
	s.Require().True(ok)
	s.Equal([]string{"jane@example.com"}, name)
	role, ok := s.reg.GroupAttribute(entityID, "/staff", "role")
	s.Require().True(ok)
	s.Equal([]string{"dev"}, role)

	hash, ok := s.reg.CredentialHash(entityID, "password")
	s.Require().True(ok)
	s.NotEmpty(hash)
	s.NotEqual("hunter2", hash)

	s.Len(s.messages("tmpl-accepted"), 1)
	s.Contains(s.audits.actions(), string(audit.EventRequestSubmitted))
	s.Contains(s.audits.actions(), string(audit.EventRequestAccepted))

	comments := make([]string, 0, len(st.AdminComments))
	for _, c := range st.AdminComments {
		comments = append(comments, c.Text)
	}
	s.Contains(comments, "welcome aboard")
	s.Contains(comments, "looks fine")
}

func (s *ServiceSuite) TestAcceptRewritesTokensToEntity() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	// The token the requester actually holds is the one delivered in the
	// confirmation message, not whatever sits in the store.
	emailed := s.confirmationToken()

	outstanding, err := s.manager.Outstanding(s.ctx, confirmation.RequestOwner(id))
	s.Require().NoError(err)
	s.Require().Len(outstanding, 1)

	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", ""))

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	entityID := st.CreatedEntity

	outstanding, err = s.manager.Outstanding(s.ctx, confirmation.RequestOwner(id))
	s.Require().NoError(err)
	s.Empty(outstanding, "request-owned tokens must not survive acceptance")

	rewritten, err := s.manager.Outstanding(s.ctx, confirmation.EntityOwner(entityID))
	s.Require().NoError(err)
	s.Require().Len(rewritten, 1)
	s.Equal(emailed, rewritten[0].Token, "rewrite must keep the delivered token string")

	// The delivered link keeps working after acceptance and confirms the
	// identity on the created entity.
	outcome, err := s.svc.Confirm(s.ctx, emailed)
	s.Require().NoError(err)
	s.Equal(confirmation.OutcomeConfirmed, outcome)

	_, confirmed, err := s.reg.IdentityValue(s.ctx, entityID, "email")
	s.Require().NoError(err)
	s.True(confirmed)

	// One-shot: the consumed token resolves to invalid afterwards.
	outcome, err = s.svc.Confirm(s.ctx, emailed)
	s.Require().NoError(err)
	s.Equal(confirmation.OutcomeInvalid, outcome)
}

func (s *ServiceSuite) TestOnAcceptConfirmationSurvivesRewrite() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	form := s.staffForm("staff-translate")
	form.Identities[0].Confirmation = models.ModeOnAccept
	s.putForm(form)

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)
	s.Empty(s.messages("tmpl-confirmation"), "on-accept values must not be confirmed at submission")

	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", ""))
	emailed := s.confirmationToken()

	outcome, err := s.svc.Confirm(s.ctx, emailed)
	s.Require().NoError(err)
	s.Equal(confirmation.OutcomeConfirmed, outcome)

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	_, confirmed, err := s.reg.IdentityValue(s.ctx, st.CreatedEntity, "email")
	s.Require().NoError(err)
	s.True(confirmed)
}

func (s *ServiceSuite) TestSubmitWithoutNotifier() {
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	// Delivery is optional wiring; a service without a sink still records
	// confirmation state for every candidate.
	bare := service.New(service.Deps{
		Requests:      s.requests,
		Invitations:   s.invitations,
		Forms:         s.forms,
		Profiles:      s.profiles,
		Registry:      s.reg,
		Preprocessor:  forms.NewPreprocessor(s.invitations),
		Evaluator:     expr.New(),
		Confirmations: s.manager,
	})

	id, err := bare.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	outstanding, err := s.manager.Outstanding(s.ctx, confirmation.RequestOwner(id))
	s.Require().NoError(err)
	s.Len(outstanding, 1)
}

func (s *ServiceSuite) TestConfirmBeforeAcceptCarriesIntoRegistry() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	outcome, err := s.svc.Confirm(s.ctx, s.confirmationToken())
	s.Require().NoError(err)
	s.Equal(confirmation.OutcomeConfirmed, outcome)
	s.Contains(s.audits.actions(), string(audit.EventValueConfirmed))

	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", ""))

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	_, confirmed, err := s.reg.IdentityValue(s.ctx, st.CreatedEntity, "email")
	s.Require().NoError(err)
	s.True(confirmed, "a value confirmed before acceptance stays confirmed on the entity")
}

func (s *ServiceSuite) TestSubmitUnknownForm() {
	_, err := s.svc.SubmitRequest(s.ctx, "nope", s.staffRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestSubmitRejectsMissingMandatoryIdentity() {
	s.putForm(s.staffForm(""))
	req := s.staffRequest()
	req.Identities[0] = nil
	_, err := s.svc.SubmitRequest(s.ctx, "staff", req)
	s.Error(err)
}

func (s *ServiceSuite) TestAutoProcessAccept() {
	s.allowAll()
	def := s.staffTranslate()
	def.Name = "auto-accept"
	def.Rules = append(def.Rules, profile.RuleDefinition{
		Condition: `triggered == "auto"`, Action: "autoProcess", Params: []string{"accept"},
	})
	s.putProfile(def)
	s.putForm(s.staffForm("auto-accept"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, st.Status)
	s.False(st.CreatedEntity.IsNil())
	s.Contains(s.audits.actions(), string(audit.EventAutoProcessed))

	var actor string
	for _, e := range s.audits.events {
		if e.Action == string(audit.EventRequestAccepted) {
			actor = e.Actor
		}
	}
	s.Equal(service.SystemActor, actor)
}

func (s *ServiceSuite) TestAutoProcessReject() {
	s.allowAll()
	def := s.staffTranslate()
	def.Name = "auto-reject"
	def.Rules = append(def.Rules, profile.RuleDefinition{
		Condition: "true", Action: "autoProcess", Params: []string{"reject"},
	})
	s.putProfile(def)
	s.putForm(s.staffForm("auto-reject"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, st.Status)
	s.Len(s.messages("tmpl-rejected"), 1)
}

func (s *ServiceSuite) TestAutoProcessDrop() {
	s.allowAll()
	def := s.staffTranslate()
	def.Name = "auto-drop"
	def.Rules = append(def.Rules, profile.RuleDefinition{
		Condition: "true", Action: "autoProcess", Params: []string{"drop"},
	})
	s.putProfile(def)
	s.putForm(s.staffForm("auto-drop"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	_, err = s.svc.GetRequest(s.ctx, "admin", id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Contains(s.audits.actions(), string(audit.EventRequestDropped))
}

func (s *ServiceSuite) TestSubmitConsumesInvitation() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	inv := &models.Invitation{Form: "staff", ContactAddress: "jane@example.com"}
	code, err := s.svc.AddInvitation(s.ctx, "admin", inv)
	s.Require().NoError(err)

	req := s.staffRequest()
	req.RegistrationCode = code
	_, err = s.svc.SubmitRequest(s.ctx, "staff", req)
	s.Require().NoError(err)

	_, err = s.invitations.Find(s.ctx, code)
	s.ErrorIs(err, sentinel.ErrNotFound, "consumed exactly once, at submission")
	s.Contains(s.audits.actions(), string(audit.EventInvitationConsumed))
}

func (s *ServiceSuite) TestAcceptMergesMatchingInvitations() {
	s.allowAll()
	def := s.staffTranslate()
	def.Name = "staff-with-invitations"
	def.Rules = append(def.Rules, profile.RuleDefinition{
		Condition: "true", Action: "autoProcessInvitations", Params: nil,
	})
	s.putProfile(def)
	s.putForm(s.staffForm("staff-with-invitations"))

	inv := &models.Invitation{
		Code:           "INV123",
		Form:           "staff",
		Type:           models.FormRegistration,
		ContactAddress: "jane@example.com",
		Identities: map[int]models.PrefilledIdentity{
			0: {Entry: models.IdentityEntry{Type: "email", Value: "jane@example.com"}, Mode: models.PrefillHidden},
		},
		Attributes: map[int]models.PrefilledAttribute{
			0: {Entry: models.AttributeEntry{Name: "dept", Values: []string{"eng"}, Group: "/staff"}, Mode: models.PrefillHidden},
		},
	}
	s.Require().NoError(s.invitations.Create(s.ctx, inv))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)
	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", ""))

	_, err = s.invitations.Find(s.ctx, "INV123")
	s.ErrorIs(err, sentinel.ErrNotFound, "merged invitation is consumed in the accept transaction")

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	dept, ok := s.reg.GroupAttribute(st.CreatedEntity, "/staff", "dept")
	s.Require().True(ok)
	s.Equal([]string{"eng"}, dept)

	var noted bool
	for _, c := range st.AdminComments {
		if c.Text == "auto-processed invitations: INV123" {
			noted = true
			s.False(c.Public)
		}
	}
	s.True(noted, "consumed codes are recorded as an internal comment")
}

func (s *ServiceSuite) TestAcceptSkipsMismatchedInvitation() {
	s.allowAll()
	def := s.staffTranslate()
	def.Name = "staff-inv-mismatch"
	def.Rules = append(def.Rules, profile.RuleDefinition{
		Condition: "true", Action: "autoProcessInvitations", Params: nil,
	})
	s.putProfile(def)
	s.putForm(s.staffForm("staff-inv-mismatch"))

	// Same contact, but a disjoint identity-type set: no merge.
	inv := &models.Invitation{
		Code:           "INV999",
		Form:           "staff",
		Type:           models.FormRegistration,
		ContactAddress: "jane@example.com",
		Identities: map[int]models.PrefilledIdentity{
			0: {Entry: models.IdentityEntry{Type: "username", Value: "jane"}, Mode: models.PrefillHidden},
		},
	}
	s.Require().NoError(s.invitations.Create(s.ctx, inv))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)
	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", ""))

	_, err = s.invitations.Find(s.ctx, "INV999")
	s.NoError(err, "a mismatched invitation survives acceptance")
}

func (s *ServiceSuite) TestProcessRefusesNonPending() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)
	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", ""))

	err = s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionAccept, "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	err = s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionReject, "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestUpdateReplacesPendingRequest() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	final := s.staffRequest()
	final.Attributes[0].Values = []string{"qa"}
	err = s.svc.ProcessRequest(s.ctx, "admin", id, final, service.ActionUpdate, "role corrected", "")
	s.Require().NoError(err)

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, st.Status)
	s.Equal([]string{"qa"}, st.Request.Attributes[0].Values)
	s.Require().Len(st.AdminComments, 1)
	s.Equal("role corrected", st.AdminComments[0].Text)

	err = s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionUpdate, "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "update requires a request body")
}

func (s *ServiceSuite) TestRejectDiscardsTokens() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionReject, "not eligible", ""))

	st, err := s.svc.GetRequest(s.ctx, "admin", id)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, st.Status)
	s.Len(s.messages("tmpl-rejected"), 1)

	outstanding, err := s.manager.Outstanding(s.ctx, confirmation.RequestOwner(id))
	s.Require().NoError(err)
	s.Empty(outstanding)
}

func (s *ServiceSuite) TestDropDeletesRequest() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	id, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessRequest(s.ctx, "admin", id, nil, service.ActionDrop, "", ""))

	_, err = s.svc.GetRequest(s.ctx, "admin", id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	outstanding, err := s.manager.Outstanding(s.ctx, confirmation.RequestOwner(id))
	s.Require().NoError(err)
	s.Empty(outstanding)
}

func (s *ServiceSuite) TestAuthorizationDenied() {
	s.authorizer.EXPECT().
		Authorize(gomock.Any(), "intruder", gomock.Any()).
		Return(errors.New("denied")).Times(2)

	err := s.svc.ProcessRequest(s.ctx, "intruder", domain.NewRequestID(), nil, service.ActionAccept, "", "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.GetRequests(s.ctx, "intruder")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestInvitationLifecycle() {
	s.allowAll()
	s.putForm(s.staffForm(""))

	_, err := s.svc.AddInvitation(s.ctx, "admin", &models.Invitation{Form: "staff"})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "contact address is mandatory")

	code, err := s.svc.AddInvitation(s.ctx, "admin", &models.Invitation{
		Form:           "staff",
		ContactAddress: "new@example.com",
	})
	s.Require().NoError(err)
	s.Require().False(code.IsNil())

	s.Require().NoError(s.svc.SendInvitation(s.ctx, "admin", code))
	inv, err := s.invitations.Find(s.ctx, code)
	s.Require().NoError(err)
	s.Equal(1, inv.SendCount)
	msgs := s.messages("tmpl-invitation")
	s.Require().Len(msgs, 1)
	s.Equal(code.String(), msgs[0].params["code"])

	err = s.svc.UpdateInvitation(s.ctx, "admin", code, &models.Invitation{
		ContactAddress: "other@example.com",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest), "contact address is immutable")

	err = s.svc.UpdateInvitation(s.ctx, "admin", code, &models.Invitation{
		Attributes: map[int]models.PrefilledAttribute{
			0: {Entry: models.AttributeEntry{Name: "role", Values: []string{"dev"}}, Mode: models.PrefillDefault},
		},
	})
	s.Require().NoError(err)
	inv, err = s.invitations.Find(s.ctx, code)
	s.Require().NoError(err)
	s.Equal(code, inv.Code)
	s.Equal("new@example.com", inv.ContactAddress)
	s.Equal(1, inv.SendCount, "send history survives updates")
	s.Len(inv.Attributes, 1)

	s.Require().NoError(s.svc.RemoveInvitation(s.ctx, "admin", code))
	_, err = s.invitations.Find(s.ctx, code)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ServiceSuite) TestGetRequestsListsAll() {
	s.allowAll()
	s.putProfile(s.staffTranslate())
	s.putForm(s.staffForm("staff-translate"))

	_, err := s.svc.SubmitRequest(s.ctx, "staff", s.staffRequest())
	s.Require().NoError(err)
	second := s.staffRequest()
	second.Identities[0].Value = "john@example.com"
	_, err = s.svc.SubmitRequest(s.ctx, "staff", second)
	s.Require().NoError(err)

	all, err := s.svc.GetRequests(s.ctx, "admin")
	s.Require().NoError(err)
	s.Len(all, 2)
}
