// Package forms validates submitted onboarding requests against their form
// schema and resolves invitation prefills.
package forms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"enroll/internal/forms/models"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// InvitationLookup resolves registration codes. Absence is reported with
// sentinel.ErrNotFound, never by an exceptional control path.
type InvitationLookup interface {
	Find(ctx context.Context, code domain.RegistrationCode) (*models.Invitation, error)
}

// PrefillResult reports the outcome of invitation resolution. Invitation is
// non-nil when one was applied; the caller must consume (delete) it exactly
// once, inside the same transaction that persists the request.
type PrefillResult struct {
	Invitation *models.Invitation
}

// Preprocessor enforces the structural invariants of a submitted request.
type Preprocessor struct {
	invitations InvitationLookup
	logger      *slog.Logger
	now         func() time.Time
}

type PreprocessorOption func(*Preprocessor)

func WithLogger(logger *slog.Logger) PreprocessorOption {
	return func(p *Preprocessor) { p.logger = logger }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) PreprocessorOption {
	return func(p *Preprocessor) { p.now = now }
}

func NewPreprocessor(invitations InvitationLookup, opts ...PreprocessorOption) *Preprocessor {
	p := &Preprocessor{invitations: invitations, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidateSubmitted runs the full preprocessing pipeline: invitation
// resolution and overlay, positional cardinality, group-selection validity,
// confirmation-mode presets, and mandatory agreement checks. The request is
// mutated in place (overlays, forced confirmation flags) only on success
// paths reachable before the first failure; callers must treat a returned
// error as aborting the whole submission.
func (p *Preprocessor) ValidateSubmitted(ctx context.Context, form *models.Form, req *models.Request) (*PrefillResult, error) {
	inv, err := p.resolveInvitation(ctx, form, req)
	if err != nil {
		return nil, err
	}
	if inv != nil {
		if err := overlayInvitation(form, req, inv); err != nil {
			return nil, err
		}
	}
	if err := checkCardinality(form, req); err != nil {
		return nil, err
	}
	if err := checkGroupSelections(form, req); err != nil {
		return nil, err
	}
	p.applyConfirmationPresets(form, req)
	if err := checkAgreements(form, req); err != nil {
		return nil, err
	}
	if err := checkPolicyAgreements(form, req); err != nil {
		return nil, err
	}
	return &PrefillResult{Invitation: inv}, nil
}

func (p *Preprocessor) resolveInvitation(ctx context.Context, form *models.Form, req *models.Request) (*models.Invitation, error) {
	if req.RegistrationCode.IsNil() {
		if form.InvitationOnly {
			return nil, dErrors.New(dErrors.CodeValidation, "form requires a registration code")
		}
		return nil, nil
	}

	inv, err := p.invitations.Find(ctx, req.RegistrationCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown registration code")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve registration code")
	}
	if inv.Form != form.Name {
		return nil, dErrors.New(dErrors.CodeValidation, "registration code was issued for a different form")
	}
	if inv.Type != form.Type {
		return nil, dErrors.New(dErrors.CodeValidation, "registration code was issued for a different request type")
	}
	if inv.Expired(p.now()) {
		return nil, dErrors.New(dErrors.CodeValidation, "registration code has expired")
	}
	return inv, nil
}

// overlayInvitation merges invitation entries onto the request. Fixed
// (hidden/read-only) entries win and a conflicting submission is rejected;
// default entries only seed missing values.
func overlayInvitation(form *models.Form, req *models.Request, inv *models.Invitation) error {
	for idx, pre := range inv.Identities {
		if idx < 0 || idx >= len(form.Identities) {
			continue
		}
		growIdentities(req, len(form.Identities))
		submitted := req.Identities[idx]
		if pre.Mode.Fixed() {
			if submitted != nil && submitted.Value != pre.Entry.Value {
				return models.NewValidationError(models.CategoryIdentity, idx, "value conflicts with invitation")
			}
			entry := pre.Entry
			req.Identities[idx] = &entry
			continue
		}
		if submitted == nil {
			entry := pre.Entry
			req.Identities[idx] = &entry
		}
	}

	for idx, pre := range inv.Attributes {
		if idx < 0 || idx >= len(form.Attributes) {
			continue
		}
		growAttributes(req, len(form.Attributes))
		submitted := req.Attributes[idx]
		if pre.Mode.Fixed() {
			if submitted != nil && !equalValues(submitted.Values, pre.Entry.Values) {
				return models.NewValidationError(models.CategoryAttribute, idx, "value conflicts with invitation")
			}
			entry := pre.Entry
			req.Attributes[idx] = &entry
			continue
		}
		if submitted == nil {
			entry := pre.Entry
			req.Attributes[idx] = &entry
		}
	}

	for idx, pre := range inv.Groups {
		if idx < 0 || idx >= len(form.Groups) {
			continue
		}
		growGroups(req, len(form.Groups))
		submitted := req.Groups[idx]
		if pre.Mode.Fixed() {
			if submitted != nil && !equalPaths(submitted.Paths, pre.Paths) {
				return models.NewValidationError(models.CategoryGroup, idx, "group selection conflicts with invitation")
			}
			req.Groups[idx] = &models.GroupSelection{Paths: append([]domain.GroupPath(nil), pre.Paths...)}
			continue
		}
		if submitted == nil {
			req.Groups[idx] = &models.GroupSelection{Paths: append([]domain.GroupPath(nil), pre.Paths...)}
		}
	}
	return nil
}

// checkCardinality enforces the positional contract: submitted lists match
// the form's parameter counts and mandatory parameters are present.
func checkCardinality(form *models.Form, req *models.Request) error {
	growIdentities(req, len(form.Identities))
	growAttributes(req, len(form.Attributes))
	growGroups(req, len(form.Groups))
	growCredentials(req, len(form.Credentials))
	growAgreements(req, len(form.Agreements))
	growPolicyAgreements(req, len(form.PolicyAgreements))

	if len(req.Identities) != len(form.Identities) {
		return models.NewValidationError(models.CategoryIdentity, -1, "wrong number of identity entries")
	}
	if len(req.Attributes) != len(form.Attributes) {
		return models.NewValidationError(models.CategoryAttribute, -1, "wrong number of attribute entries")
	}
	if len(req.Groups) != len(form.Groups) {
		return models.NewValidationError(models.CategoryGroup, -1, "wrong number of group selections")
	}
	if len(req.Credentials) != len(form.Credentials) {
		return models.NewValidationError(models.CategoryCredential, -1, "wrong number of credential entries")
	}
	if len(req.Agreements) != len(form.Agreements) {
		return models.NewValidationError(models.CategoryAgreement, -1, "wrong number of agreement decisions")
	}
	if len(req.PolicyAgreements) != len(form.PolicyAgreements) {
		return models.NewValidationError(models.CategoryPolicyAgreement, -1, "wrong number of policy decisions")
	}

	for i, param := range form.Identities {
		entry := req.Identities[i]
		if entry == nil {
			if !param.Optional {
				return models.NewValidationError(models.CategoryIdentity, i, "mandatory identity missing")
			}
			continue
		}
		if entry.Type != param.Type {
			return models.NewValidationError(models.CategoryIdentity, i, "identity type does not match parameter")
		}
		if entry.Value == "" {
			return models.NewValidationError(models.CategoryIdentity, i, "identity value is empty")
		}
	}
	for i, param := range form.Attributes {
		entry := req.Attributes[i]
		if entry == nil {
			if !param.Optional {
				return models.NewValidationError(models.CategoryAttribute, i, "mandatory attribute missing")
			}
			continue
		}
		if entry.Name != param.Name {
			return models.NewValidationError(models.CategoryAttribute, i, "attribute name does not match parameter")
		}
		if len(entry.Values) == 0 {
			return models.NewValidationError(models.CategoryAttribute, i, "attribute has no values")
		}
	}
	for i, param := range form.Credentials {
		entry := req.Credentials[i]
		if entry == nil {
			if !param.Optional {
				return models.NewValidationError(models.CategoryCredential, i, "mandatory credential missing")
			}
			continue
		}
		if entry.Name != param.Name {
			return models.NewValidationError(models.CategoryCredential, i, "credential name does not match parameter")
		}
		if entry.Secret == "" {
			return models.NewValidationError(models.CategoryCredential, i, "credential secret is empty")
		}
	}
	for i, param := range form.Groups {
		if req.Groups[i] == nil && !param.Optional {
			return models.NewValidationError(models.CategoryGroup, i, "mandatory group selection missing")
		}
	}
	return nil
}

// checkGroupSelections validates wildcard conformance and, for single-select
// parameters, that the chosen groups form an unbroken parent-child chain.
// A broken chain is rejected, never silently pruned or synthesized.
func checkGroupSelections(form *models.Form, req *models.Request) error {
	for i, param := range form.Groups {
		sel := req.Groups[i]
		if sel == nil {
			continue
		}
		if len(sel.Paths) == 0 {
			if !param.Optional {
				return models.NewValidationError(models.CategoryGroup, i, "empty group selection")
			}
			continue
		}
		for _, path := range sel.Paths {
			if !path.Matches(param.PathPattern) {
				return models.NewValidationError(models.CategoryGroup, i, "group does not match parameter pattern")
			}
		}
		if !param.MultiSelect && len(sel.Paths) > 1 {
			sorted := append([]domain.GroupPath(nil), sel.Paths...)
			domain.SortByDepth(sorted)
			// Strict chain: each group must be the immediate child of the
			// previous one. A missing intermediate ancestor is rejected
			// rather than synthesized.
			for j := 1; j < len(sorted); j++ {
				if sorted[j].Parent() != sorted[j-1] {
					return models.NewValidationError(models.CategoryGroup, i, "groups do not form an unbroken parent-child chain")
				}
			}
			sel.Paths = sorted
		}
	}
	return nil
}

// applyConfirmationPresets resolves confirmed/dont_confirm modes before
// storage so later sending logic only considers on_submit/on_accept values.
func (p *Preprocessor) applyConfirmationPresets(form *models.Form, req *models.Request) {
	now := p.now()
	for i, param := range form.Identities {
		entry := req.Identities[i]
		if entry == nil {
			continue
		}
		switch param.Confirmation {
		case models.ModeConfirmed:
			entry.Confirmation.Confirmed = true
			entry.Confirmation.ConfirmedAt = now
		case models.ModeDontConfirm:
			entry.Confirmation = models.ConfirmationInfo{}
		}
	}
	for i, param := range form.Attributes {
		entry := req.Attributes[i]
		if entry == nil {
			continue
		}
		switch param.Confirmation {
		case models.ModeConfirmed:
			entry.Confirmation.Confirmed = true
			entry.Confirmation.ConfirmedAt = now
		case models.ModeDontConfirm:
			entry.Confirmation = models.ConfirmationInfo{}
		}
	}
}

func checkAgreements(form *models.Form, req *models.Request) error {
	for i, param := range form.Agreements {
		decision := req.Agreements[i]
		if !param.Mandatory {
			continue
		}
		if decision == nil || !decision.Accepted {
			return models.NewValidationError(models.CategoryAgreement, i, "mandatory agreement not accepted")
		}
	}
	return nil
}

// checkPolicyAgreements verifies every mandatory policy document referenced
// by the form appears, accepted, among the request's decisions.
func checkPolicyAgreements(form *models.Form, req *models.Request) error {
	for i, param := range form.PolicyAgreements {
		if !param.Mandatory {
			continue
		}
		decision := req.PolicyAgreements[i]
		if decision == nil || !decision.Accepted {
			return models.NewValidationError(models.CategoryPolicyAgreement, i, "mandatory policy documents not accepted")
		}
		accepted := make(map[int]bool, len(decision.Documents))
		for _, doc := range decision.Documents {
			accepted[doc] = true
		}
		for _, doc := range param.Documents {
			if !accepted[doc] {
				return models.NewValidationError(models.CategoryPolicyAgreement, i, "mandatory policy document not covered by decision")
			}
		}
	}
	return nil
}

// grow helpers pad short submissions with nil entries so optional trailing
// parameters may be omitted entirely by clients.

func growIdentities(req *models.Request, n int) {
	for len(req.Identities) < n {
		req.Identities = append(req.Identities, nil)
	}
}

func growAttributes(req *models.Request, n int) {
	for len(req.Attributes) < n {
		req.Attributes = append(req.Attributes, nil)
	}
}

func growGroups(req *models.Request, n int) {
	for len(req.Groups) < n {
		req.Groups = append(req.Groups, nil)
	}
}

func growCredentials(req *models.Request, n int) {
	for len(req.Credentials) < n {
		req.Credentials = append(req.Credentials, nil)
	}
}

func growAgreements(req *models.Request, n int) {
	for len(req.Agreements) < n {
		req.Agreements = append(req.Agreements, nil)
	}
}

func growPolicyAgreements(req *models.Request, n int) {
	for len(req.PolicyAgreements) < n {
		req.PolicyAgreements = append(req.PolicyAgreements, nil)
	}
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalPaths(a, b []domain.GroupPath) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
