package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"enroll/internal/audit"
	"enroll/internal/confirmation"
	"enroll/internal/forms/models"
	"enroll/internal/profile"
	"enroll/internal/registry"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
	"enroll/pkg/secrets"
)

// ProcessRequest applies an administrator action to a pending request.
// finalRequest, when non-nil, replaces the stored request before the action
// is applied (accept and update only).
func (s *Service) ProcessRequest(ctx context.Context, actor string, id domain.RequestID, finalRequest *models.Request, action Action, publicComment, internalComment string) error {
	ctx, span := s.tracer.Start(ctx, "registration.process")
	defer span.End()

	if err := s.authorize(ctx, actor, processCapabilities...); err != nil {
		return err
	}

	switch action {
	case ActionAccept:
		return s.accept(ctx, id, finalRequest, profile.TriggeredManually, actor, publicComment, internalComment)
	case ActionReject:
		return s.reject(ctx, id, actor, publicComment, internalComment)
	case ActionUpdate:
		return s.update(ctx, id, finalRequest, actor, publicComment, internalComment)
	case ActionDrop:
		return s.drop(ctx, id, actor)
	default:
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown action %q", action))
	}
}

// accept runs the translation profile, commits the result to the registry,
// and finalizes the request. The pending check is re-read inside the
// transaction so concurrent decisions on the same request cannot both create
// an entity. Failures after entity creation are reported, not compensated;
// recovery is administrative.
func (s *Service) accept(ctx context.Context, id domain.RequestID, finalRequest *models.Request, triggered profile.TriggeredBy, actor, publicComment, internalComment string) error {
	var (
		form     *models.Form
		state    *models.UserRequestState
		result   profile.Result
		entityID domain.EntityID
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		st, err := s.loadPending(txCtx, id)
		if err != nil {
			return err
		}
		f, err := s.forms.Get(txCtx, st.Request.Form)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
		}
		if finalRequest != nil {
			if err := s.validateFinal(txCtx, f, finalRequest); err != nil {
				return err
			}
			st.Request = finalRequest
		}

		res, err := s.evaluateProfile(txCtx, f, st, !st.Request.RegistrationCode.IsNil(), triggered)
		if err != nil {
			return err
		}

		var consumedCodes []domain.RegistrationCode
		if res.Invitations != nil {
			res, consumedCodes, err = s.mergeInvitations(txCtx, st, res, res.Invitations.Form)
			if err != nil {
				return err
			}
		}

		// Re-validated here because forms and the registry schema may have
		// changed since submission.
		if err := s.validateResult(txCtx, res); err != nil {
			return err
		}

		eid, err := s.commitResult(txCtx, st, res)
		if err != nil {
			return err
		}

		now := s.now()
		if err := st.MarkAccepted(eid, now); err != nil {
			return err
		}
		st.AddComment(actor, publicComment, true, now)
		st.AddComment(actor, internalComment, false, now)
		if len(consumedCodes) > 0 {
			st.AddComment(actor, consumedComment(consumedCodes), false, now)
		}
		if err := s.requests.Update(txCtx, st); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist accepted request")
		}

		form, state, result, entityID = f, st, res, eid
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementAccepted()
	}
	s.emitAudit(ctx, audit.Event{
		RequestID: id.String(),
		EntityID:  entityID.String(),
		Form:      form.Name.String(),
		Actor:     actor,
		Action:    string(audit.EventRequestAccepted),
	})

	s.notify(ctx, state.Request.ContactAddress(), form.Templates.Accepted,
		map[string]string{"requestId": id.String(), "entityId": entityID.String()},
		state.Request.Locale)

	s.sendPhaseConfirmations(ctx, form, state, models.ModeOnAccept)

	if err := s.confirmations.RewriteForEntity(ctx, id, entityID, resultLookup(result)); err != nil {
		s.logger.ErrorContext(ctx, "token rewrite failed",
			"request_id", id.String(),
			"entity_id", entityID.String(),
			"error", err.Error())
	}
	return nil
}

func (s *Service) reject(ctx context.Context, id domain.RequestID, actor, publicComment, internalComment string) error {
	var (
		form  *models.Form
		state *models.UserRequestState
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		st, err := s.loadPending(txCtx, id)
		if err != nil {
			return err
		}
		f, err := s.forms.Get(txCtx, st.Request.Form)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
		}
		now := s.now()
		if err := st.MarkRejected(now); err != nil {
			return err
		}
		st.AddComment(actor, publicComment, true, now)
		st.AddComment(actor, internalComment, false, now)
		if err := s.requests.Update(txCtx, st); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist rejected request")
		}
		form, state = f, st
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementRejected()
	}
	s.emitAudit(ctx, audit.Event{
		RequestID: id.String(),
		Form:      form.Name.String(),
		Actor:     actor,
		Action:    string(audit.EventRequestRejected),
	})
	s.notify(ctx, state.Request.ContactAddress(), form.Templates.Rejected,
		map[string]string{"requestId": id.String()}, state.Request.Locale)

	if err := s.confirmations.RemoveForOwner(ctx, confirmation.RequestOwner(id)); err != nil {
		s.logger.WarnContext(ctx, "failed to discard confirmation tokens",
			"request_id", id.String(), "error", err.Error())
	}
	return nil
}

// update replaces the stored request while it is still pending. The final
// request is re-validated against the form; the invitation was consumed at
// submission, so the code is not resolved again.
func (s *Service) update(ctx context.Context, id domain.RequestID, finalRequest *models.Request, actor, publicComment, internalComment string) error {
	if finalRequest == nil {
		return dErrors.New(dErrors.CodeBadRequest, "update requires a request body")
	}
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		st, err := s.loadPending(txCtx, id)
		if err != nil {
			return err
		}
		form, err := s.forms.Get(txCtx, st.Request.Form)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
		}
		if err := s.validateFinal(txCtx, form, finalRequest); err != nil {
			return err
		}
		now := s.now()
		st.Request = finalRequest
		st.UpdatedAt = now
		st.AddComment(actor, publicComment, true, now)
		st.AddComment(actor, internalComment, false, now)
		return s.requests.Update(txCtx, st)
	})
	if err != nil {
		return err
	}
	s.emitAudit(ctx, audit.Event{
		RequestID: id.String(),
		Actor:     actor,
		Action:    string(audit.EventRequestUpdated),
	})
	return nil
}

// drop deletes the request record. No notification is sent.
func (s *Service) drop(ctx context.Context, id domain.RequestID, actor string) error {
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.requests.Get(txCtx, id); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "request not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
		}
		return s.requests.Delete(txCtx, id)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementDropped()
	}
	s.emitAudit(ctx, audit.Event{
		RequestID: id.String(),
		Actor:     actor,
		Action:    string(audit.EventRequestDropped),
	})

	if err := s.confirmations.RemoveForOwner(ctx, confirmation.RequestOwner(id)); err != nil {
		s.logger.WarnContext(ctx, "failed to discard confirmation tokens",
			"request_id", id.String(), "error", err.Error())
	}
	return nil
}

func (s *Service) loadPending(ctx context.Context, id domain.RequestID) (*models.UserRequestState, error) {
	st, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	if !st.Pending() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request is not pending")
	}
	return st, nil
}

// validateFinal re-runs the structural checks on an administrator-edited
// request. The registration code is cleared for validation: the invitation
// was already consumed at submission time.
func (s *Service) validateFinal(ctx context.Context, form *models.Form, req *models.Request) error {
	req.Form = form.Name
	req.Type = form.Type
	code := req.RegistrationCode
	req.RegistrationCode = ""
	_, err := s.preprocessor.ValidateSubmitted(ctx, form, req)
	req.RegistrationCode = code
	return err
}

// validateResult checks the translation result against the registry schema
// before any write happens.
func (s *Service) validateResult(ctx context.Context, res profile.Result) error {
	if len(res.Identities) == 0 {
		return dErrors.New(dErrors.CodeConsistency, "translation produced no identity")
	}
	for _, id := range res.Identities {
		known, err := s.registry.KnownIdentityType(ctx, id.Type)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "identity type check failed")
		}
		if !known {
			return dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("translation produced unknown identity type %q", id.Type))
		}
	}
	for _, at := range res.Attributes {
		known, err := s.registry.KnownAttributeType(ctx, at.Name)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "attribute type check failed")
		}
		if !known {
			return dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("translation produced unknown attribute %q", at.Name))
		}
	}
	for _, path := range resultGroups(res) {
		exists, err := s.registry.GroupExists(ctx, path)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "group existence check failed")
		}
		if !exists {
			return dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("translation references unknown group %q", path))
		}
	}
	if res.CredentialRequirement != "" {
		known, err := s.registry.KnownCredential(ctx, res.CredentialRequirement)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "credential check failed")
		}
		if !known {
			return dErrors.New(dErrors.CodeConsistency,
				fmt.Sprintf("translation requires unknown credential %q", res.CredentialRequirement))
		}
	}
	return nil
}

// commitResult applies the translation result to the registry: entity
// creation from the first identity plus root-group attributes, remaining
// identities, then groups in ascending path-depth order so a parent is
// always populated before its children.
func (s *Service) commitResult(ctx context.Context, st *models.UserRequestState, res profile.Result) (domain.EntityID, error) {
	attrsByGroup := make(map[domain.GroupPath][]registry.Attribute)
	for _, at := range res.Attributes {
		group := at.Group
		if group == "" {
			group = domain.Root
		}
		attrsByGroup[group] = append(attrsByGroup[group], registry.Attribute{
			Name:      at.Name,
			Values:    at.Values,
			Confirmed: s.attributeConfirmed(st.Request, at),
			Source:    at.Source,
		})
	}

	entityState := res.EntityState
	if entityState == "" {
		entityState = registry.StateActive
	}

	first := res.Identities[0]
	entityID, err := s.registry.CreateEntity(ctx, registry.NewEntity{
		State: entityState,
		Identity: registry.Identity{
			Type:      first.Type,
			Value:     first.Value,
			Confirmed: s.identityConfirmed(st.Request, first),
			Source:    first.Source,
		},
		Attributes: attrsByGroup[domain.Root],
	})
	if err != nil {
		return domain.EntityID{}, err
	}

	for _, id := range res.Identities[1:] {
		err := s.registry.AddIdentity(ctx, entityID, registry.Identity{
			Type:      id.Type,
			Value:     id.Value,
			Confirmed: s.identityConfirmed(st.Request, id),
			Source:    id.Source,
		})
		if err != nil {
			return domain.EntityID{}, err
		}
	}

	for _, group := range resultGroups(res) {
		if group.IsRoot() {
			continue
		}
		if err := s.registry.AddGroupMember(ctx, group, entityID); err != nil {
			return domain.EntityID{}, err
		}
		if attrs := attrsByGroup[group]; len(attrs) > 0 {
			if err := s.registry.SetAttributes(ctx, entityID, group, attrs); err != nil {
				return domain.EntityID{}, err
			}
		}
	}

	classGroups := make([]domain.GroupPath, 0, len(res.AttributeClasses))
	for group := range res.AttributeClasses {
		classGroups = append(classGroups, group)
	}
	domain.SortByDepth(classGroups)
	for _, group := range classGroups {
		if err := s.registry.SetAttributeClasses(ctx, entityID, group, res.AttributeClasses[group]); err != nil {
			return domain.EntityID{}, err
		}
	}

	if err := s.applyCredentials(ctx, entityID, st.Request); err != nil {
		return domain.EntityID{}, err
	}
	return entityID, nil
}

// applyCredentials hashes and installs the secrets submitted with the
// request.
func (s *Service) applyCredentials(ctx context.Context, entityID domain.EntityID, req *models.Request) error {
	for _, cred := range req.Credentials {
		if cred == nil {
			continue
		}
		hash, err := secrets.Hash(cred.Secret)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to prepare credential")
		}
		err = s.registry.SetCredential(ctx, entityID, registry.Credential{
			Name:       cred.Name,
			SecretHash: hash,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// identityConfirmed carries the request-side confirmation state onto a
// mapped identity whose value survived translation unchanged.
func (s *Service) identityConfirmed(req *models.Request, id profile.MappedIdentity) bool {
	for _, entry := range req.Identities {
		if entry != nil && entry.Type == id.Type && entry.Value == id.Value {
			return entry.Confirmation.Confirmed
		}
	}
	return false
}

func (s *Service) attributeConfirmed(req *models.Request, at profile.MappedAttribute) bool {
	for _, entry := range req.Attributes {
		if entry == nil || entry.Name != at.Name {
			continue
		}
		if len(entry.Values) > 0 && len(at.Values) > 0 && entry.Values[0] == at.Values[0] {
			return entry.Confirmation.Confirmed
		}
	}
	return false
}

// resultGroups is the union of mapped group memberships and attribute target
// groups, parent before child.
func resultGroups(res profile.Result) []domain.GroupPath {
	seen := make(map[domain.GroupPath]bool)
	var out []domain.GroupPath
	add := func(p domain.GroupPath) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, g := range res.Groups {
		add(g.Path)
	}
	for _, at := range res.Attributes {
		add(at.Group)
	}
	domain.SortByDepth(out)
	return out
}

// resultLookup adapts the committed translation result for token rewriting:
// an element survives when its value is present in the final data.
func resultLookup(res profile.Result) confirmation.ElementLookup {
	return func(ref confirmation.ElementRef) (string, bool) {
		switch ref.Type {
		case confirmation.ElementIdentity:
			for _, id := range res.Identities {
				if id.Type == ref.Name {
					return id.Value, true
				}
			}
		case confirmation.ElementAttribute:
			for _, at := range res.Attributes {
				if at.Name == ref.Name && len(at.Values) > 0 {
					return at.Values[0], true
				}
			}
		}
		return "", false
	}
}

func consumedComment(codes []domain.RegistrationCode) string {
	strs := make([]string, len(codes))
	for i, c := range codes {
		strs[i] = c.String()
	}
	sort.Strings(strs)
	return "auto-processed invitations: " + strings.Join(strs, ", ")
}
