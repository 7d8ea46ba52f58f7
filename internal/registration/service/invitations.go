package service

import (
	"context"
	"errors"
	"sort"

	"enroll/internal/audit"
	"enroll/internal/forms/models"
	"enroll/internal/profile"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
	"enroll/pkg/secrets"
)

// AddInvitation issues a new invitation and returns its registration code.
func (s *Service) AddInvitation(ctx context.Context, actor string, inv *models.Invitation) (domain.RegistrationCode, error) {
	if err := s.authorize(ctx, actor, CapabilityMaintenance); err != nil {
		return "", err
	}
	if inv.ContactAddress == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "invitation requires a contact address")
	}

	form, err := s.forms.Get(ctx, inv.Form)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeBadRequest, "invitation references unknown form")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
	}
	inv.Type = form.Type

	code, err := secrets.GenerateCode()
	if err != nil {
		return "", err
	}
	inv.Code = domain.RegistrationCode(code)

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.invitations.Create(txCtx, inv)
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store invitation")
	}

	s.emitAudit(ctx, audit.Event{
		Form:   inv.Form.String(),
		Actor:  actor,
		Action: string(audit.EventInvitationCreated),
		Detail: inv.Code.String(),
	})
	return inv.Code, nil
}

// SendInvitation delivers (or re-delivers) the invitation message, bumping
// the send counter.
func (s *Service) SendInvitation(ctx context.Context, actor string, code domain.RegistrationCode) error {
	if err := s.authorize(ctx, actor, CapabilityMaintenance); err != nil {
		return err
	}

	var (
		inv  *models.Invitation
		form *models.Form
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		i, err := s.findInvitation(txCtx, code)
		if err != nil {
			return err
		}
		if i.Expired(s.now()) {
			return dErrors.New(dErrors.CodeInvalidState, "invitation has expired")
		}
		f, err := s.forms.Get(txCtx, i.Form)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
		}
		i.SendCount++
		i.LastSentAt = s.now()
		if err := s.invitations.Update(txCtx, i); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update invitation")
		}
		inv, form = i, f
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ctx, inv.ContactAddress, form.Templates.Invitation,
		map[string]string{"code": inv.Code.String(), "form": inv.Form.String()}, "")
	s.emitAudit(ctx, audit.Event{
		Form:   inv.Form.String(),
		Actor:  actor,
		Action: string(audit.EventInvitationSent),
		Detail: inv.Code.String(),
	})
	return nil
}

// RemoveInvitation withdraws an unconsumed invitation.
func (s *Service) RemoveInvitation(ctx context.Context, actor string, code domain.RegistrationCode) error {
	if err := s.authorize(ctx, actor, CapabilityMaintenance); err != nil {
		return err
	}
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.findInvitation(txCtx, code); err != nil {
			return err
		}
		return s.invitations.Delete(txCtx, code)
	})
	if err != nil {
		return err
	}
	s.emitAudit(ctx, audit.Event{
		Actor:  actor,
		Action: string(audit.EventInvitationRemoved),
		Detail: code.String(),
	})
	return nil
}

// UpdateInvitation replaces an invitation's prefilled data. The request type
// and contact address are immutable; send history is preserved.
func (s *Service) UpdateInvitation(ctx context.Context, actor string, code domain.RegistrationCode, updated *models.Invitation) error {
	if err := s.authorize(ctx, actor, CapabilityMaintenance); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.findInvitation(txCtx, code)
		if err != nil {
			return err
		}
		if updated.ContactAddress != "" && updated.ContactAddress != existing.ContactAddress {
			return dErrors.New(dErrors.CodeBadRequest, "invitation contact address cannot be changed")
		}
		if updated.Type != "" && updated.Type != existing.Type {
			return dErrors.New(dErrors.CodeBadRequest, "invitation request type cannot be changed")
		}

		updated.Code = existing.Code
		updated.Type = existing.Type
		updated.ContactAddress = existing.ContactAddress
		updated.SendCount = existing.SendCount
		updated.LastSentAt = existing.LastSentAt
		if updated.Form == "" {
			updated.Form = existing.Form
		}
		return s.invitations.Update(txCtx, updated)
	})
}

func (s *Service) findInvitation(ctx context.Context, code domain.RegistrationCode) (*models.Invitation, error) {
	inv, err := s.invitations.Find(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invitation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation")
	}
	return inv, nil
}

// mergeInvitations implements invitation auto-processing during acceptance:
// locate non-expired invitations addressed to the request's contact channel,
// require an exact identity-type and credential-name set match, merge their
// hidden prefills into the translation result, and consume them in the same
// transaction. Invitations are processed oldest-send first with the code as
// tie breaker, and the first merged value wins per attribute.
func (s *Service) mergeInvitations(ctx context.Context, st *models.UserRequestState, res profile.Result, formFilter domain.FormName) (profile.Result, []domain.RegistrationCode, error) {
	address := st.Request.ContactAddress()
	if address == "" {
		return res, nil, nil
	}

	all, err := s.invitations.FindByAddress(ctx, address)
	if err != nil {
		return res, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list invitations")
	}

	now := s.now()
	var candidates []*models.Invitation
	for _, inv := range all {
		if inv.Expired(now) {
			continue
		}
		if formFilter != "" && inv.Form != formFilter {
			continue
		}
		match, err := s.invitationMatches(ctx, inv, st.Request)
		if err != nil {
			return res, nil, err
		}
		if match {
			candidates = append(candidates, inv)
		}
	}
	if len(candidates) == 0 {
		return res, nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastSentAt.Equal(candidates[j].LastSentAt) {
			return candidates[i].LastSentAt.Before(candidates[j].LastSentAt)
		}
		return candidates[i].Code < candidates[j].Code
	})

	haveAttr := make(map[string]bool, len(res.Attributes))
	for _, at := range res.Attributes {
		haveAttr[at.Name] = true
	}
	haveGroup := make(map[domain.GroupPath]bool, len(res.Groups))
	for _, g := range res.Groups {
		haveGroup[g.Path] = true
	}

	var consumed []domain.RegistrationCode
	for _, inv := range candidates {
		source := "invitation:" + inv.Code.String()

		attrIdx := make([]int, 0, len(inv.Attributes))
		for idx := range inv.Attributes {
			attrIdx = append(attrIdx, idx)
		}
		sort.Ints(attrIdx)
		for _, idx := range attrIdx {
			pre := inv.Attributes[idx]
			if pre.Mode != models.PrefillHidden || haveAttr[pre.Entry.Name] {
				continue
			}
			haveAttr[pre.Entry.Name] = true
			res.Attributes = append(res.Attributes, profile.MappedAttribute{
				Name:   pre.Entry.Name,
				Values: append([]string(nil), pre.Entry.Values...),
				Group:  pre.Entry.Group,
				Source: source,
			})
		}

		groupIdx := make([]int, 0, len(inv.Groups))
		for idx := range inv.Groups {
			groupIdx = append(groupIdx, idx)
		}
		sort.Ints(groupIdx)
		for _, idx := range groupIdx {
			pre := inv.Groups[idx]
			if pre.Mode != models.PrefillHidden {
				continue
			}
			for _, path := range pre.Paths {
				if haveGroup[path] {
					continue
				}
				haveGroup[path] = true
				res.Groups = append(res.Groups, profile.MappedGroup{Path: path, Source: source})
			}
		}

		// Consumed in the accept transaction, so a failed accept leaves the
		// invitation intact.
		if err := s.invitations.Delete(ctx, inv.Code); err != nil {
			return res, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume invitation")
		}
		consumed = append(consumed, inv.Code)
	}
	return res, consumed, nil
}

// invitationMatches requires the invitation's prefilled identity-type set
// and its form's credential-name set to exactly equal the request's. A
// superset or subset disables auto-merge.
func (s *Service) invitationMatches(ctx context.Context, inv *models.Invitation, req *models.Request) (bool, error) {
	invTypes := make(map[string]bool, len(inv.Identities))
	for _, pre := range inv.Identities {
		invTypes[pre.Entry.Type] = true
	}
	if !setsEqual(invTypes, req.IdentityTypes()) {
		return false, nil
	}

	form, err := s.forms.Get(ctx, inv.Form)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation form")
	}
	invCreds := make(map[string]bool, len(form.Credentials))
	for _, c := range form.Credentials {
		invCreds[c.Name] = true
	}
	return setsEqual(invCreds, req.CredentialNames()), nil
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
