package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"enroll/internal/audit"
	"enroll/internal/confirmation"
	"enroll/internal/forms/models"
	"enroll/internal/registry"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
)

// sendPhaseConfirmations fans out confirmation requests for every verifiable
// value whose form parameter is in the given mode and whose value is not yet
// confirmed. Delivery is best-effort: failures are logged, never surfaced to
// the submitting caller.
func (s *Service) sendPhaseConfirmations(ctx context.Context, form *models.Form, state *models.UserRequestState, mode models.ConfirmationMode) {
	candidates := collectCandidates(form, state, mode)
	if len(candidates) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			res, err := s.confirmations.Send(gctx, cand)
			if err != nil {
				return err
			}
			if res.Suppressed || res.Token == "" {
				return nil
			}
			if s.metrics != nil {
				s.metrics.IncrementConfirmationsSent()
			}
			s.notify(gctx, cand.Address, form.Templates.Confirmation,
				map[string]string{"token": res.Token, "value": cand.Value}, cand.Locale)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "confirmation fan-out incomplete",
			"request_id", state.ID.String(),
			"error", err.Error())
	}
}

func collectCandidates(form *models.Form, state *models.UserRequestState, mode models.ConfirmationMode) []confirmation.Candidate {
	owner := confirmation.RequestOwner(state.ID)
	req := state.Request
	contact := req.ContactAddress()

	var out []confirmation.Candidate
	for i, param := range form.Identities {
		if param.Confirmation != mode || i >= len(req.Identities) {
			continue
		}
		entry := req.Identities[i]
		if entry == nil || entry.Value == "" || entry.Confirmation.Confirmed {
			continue
		}
		address := contact
		if param.Type == "email" {
			address = entry.Value
		}
		out = append(out, confirmation.Candidate{
			Owner:   owner,
			Element: confirmation.ElementRef{Type: confirmation.ElementIdentity, Name: param.Type, Index: i},
			Value:   entry.Value,
			Address: address,
			Locale:  req.Locale,
		})
	}
	for i, param := range form.Attributes {
		if param.Confirmation != mode || i >= len(req.Attributes) {
			continue
		}
		entry := req.Attributes[i]
		if entry == nil || len(entry.Values) == 0 || entry.Confirmation.Confirmed {
			continue
		}
		group := attributeGroup(param, req)
		out = append(out, confirmation.Candidate{
			Owner:   owner,
			Element: confirmation.ElementRef{Type: confirmation.ElementAttribute, Name: param.Name, Index: i},
			Value:   entry.Values[0],
			Address: contact,
			Locale:  req.Locale,
			Group:   group,
		})
	}
	return out
}

// attributeGroup resolves an attribute parameter's target group: the
// dynamically bound group selection when configured, otherwise the static
// path.
func attributeGroup(param models.AttributeParam, req *models.Request) domain.GroupPath {
	if param.DynamicGroupParam != nil {
		idx := *param.DynamicGroupParam
		if idx >= 0 && idx < len(req.Groups) && req.Groups[idx] != nil && len(req.Groups[idx].Paths) > 0 {
			return req.Groups[idx].Paths[len(req.Groups[idx].Paths)-1]
		}
	}
	return param.Group
}

// Confirm resolves a confirmation token against its owner's live data.
func (s *Service) Confirm(ctx context.Context, token string) (confirmation.Outcome, error) {
	outcome, err := s.confirmations.Confirm(ctx, token)
	if err == nil && outcome == confirmation.OutcomeConfirmed {
		s.emitAudit(ctx, audit.Event{Action: string(audit.EventValueConfirmed)})
	}
	return outcome, err
}

// requestFacility exposes the verifiable elements of pending requests to the
// confirmation manager.
type requestFacility struct {
	requests RequestStore
}

// NewRequestFacility builds the confirmation facility over the request store.
func NewRequestFacility(requests RequestStore) confirmation.Facility {
	return &requestFacility{requests: requests}
}

func (f *requestFacility) Current(ctx context.Context, owner confirmation.Owner, ref confirmation.ElementRef) (string, bool, error) {
	entry, _, err := f.lookup(ctx, owner, ref)
	if err != nil {
		return "", false, err
	}
	return entry.value, entry.info.Confirmed, nil
}

func (f *requestFacility) MarkConfirmed(ctx context.Context, owner confirmation.Owner, ref confirmation.ElementRef, at time.Time) error {
	entry, state, err := f.lookup(ctx, owner, ref)
	if err != nil {
		return err
	}
	entry.info.Confirmed = true
	entry.info.ConfirmedAt = at
	return f.requests.Update(ctx, state)
}

func (f *requestFacility) OnSent(ctx context.Context, owner confirmation.Owner, ref confirmation.ElementRef, at time.Time) error {
	entry, state, err := f.lookup(ctx, owner, ref)
	if err != nil {
		return err
	}
	entry.info.SentCount++
	entry.info.LastSentAt = at
	entry.info.Confirmed = false
	entry.info.ConfirmedAt = time.Time{}
	return f.requests.Update(ctx, state)
}

type elementHandle struct {
	value string
	info  *models.ConfirmationInfo
}

func (f *requestFacility) lookup(ctx context.Context, owner confirmation.Owner, ref confirmation.ElementRef) (*elementHandle, *models.UserRequestState, error) {
	id, err := domain.ParseRequestID(owner.ID)
	if err != nil {
		return nil, nil, err
	}
	state, err := f.requests.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	req := state.Request

	switch ref.Type {
	case confirmation.ElementIdentity:
		if ref.Index >= 0 && ref.Index < len(req.Identities) {
			if entry := req.Identities[ref.Index]; entry != nil && entry.Type == ref.Name {
				return &elementHandle{value: entry.Value, info: &entry.Confirmation}, state, nil
			}
		}
	case confirmation.ElementAttribute:
		if ref.Index >= 0 && ref.Index < len(req.Attributes) {
			if entry := req.Attributes[ref.Index]; entry != nil && entry.Name == ref.Name {
				value := ""
				if len(entry.Values) > 0 {
					value = entry.Values[0]
				}
				return &elementHandle{value: value, info: &entry.Confirmation}, state, nil
			}
		}
	}
	return nil, nil, sentinel.ErrNotFound
}

// entityFacility exposes entity-owned elements through the registry.
type entityFacility struct {
	reader registry.ElementReader
}

// NewEntityFacility builds the confirmation facility over the registry.
func NewEntityFacility(reader registry.ElementReader) confirmation.Facility {
	return &entityFacility{reader: reader}
}

func (f *entityFacility) Current(ctx context.Context, owner confirmation.Owner, ref confirmation.ElementRef) (string, bool, error) {
	id, err := domain.ParseEntityID(owner.ID)
	if err != nil {
		return "", false, err
	}
	switch ref.Type {
	case confirmation.ElementIdentity:
		return f.reader.IdentityValue(ctx, id, ref.Name)
	case confirmation.ElementAttribute:
		return f.reader.AttributeValue(ctx, id, ref.Name)
	}
	return "", false, sentinel.ErrNotFound
}

func (f *entityFacility) MarkConfirmed(ctx context.Context, owner confirmation.Owner, ref confirmation.ElementRef, at time.Time) error {
	id, err := domain.ParseEntityID(owner.ID)
	if err != nil {
		return err
	}
	switch ref.Type {
	case confirmation.ElementIdentity:
		return f.reader.ConfirmIdentity(ctx, id, ref.Name, at)
	case confirmation.ElementAttribute:
		return f.reader.ConfirmAttribute(ctx, id, ref.Name, at)
	}
	return sentinel.ErrNotFound
}

// OnSent is a no-op for entities: the registry does not track per-element
// send counters, only the token store's resend count.
func (f *entityFacility) OnSent(context.Context, confirmation.Owner, confirmation.ElementRef, time.Time) error {
	return nil
}
