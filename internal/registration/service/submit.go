package service

import (
	"context"
	"errors"
	"log/slog"

	"enroll/internal/audit"
	"enroll/internal/forms/models"
	"enroll/internal/profile"
	"enroll/internal/sentinel"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// SubmitRequest validates and persists a new pending request. Outside the
// persisting transaction it sends the submitted notification, attempts
// auto-processing, and fans out on-submit confirmation requests.
func (s *Service) SubmitRequest(ctx context.Context, formName domain.FormName, req *models.Request) (domain.RequestID, error) {
	ctx, span := s.tracer.Start(ctx, "registration.submit")
	defer span.End()

	var (
		form      *models.Form
		state     *models.UserRequestState
		validCode bool
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		f, err := s.forms.Get(txCtx, formName)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "unknown form")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load form")
		}
		form = f
		req.Form = form.Name
		req.Type = form.Type

		pre, err := s.preprocessor.ValidateSubmitted(txCtx, form, req)
		if err != nil {
			return err
		}
		if pre.Invitation != nil {
			validCode = true
			// Exactly-once consumption, inside the same transaction that
			// persists the request.
			if err := s.invitations.Delete(txCtx, pre.Invitation.Code); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume invitation")
			}
		}

		now := s.now()
		state = &models.UserRequestState{
			ID:        domain.NewRequestID(),
			Request:   req,
			Status:    models.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.requests.Create(txCtx, state)
	})
	if err != nil {
		return domain.RequestID{}, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSubmitted()
	}
	s.emitAudit(ctx, audit.Event{
		RequestID: state.ID.String(),
		Form:      form.Name.String(),
		Action:    string(audit.EventRequestSubmitted),
	})
	if validCode {
		s.emitAudit(ctx, audit.Event{
			RequestID: state.ID.String(),
			Form:      form.Name.String(),
			Action:    string(audit.EventInvitationConsumed),
			Detail:    req.RegistrationCode.String(),
		})
	}

	s.notify(ctx, req.ContactAddress(), form.Templates.Submitted,
		map[string]string{"requestId": state.ID.String()}, req.Locale)

	s.autoProcess(ctx, form, state, validCode)

	// On-submit confirmations go out regardless of the auto-process outcome.
	s.sendPhaseConfirmations(ctx, form, state, models.ModeOnSubmit)

	return state.ID, nil
}

// autoProcess evaluates the form's profile and applies a decision if one was
// produced. Failures here never unwind the already-persisted submission.
func (s *Service) autoProcess(ctx context.Context, form *models.Form, state *models.UserRequestState, validCode bool) {
	if form.Profile == "" {
		return
	}

	result, err := s.evaluateProfile(ctx, form, state, validCode, profile.TriggeredAuto)
	if err != nil {
		s.logger.WarnContext(ctx, "auto-processing evaluation failed",
			slog.String("request_id", state.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	if result.AutoProcess == profile.DecisionNone {
		return
	}

	if s.metrics != nil {
		s.metrics.IncrementAutoProcessed(string(result.AutoProcess))
	}
	s.emitAudit(ctx, audit.Event{
		RequestID: state.ID.String(),
		Form:      form.Name.String(),
		Actor:     SystemActor,
		Action:    string(audit.EventAutoProcessed),
		Detail:    string(result.AutoProcess),
	})

	switch result.AutoProcess {
	case profile.DecisionAccept:
		err = s.accept(ctx, state.ID, nil, profile.TriggeredAuto, SystemActor, "", "")
	case profile.DecisionReject:
		err = s.reject(ctx, state.ID, SystemActor, "", "")
	case profile.DecisionDrop:
		err = s.drop(ctx, state.ID, SystemActor)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "auto-processing failed",
			slog.String("request_id", state.ID.String()),
			slog.String("decision", string(result.AutoProcess)),
			slog.String("error", err.Error()))
	}
}

// evaluateProfile runs the form's translation profile against the current
// request.
func (s *Service) evaluateProfile(ctx context.Context, form *models.Form, state *models.UserRequestState, validCode bool, triggered profile.TriggeredBy) (profile.Result, error) {
	p, err := s.profiles.Lookup(ctx, form.Profile)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return profile.Result{}, dErrors.New(dErrors.CodeEvaluation, "form profile is not defined")
		}
		return profile.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve profile")
	}

	kind := profile.KindRegistration
	if form.Type == models.FormEnquiry {
		kind = profile.KindEnquiry
	}

	start := s.now()
	result, err := p.Evaluate(ctx, s.evaluator, s.profiles, profile.Input{
		Kind:      kind,
		RequestID: state.ID,
		Request:   state.Request,
		Triggered: triggered,
		ValidCode: validCode,
	})
	if s.metrics != nil {
		s.metrics.ObserveEvaluation(start)
	}
	return result, err
}
