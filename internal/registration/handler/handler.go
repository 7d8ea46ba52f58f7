// Package handler exposes the onboarding REST surface: public submission
// and confirmation endpoints plus the administrative request and invitation
// operations.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"enroll/internal/confirmation"
	"enroll/internal/forms/models"
	"enroll/internal/registration/service"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
	"enroll/pkg/platform/httputil"
	request "enroll/pkg/platform/middleware/request"
)

// Service is the orchestrator surface the handlers depend on. Returns domain
// objects, not HTTP response DTOs.
type Service interface {
	SubmitRequest(ctx context.Context, form domain.FormName, req *models.Request) (domain.RequestID, error)
	ProcessRequest(ctx context.Context, actor string, id domain.RequestID, finalRequest *models.Request, action service.Action, publicComment, internalComment string) error
	GetRequest(ctx context.Context, actor string, id domain.RequestID) (*models.UserRequestState, error)
	GetRequests(ctx context.Context, actor string) ([]*models.UserRequestState, error)
	Confirm(ctx context.Context, token string) (confirmation.Outcome, error)
	AddInvitation(ctx context.Context, actor string, inv *models.Invitation) (domain.RegistrationCode, error)
	SendInvitation(ctx context.Context, actor string, code domain.RegistrationCode) error
	RemoveInvitation(ctx context.Context, actor string, code domain.RegistrationCode) error
	UpdateInvitation(ctx context.Context, actor string, code domain.RegistrationCode, updated *models.Invitation) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/forms/{form}/requests", h.HandleSubmit)
	r.Post("/confirmations/{token}", h.HandleConfirm)

	r.Get("/admin/requests", h.HandleListRequests)
	r.Get("/admin/requests/{id}", h.HandleGetRequest)
	r.Post("/admin/requests/{id}/process", h.HandleProcessRequest)

	r.Post("/admin/invitations", h.HandleAddInvitation)
	r.Post("/admin/invitations/{code}/send", h.HandleSendInvitation)
	r.Put("/admin/invitations/{code}", h.HandleUpdateInvitation)
	r.Delete("/admin/invitations/{code}", h.HandleRemoveInvitation)
}

// actor resolves the administrative caller identity. Administrative routes
// refuse anonymous callers; authorization proper happens in the service.
func actor(r *http.Request) (string, error) {
	a := r.Header.Get("X-Actor")
	if a == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "actor identity required")
	}
	return a, nil
}

// HandleSubmit accepts a new onboarding request for the named form.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	form := domain.FormName(chi.URLParam(r, "form"))

	req, ok := httputil.DecodeAndPrepare[SubmitRequestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	submitted, err := req.ToModel()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	id, err := h.service.SubmitRequest(ctx, form, submitted)
	if err != nil {
		h.logger.ErrorContext(ctx, "submit failed", "error", err, "request_id", requestID, "form", form.String())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, &SubmitResponse{RequestID: id.String()})
}

// HandleConfirm resolves a confirmation token. An invalid or expired token
// is a successful call with outcome "invalid", not an error.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	outcome, err := h.service.Confirm(ctx, token)
	if err != nil {
		h.logger.ErrorContext(ctx, "confirmation failed", "error", err, "request_id", request.GetRequestID(ctx))
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &ConfirmResponse{Outcome: string(outcome)})
}

func (h *Handler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	all, err := h.service.GetRequests(ctx, a)
	if err != nil {
		h.logger.ErrorContext(ctx, "list requests failed", "error", err, "request_id", request.GetRequestID(ctx))
		httputil.WriteError(w, err)
		return
	}

	out := make([]*RequestStateResponse, 0, len(all))
	for _, st := range all {
		out = append(out, toRequestStateResponse(st))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
		return
	}

	st, err := h.service.GetRequest(ctx, a, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestStateResponse(st))
}

// HandleProcessRequest applies an administrator decision to a pending request.
func (h *Handler) HandleProcessRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[ProcessRequestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var final *models.Request
	if req.Request != nil {
		final, err = req.Request.ToModel()
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	err = h.service.ProcessRequest(ctx, a, id, final, service.Action(req.Action), req.PublicComment, req.InternalComment)
	if err != nil {
		h.logger.ErrorContext(ctx, "process failed",
			"error", err, "request_id", requestID, "action", req.Action, "target", id.String())
		httputil.WriteError(w, err)
		return
	}

	st, err := h.service.GetRequest(ctx, a, id)
	if err != nil {
		// Dropped requests have no state left to return.
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestStateResponse(st))
}

func (h *Handler) HandleAddInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[InvitationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	inv, err := req.ToModel()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	code, err := h.service.AddInvitation(ctx, a, inv)
	if err != nil {
		h.logger.ErrorContext(ctx, "add invitation failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &InvitationCreateResponse{Code: code.String()})
}

func (h *Handler) HandleSendInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	code := domain.RegistrationCode(chi.URLParam(r, "code"))

	if err := h.service.SendInvitation(ctx, a, code); err != nil {
		h.logger.ErrorContext(ctx, "send invitation failed", "error", err, "request_id", request.GetRequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUpdateInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	code := domain.RegistrationCode(chi.URLParam(r, "code"))

	req, ok := httputil.DecodeAndPrepare[InvitationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	inv, err := req.ToModel()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.UpdateInvitation(ctx, a, code, inv); err != nil {
		h.logger.ErrorContext(ctx, "update invitation failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRemoveInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := actor(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	code := domain.RegistrationCode(chi.URLParam(r, "code"))

	if err := h.service.RemoveInvitation(ctx, a, code); err != nil {
		h.logger.ErrorContext(ctx, "remove invitation failed", "error", err, "request_id", request.GetRequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
