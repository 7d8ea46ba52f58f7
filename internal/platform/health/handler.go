// Package health exposes the liveness endpoint.
package health

import (
	"net/http"

	"enroll/pkg/platform/httputil"
)

// Handler reports process liveness. Store-backed readiness checks can hang
// off the same handler once a durable backend exists.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Handle(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
