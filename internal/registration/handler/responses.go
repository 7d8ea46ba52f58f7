package handler

import (
	"time"

	"enroll/internal/forms/models"
)

// SubmitResponse acknowledges a stored submission.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
}

// ConfirmResponse reports the outcome of a confirmation token resolution.
type ConfirmResponse struct {
	Outcome string `json:"outcome"`
}

// InvitationCreateResponse returns the generated registration code.
type InvitationCreateResponse struct {
	Code string `json:"code"`
}

// CommentResponse is one administrator comment on a request.
type CommentResponse struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestStateResponse is the administrative view of one request.
type RequestStateResponse struct {
	ID            string               `json:"id"`
	Form          string               `json:"form"`
	Status        string               `json:"status"`
	CreatedEntity string               `json:"created_entity,omitempty"`
	Comments      []CommentResponse    `json:"comments,omitempty"`
	Identities    []*IdentityEntryDTO  `json:"identities"`
	Attributes    []*AttributeEntryDTO `json:"attributes"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func toRequestStateResponse(st *models.UserRequestState) *RequestStateResponse {
	out := &RequestStateResponse{
		ID:        st.ID.String(),
		Status:    string(st.Status),
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
	if st.Request != nil {
		out.Form = st.Request.Form.String()
		for _, id := range st.Request.Identities {
			if id == nil {
				out.Identities = append(out.Identities, nil)
				continue
			}
			out.Identities = append(out.Identities, &IdentityEntryDTO{Type: id.Type, Value: id.Value})
		}
		for _, at := range st.Request.Attributes {
			if at == nil {
				out.Attributes = append(out.Attributes, nil)
				continue
			}
			out.Attributes = append(out.Attributes, &AttributeEntryDTO{Name: at.Name, Values: at.Values})
		}
	}
	if !st.CreatedEntity.IsNil() {
		out.CreatedEntity = st.CreatedEntity.String()
	}
	for _, c := range st.AdminComments {
		out.Comments = append(out.Comments, CommentResponse{
			Author:    c.Author,
			Text:      c.Text,
			Public:    c.Public,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}
