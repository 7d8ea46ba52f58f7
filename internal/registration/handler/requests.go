package handler

import (
	"strings"
	"time"

	"enroll/internal/forms/models"
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// IdentityEntryDTO is one positional identity value.
type IdentityEntryDTO struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AttributeEntryDTO is one positional attribute value set.
type AttributeEntryDTO struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// CredentialEntryDTO carries a credential secret.
type CredentialEntryDTO struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// PolicyDecisionDTO records acceptance of policy documents.
type PolicyDecisionDTO struct {
	Documents []int `json:"documents"`
	Accepted  bool  `json:"accepted"`
}

// SubmitRequestRequest is the submission payload. Entries are positional
// against the form's parameter lists; null entries mean "not provided".
type SubmitRequestRequest struct {
	Identities       []*IdentityEntryDTO   `json:"identities"`
	Attributes       []*AttributeEntryDTO  `json:"attributes"`
	Groups           [][]string            `json:"groups"`
	Credentials      []*CredentialEntryDTO `json:"credentials"`
	Agreements       []*bool               `json:"agreements"`
	PolicyAgreements []*PolicyDecisionDTO  `json:"policy_agreements"`
	RegistrationCode string                `json:"registration_code"`
	Locale           string                `json:"locale"`
	UserComment      string                `json:"user_comment"`
}

func (r *SubmitRequestRequest) Normalize() {
	r.RegistrationCode = strings.TrimSpace(r.RegistrationCode)
	r.Locale = strings.TrimSpace(r.Locale)
}

func (r *SubmitRequestRequest) ToModel() (*models.Request, error) {
	req := &models.Request{
		RegistrationCode: domain.RegistrationCode(r.RegistrationCode),
		Locale:           r.Locale,
		UserComment:      r.UserComment,
	}
	for _, id := range r.Identities {
		if id == nil {
			req.Identities = append(req.Identities, nil)
			continue
		}
		req.Identities = append(req.Identities, &models.IdentityEntry{Type: id.Type, Value: id.Value})
	}
	for _, at := range r.Attributes {
		if at == nil {
			req.Attributes = append(req.Attributes, nil)
			continue
		}
		req.Attributes = append(req.Attributes, &models.AttributeEntry{Name: at.Name, Values: at.Values})
	}
	for _, sel := range r.Groups {
		if sel == nil {
			req.Groups = append(req.Groups, nil)
			continue
		}
		paths := make([]domain.GroupPath, 0, len(sel))
		for _, raw := range sel {
			p, err := domain.ParseGroupPath(raw)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid group path")
			}
			paths = append(paths, p)
		}
		req.Groups = append(req.Groups, &models.GroupSelection{Paths: paths})
	}
	for _, cred := range r.Credentials {
		if cred == nil {
			req.Credentials = append(req.Credentials, nil)
			continue
		}
		req.Credentials = append(req.Credentials, &models.CredentialEntry{Name: cred.Name, Secret: cred.Secret})
	}
	for _, ag := range r.Agreements {
		if ag == nil {
			req.Agreements = append(req.Agreements, nil)
			continue
		}
		req.Agreements = append(req.Agreements, &models.AgreementDecision{Accepted: *ag})
	}
	for _, pa := range r.PolicyAgreements {
		if pa == nil {
			req.PolicyAgreements = append(req.PolicyAgreements, nil)
			continue
		}
		req.PolicyAgreements = append(req.PolicyAgreements, &models.PolicyDecision{
			Documents: pa.Documents,
			Accepted:  pa.Accepted,
		})
	}
	return req, nil
}

// ProcessRequestRequest carries an administrator decision. Request, when
// present, replaces the stored submission before the action applies.
type ProcessRequestRequest struct {
	Action          string                `json:"action"`
	Request         *SubmitRequestRequest `json:"request,omitempty"`
	PublicComment   string                `json:"public_comment"`
	InternalComment string                `json:"internal_comment"`
}

func (r *ProcessRequestRequest) Validate() error {
	switch r.Action {
	case "accept", "reject", "update", "drop":
		return nil
	}
	return dErrors.New(dErrors.CodeBadRequest, "action must be accept, reject, update, or drop")
}

// PrefilledEntryDTO is one invitation prefill at a parameter index.
type PrefilledEntryDTO struct {
	Index  int      `json:"index"`
	Mode   string   `json:"mode"`
	Type   string   `json:"type,omitempty"`
	Name   string   `json:"name,omitempty"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
	Group  string   `json:"group,omitempty"`
	Paths  []string `json:"paths,omitempty"`
}

// InvitationRequest creates or updates an invitation.
type InvitationRequest struct {
	Form           string              `json:"form"`
	ContactAddress string              `json:"contact_address"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	Identities     []PrefilledEntryDTO `json:"identities"`
	Attributes     []PrefilledEntryDTO `json:"attributes"`
	Groups         []PrefilledEntryDTO `json:"groups"`
}

func (r *InvitationRequest) Normalize() {
	r.Form = strings.TrimSpace(r.Form)
	r.ContactAddress = strings.TrimSpace(r.ContactAddress)
}

func parsePrefillMode(raw string) (models.PrefillMode, error) {
	switch models.PrefillMode(raw) {
	case models.PrefillDefault, models.PrefillHidden, models.PrefillReadOnly:
		return models.PrefillMode(raw), nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "prefill mode must be default, hidden, or read_only")
}

func (r *InvitationRequest) ToModel() (*models.Invitation, error) {
	inv := &models.Invitation{
		Form:           domain.FormName(r.Form),
		ContactAddress: r.ContactAddress,
		Identities:     make(map[int]models.PrefilledIdentity),
		Attributes:     make(map[int]models.PrefilledAttribute),
		Groups:         make(map[int]models.PrefilledGroups),
	}
	if r.ExpiresAt != nil {
		inv.ExpiresAt = *r.ExpiresAt
	}
	for _, pre := range r.Identities {
		mode, err := parsePrefillMode(pre.Mode)
		if err != nil {
			return nil, err
		}
		inv.Identities[pre.Index] = models.PrefilledIdentity{
			Entry: models.IdentityEntry{Type: pre.Type, Value: pre.Value},
			Mode:  mode,
		}
	}
	for _, pre := range r.Attributes {
		mode, err := parsePrefillMode(pre.Mode)
		if err != nil {
			return nil, err
		}
		var group domain.GroupPath
		if pre.Group != "" {
			group, err = domain.ParseGroupPath(pre.Group)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid prefill group path")
			}
		}
		inv.Attributes[pre.Index] = models.PrefilledAttribute{
			Entry: models.AttributeEntry{Name: pre.Name, Values: pre.Values, Group: group},
			Mode:  mode,
		}
	}
	for _, pre := range r.Groups {
		mode, err := parsePrefillMode(pre.Mode)
		if err != nil {
			return nil, err
		}
		paths := make([]domain.GroupPath, 0, len(pre.Paths))
		for _, raw := range pre.Paths {
			p, err := domain.ParseGroupPath(raw)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid prefill group path")
			}
			paths = append(paths, p)
		}
		inv.Groups[pre.Index] = models.PrefilledGroups{Paths: paths, Mode: mode}
	}
	return inv, nil
}
