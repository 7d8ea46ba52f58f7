package models

import (
	"time"

	"enroll/pkg/domain"
)

// ConfirmationInfo tracks the out-of-band confirmation state of one
// verifiable value. SentCount is bumped only by resends, never by duplicate
// confirmation attempts.
type ConfirmationInfo struct {
	Confirmed   bool
	ConfirmedAt time.Time
	SentCount   int
	LastSentAt  time.Time
}

// IdentityEntry is a submitted identity value at one form parameter index.
type IdentityEntry struct {
	Type         string
	Value        string
	Confirmation ConfirmationInfo
}

// AttributeEntry is a submitted attribute value at one form parameter index.
type AttributeEntry struct {
	Name         string
	Values       []string
	Group        domain.GroupPath
	Confirmation ConfirmationInfo
}

// GroupSelection holds the group paths chosen for one group parameter.
type GroupSelection struct {
	Paths []domain.GroupPath
}

// CredentialEntry carries a credential secret pending preparation.
type CredentialEntry struct {
	Name   string
	Secret string
}

// AgreementDecision records acknowledgment of one agreement parameter.
type AgreementDecision struct {
	Accepted bool
}

// PolicyDecision records acceptance of the referenced policy documents.
type PolicyDecision struct {
	Documents []int
	Accepted  bool
}

// Request is the user-submitted payload conforming to a Form. Entries are
// positional; a nil entry means the parameter was not provided.
type Request struct {
	Form             domain.FormName
	Type             FormType
	Identities       []*IdentityEntry
	Attributes       []*AttributeEntry
	Groups           []*GroupSelection
	Credentials      []*CredentialEntry
	Agreements       []*AgreementDecision
	PolicyAgreements []*PolicyDecision
	RegistrationCode domain.RegistrationCode
	Locale           string
	UserComment      string
}

// ContactAddress resolves the channel confirmations and invitation matching
// use: the first email identity, falling back to the first email attribute.
func (r *Request) ContactAddress() string {
	for _, id := range r.Identities {
		if id != nil && id.Type == "email" && id.Value != "" {
			return id.Value
		}
	}
	for _, at := range r.Attributes {
		if at != nil && at.Name == "email" && len(at.Values) > 0 {
			return at.Values[0]
		}
	}
	return ""
}

// IdentityTypes returns the set of identity types present in the request.
func (r *Request) IdentityTypes() map[string]bool {
	set := make(map[string]bool)
	for _, id := range r.Identities {
		if id != nil {
			set[id.Type] = true
		}
	}
	return set
}

// CredentialNames returns the set of credential names present in the request.
func (r *Request) CredentialNames() map[string]bool {
	set := make(map[string]bool)
	for _, c := range r.Credentials {
		if c != nil {
			set[c.Name] = true
		}
	}
	return set
}
