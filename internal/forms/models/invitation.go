package models

import (
	"time"

	"enroll/pkg/domain"
)

// PrefillMode controls how an invitation entry interacts with submitted data.
type PrefillMode string

const (
	// PrefillDefault seeds the value but leaves it user-editable.
	PrefillDefault PrefillMode = "default"
	// PrefillHidden is applied server-side; a conflicting submission is rejected.
	PrefillHidden PrefillMode = "hidden"
	// PrefillReadOnly is shown to the user but must not be overridden.
	PrefillReadOnly PrefillMode = "read_only"
)

// Fixed reports whether submitted values may not override the entry.
func (m PrefillMode) Fixed() bool { return m == PrefillHidden || m == PrefillReadOnly }

// PrefilledIdentity is an invitation-supplied identity for one parameter index.
type PrefilledIdentity struct {
	Entry IdentityEntry
	Mode  PrefillMode
}

// PrefilledAttribute is an invitation-supplied attribute for one parameter index.
type PrefilledAttribute struct {
	Entry AttributeEntry
	Mode  PrefillMode
}

// PrefilledGroups is an invitation-supplied group selection for one parameter index.
type PrefilledGroups struct {
	Paths []domain.GroupPath
	Mode  PrefillMode
}

// Invitation is a pre-issued, code-addressed bundle of prefilled values tied
// to a contact address and an expiration instant. Consumed exactly once.
type Invitation struct {
	Code           domain.RegistrationCode
	Form           domain.FormName
	Type           FormType
	ContactAddress string
	ExpiresAt      time.Time
	Identities     map[int]PrefilledIdentity
	Attributes     map[int]PrefilledAttribute
	Groups         map[int]PrefilledGroups
	SendCount      int
	LastSentAt     time.Time
}

// Expired reports whether the invitation can no longer be consumed.
func (i *Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
