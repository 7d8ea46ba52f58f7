// Package confirmation issues, tracks, and resolves tokens proving control
// of verifiable values (email-style identities and attributes). Each value
// moves through unconfirmed -> request-sent(n) -> confirmed; tokens are
// signed, expiring, and bound to an owner (a pending request or a created
// entity).
package confirmation

import (
	"fmt"
	"time"

	"enroll/pkg/domain"
)

// ElementType identifies which kind of verifiable element a token covers.
type ElementType string

const (
	ElementIdentity  ElementType = "identity"
	ElementAttribute ElementType = "attribute"
)

// OwnerType distinguishes tokens bound to a pending request from tokens
// bound to an already-created entity.
type OwnerType string

const (
	OwnerRequest OwnerType = "request"
	OwnerEntity  OwnerType = "entity"
)

// Owner is the reference a token is addressed to.
type Owner struct {
	Type OwnerType
	ID   string
}

func RequestOwner(id domain.RequestID) Owner {
	return Owner{Type: OwnerRequest, ID: id.String()}
}

func EntityOwner(id domain.EntityID) Owner {
	return Owner{Type: OwnerEntity, ID: id.String()}
}

func (o Owner) String() string { return fmt.Sprintf("%s:%s", o.Type, o.ID) }

// ElementRef addresses one verifiable element within an owner: the identity
// type or attribute name, plus the positional index in the owner's form.
type ElementRef struct {
	Type  ElementType
	Name  string
	Index int
}

// State is the stored payload of one outstanding token, keyed in the token
// store by the token's jti.
type State struct {
	Key     string
	Owner   Owner
	Element ElementRef
	Value   string
	Address string
	Locale  string
	Group   domain.GroupPath

	// Token is the signed credential handed to the value's owner. Kept so
	// resends reuse the original token instead of minting a second one.
	Token string

	SentCount  int
	LastSentAt time.Time
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Candidate describes a value a caller wants confirmed.
type Candidate struct {
	Owner   Owner
	Element ElementRef
	Value   string
	Address string
	Locale  string
	Group   domain.GroupPath
}

// isDuplicate reports whether an outstanding token already covers the
// candidate: same owner reference, same element, same claimed value.
func isDuplicate(existing State, c Candidate) bool {
	return existing.Owner == c.Owner &&
		existing.Element == c.Element &&
		existing.Value == c.Value
}

// Outcome classifies the result of resolving a token.
type Outcome string

const (
	// OutcomeConfirmed: the element's current value matched and was marked
	// confirmed.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeAlreadyConfirmed: the value was confirmed before this attempt;
	// reported as unsuccessful, not as an error.
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	// OutcomeElementChanged: the element's current value differs from the
	// one the token was issued for.
	OutcomeElementChanged Outcome = "element_changed"
	// OutcomeInvalid: the token is unknown, expired, or already consumed.
	OutcomeInvalid Outcome = "invalid"
)
