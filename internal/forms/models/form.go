// Package models holds the form schema and request types for onboarding.
package models

import (
	"enroll/pkg/domain"
	dErrors "enroll/pkg/domain-errors"
)

// FormType distinguishes the two onboarding flows.
type FormType string

const (
	FormRegistration FormType = "registration"
	FormEnquiry      FormType = "enquiry"
)

// ConfirmationMode controls how a verifiable value is reconciled.
type ConfirmationMode string

const (
	// ModeOnSubmit sends a confirmation request right after submission.
	ModeOnSubmit ConfirmationMode = "on_submit"
	// ModeOnAccept sends a confirmation request when the request is accepted.
	ModeOnAccept ConfirmationMode = "on_accept"
	// ModeConfirmed forces the value to confirmed at validation time.
	ModeConfirmed ConfirmationMode = "confirmed"
	// ModeDontConfirm forces the value to unconfirmed and never sends.
	ModeDontConfirm ConfirmationMode = "dont_confirm"
)

// Sends reports whether the mode participates in the confirmation protocol.
// Preset modes are resolved during preprocessing so later sending logic only
// ever sees on_submit/on_accept values.
func (m ConfirmationMode) Sends() bool {
	return m == ModeOnSubmit || m == ModeOnAccept
}

// IdentityParam describes one positional identity slot of a form.
type IdentityParam struct {
	Type         string
	Label        string
	Optional     bool
	Confirmation ConfirmationMode
}

// AttributeParam describes one positional attribute slot. DynamicGroupParam,
// when set, binds the attribute's target group to the group selected at that
// group-parameter index instead of the static Group path.
type AttributeParam struct {
	Name              string
	Group             domain.GroupPath
	Label             string
	Optional          bool
	Confirmation      ConfirmationMode
	DynamicGroupParam *int
}

// GroupParam describes one positional group-selection slot.
type GroupParam struct {
	PathPattern string
	Label       string
	MultiSelect bool
	Optional    bool
}

// CredentialParam describes one positional credential slot.
type CredentialParam struct {
	Name     string
	Optional bool
}

// AgreementParam is a free-text agreement the requester must acknowledge.
type AgreementParam struct {
	Text      string
	Mandatory bool
}

// PolicyAgreementParam references policy documents requiring acceptance.
type PolicyAgreementParam struct {
	Documents []int
	Text      string
	Mandatory bool
}

// NotificationTemplates names the message templates used across the request
// lifecycle. Empty entries suppress the corresponding notification.
type NotificationTemplates struct {
	Submitted    string
	Accepted     string
	Rejected     string
	Invitation   string
	Confirmation string
}

// Form is the immutable schema a request must conform to. Parameter lists
// are positional: a submitted value at index i must satisfy parameter i.
type Form struct {
	Name             domain.FormName
	Type             FormType
	InvitationOnly   bool
	Profile          domain.ProfileName
	AdminsGroup      domain.GroupPath
	Identities       []IdentityParam
	Attributes       []AttributeParam
	Groups           []GroupParam
	Credentials      []CredentialParam
	Agreements       []AgreementParam
	PolicyAgreements []PolicyAgreementParam
	Templates        NotificationTemplates
}

// Validate checks structural sanity of the schema itself.
func (f *Form) Validate() error {
	if f.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "form name is required")
	}
	if f.Type != FormRegistration && f.Type != FormEnquiry {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown form type")
	}
	for _, ap := range f.Attributes {
		if ap.Name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "attribute parameter missing name")
		}
		if ap.DynamicGroupParam != nil {
			if idx := *ap.DynamicGroupParam; idx < 0 || idx >= len(f.Groups) {
				return dErrors.New(dErrors.CodeInvalidInput, "attribute parameter bound to unknown group parameter")
			}
		}
	}
	for _, ip := range f.Identities {
		if ip.Type == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "identity parameter missing type")
		}
	}
	return nil
}
