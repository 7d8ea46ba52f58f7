package models

import (
	"errors"
	"fmt"

	dErrors "enroll/pkg/domain-errors"
)

// Category tags a validation failure with the form list it originated from,
// so UIs can pinpoint the failing field.
type Category string

const (
	CategoryIdentity        Category = "IDENTITY"
	CategoryAttribute       Category = "ATTRIBUTE"
	CategoryCredential      Category = "CREDENTIAL"
	CategoryGroup           Category = "GROUP"
	CategoryAgreement       Category = "AGREEMENT"
	CategoryPolicyAgreement Category = "POLICY_AGREEMENT"
)

// ValidationError reports a non-conforming submitted value. Index points at
// the offending positional parameter; -1 means the whole list (for example a
// cardinality mismatch).
type ValidationError struct {
	Category Category
	Index    int
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s[%d]: %s", e.Category, e.Index, e.Reason)
}

// NewValidationError builds a category-tagged validation failure wrapped in
// a domain error so services can match on the code.
func NewValidationError(category Category, index int, reason string) error {
	return dErrors.Wrap(
		&ValidationError{Category: category, Index: index, Reason: reason},
		dErrors.CodeValidation,
		fmt.Sprintf("%s[%d]: %s", category, index, reason),
	)
}

// AsValidationError extracts the structured validation failure, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
