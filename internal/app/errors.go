package app

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalState means an operation was invoked from a status it is not valid in.
	// It indicates a programming defect and is never retried.
	ErrIllegalState = errors.New("illegal transaction state")
	// ErrAlreadyAnnulled is returned when annulling a reference that already has an annulment.
	ErrAlreadyAnnulled = errors.New("payment reference is already annulled")
)

// ValidationReason tags why a sanity check rejected an order.
type ValidationReason string

const (
	ReasonUnsupportedRateType ValidationReason = "UNSUPPORTED_RATE_TYPE"
	ReasonRateTooHigh         ValidationReason = "RATE_TOO_HIGH"
	ReasonExtendsAnnulment    ValidationReason = "EXTENDS_ANNULMENT"
	ReasonNotSimpleExtension  ValidationReason = "NOT_SIMPLE_EXTENSION"
	ReasonPreviousNotFinished ValidationReason = "PREVIOUS_NOT_FINISHED"
	ReasonOrganisationChanged ValidationReason = "ORGANISATION_CHANGED"
	ReasonSubjectChanged      ValidationReason = "SUBJECT_CHANGED"
	ReasonDateFromChanged     ValidationReason = "DATE_FROM_CHANGED"
	ReasonDateToNotExtended   ValidationReason = "DATE_TO_NOT_EXTENDED"
	ReasonRateChanged         ValidationReason = "RATE_CHANGED"
	ReasonNothingToAnnul      ValidationReason = "NOTHING_TO_ANNUL"
)

// ValidationError is a sanity-check failure. The event that caused it is logged and
// dropped; no transaction is created or advanced.
type ValidationError struct {
	Reason  ValidationReason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sanity check failed (%s): %s", e.Reason, e.Message)
}

func validationErrorf(reason ValidationReason, format string, args ...any) error {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a sanity-check failure, and returns it.
func IsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
