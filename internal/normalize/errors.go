package normalize

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation_error")
	ErrMissingIMEI      = fmt.Errorf("%w: missing_imei", ErrValidation)
	ErrInvalidIMEI      = fmt.Errorf("%w: invalid_imei", ErrValidation)
	ErrMalformedPayload = fmt.Errorf("%w: malformed_payload", ErrValidation)

	errNullPayload = errors.New("null payload")
)

// ValidationError describes why one submitted record was rejected. Index is
// the record's position in its submission, or -1 for single records.
type ValidationError struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrValidation
}

func missingIMEI() *ValidationError {
	return &ValidationError{
		Index:   -1,
		Field:   "imei",
		Code:    "missing_imei",
		Message: "record has no imei",
		Err:     ErrMissingIMEI,
	}
}

func invalidIMEI(msg string) *ValidationError {
	return &ValidationError{
		Index:   -1,
		Field:   "imei",
		Code:    "invalid_imei",
		Message: msg,
		Err:     ErrInvalidIMEI,
	}
}

func malformed(err error) *ValidationError {
	return &ValidationError{
		Index:   -1,
		Code:    "malformed_payload",
		Message: fmt.Sprintf("payload is not a json object: %v", err),
		Err:     ErrMalformedPayload,
	}
}
