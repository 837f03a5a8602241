package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrBarrelReferenced = errors.New("barrel is referenced by an invoice line")

	ErrProviderMismatch         = errors.New("barrel and invoice belong to different providers")
	ErrInvalidQuantity          = errors.New("liters must be > 0")
	ErrInvalidPrice             = errors.New("unit price must be > 0")
	ErrAlreadyBilled            = errors.New("barrel already billed")
	ErrPartialBillingNotAllowed = errors.New("liters must equal barrel liters to bill the full barrel")
)

const (
	CodeNotFound                 = "not_found"
	CodeAlreadyExists            = "already_exists"
	CodeInvalidInput             = "invalid_input"
	CodeBarrelReferenced         = "barrel_referenced"
	CodeProviderMismatch         = "provider_mismatch"
	CodeInvalidQuantity          = "invalid_quantity"
	CodeInvalidPrice             = "invalid_price"
	CodeAlreadyBilled            = "already_billed"
	CodePartialBillingNotAllowed = "partial_billing_not_allowed"
)

var codes = map[error]string{
	ErrNotFound:                 CodeNotFound,
	ErrAlreadyExists:            CodeAlreadyExists,
	ErrInvalidInput:             CodeInvalidInput,
	ErrBarrelReferenced:         CodeBarrelReferenced,
	ErrProviderMismatch:         CodeProviderMismatch,
	ErrInvalidQuantity:          CodeInvalidQuantity,
	ErrInvalidPrice:             CodeInvalidPrice,
	ErrAlreadyBilled:            CodeAlreadyBilled,
	ErrPartialBillingNotAllowed: CodePartialBillingNotAllowed,
}

// ValidationError is a rejected request. It unwraps to one of the sentinels
// above so callers can branch with errors.Is and render Field and Details.
type ValidationError struct {
	Kind    error
	Field   string
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Code returns the machine-readable code of the wrapped sentinel.
func (e *ValidationError) Code() string {
	return codes[e.Kind]
}

func newValidationError(kind error, field string, details map[string]string, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:    kind,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}

// CodeOf maps any error produced by this module to its code, or "" for
// infrastructure failures.
func CodeOf(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Code()
	}
	for kind, code := range codes {
		if errors.Is(err, kind) {
			return code
		}
	}
	return ""
}

// IsRejection reports whether err is a caller-input failure rather than a
// system fault.
func IsRejection(err error) bool {
	return CodeOf(err) != ""
}
