package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeIdempotency      Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeDependency       Code = "DEPENDENCY_ERROR"
	CodeInvalidAmount    Code = "INVALID_AMOUNT"
	CodeInvoiceNotFound  Code = "INVOICE_NOT_FOUND"
	CodeInvoiceCancelled Code = "INVOICE_CANCELLED"
	CodeInvalidDelta     Code = "INVALID_DELTA"
	CodeNoOutstanding    Code = "NO_OUTSTANDING_INVOICES"
	CodeConcurrency      Code = "CONCURRENCY_CONFLICT"
	CodeStateConflict    Code = "STATE_CONFLICT"
)

// Metadata drives how a code is rendered at the HTTP boundary. PublicMessage
// is what clients see; DetailsAllowed gates whether the wrapped detail payload
// may leave the process.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:       {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:     {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:        {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:         {http.StatusNotFound, false, "resource not found", false},
	CodeIdempotency:      {http.StatusConflict, false, "idempotency key reused", true},
	CodeInvalidAmount:    {http.StatusBadRequest, false, "payment amount must be positive", true},
	CodeInvoiceNotFound:  {http.StatusNotFound, false, "invoice not found", false},
	CodeInvoiceCancelled: {http.StatusUnprocessableEntity, false, "invoice is cancelled", true},
	CodeInvalidDelta:     {http.StatusUnprocessableEntity, false, "delta would leave paid amount out of bounds", true},
	CodeNoOutstanding:    {http.StatusUnprocessableEntity, false, "student has no outstanding invoices", true},
	CodeConcurrency:      {http.StatusConflict, true, "concurrent payment in progress, retry", true},
	CodeStateConflict:    {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
	CodeInternal:         {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:       {http.StatusServiceUnavailable, true, "dependency unavailable", true},
}

// MetadataFor falls back to the internal-error metadata for unknown codes so
// an unmapped code can never leak details.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the coded error carried across service boundaries.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// As extracts a coded error from anywhere in the chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
