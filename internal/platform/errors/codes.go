// Package errors provides structured error handling for the gift registry.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Reservation errors
	CodeGiftAlreadyReserved Code = "GIFT_ALREADY_RESERVED"
	CodeGiftNotReserved     Code = "GIFT_NOT_RESERVED"
	CodeReleaseForbidden    Code = "FORBIDDEN"

	// Funding-mode errors
	CodeGiftWrongMode Code = "GIFT_WRONG_MODE"

	// Contribution errors
	CodeContributionInvalidAmount Code = "CONTRIBUTION_INVALID_AMOUNT"
	CodeGiftAlreadyFunded         Code = "GIFT_ALREADY_FUNDED"

	// Request errors
	CodeInvalidActor   Code = "INVALID_ACTOR"
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeTransactionConflict Code = "TRANSACTION_CONFLICT"
)

// HTTPStatus maps domain codes to HTTP status codes for the mutation endpoints.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeContributionInvalidAmount, CodeInvalidActor, CodeInvalidRequest:
		return http.StatusBadRequest

	case CodeReleaseForbidden:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	// Conflicts with current funding state
	case CodeGiftAlreadyReserved,
		CodeGiftNotReserved,
		CodeGiftWrongMode,
		CodeGiftAlreadyFunded:
		return http.StatusConflict

	case CodeTransactionConflict:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely repeat the whole operation.
// Only transient storage conflicts qualify; business conflicts never do.
func (c Code) Retryable() bool {
	return c == CodeTransactionConflict
}
