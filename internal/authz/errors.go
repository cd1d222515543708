package authz

import "errors"

// Validation failures are recoverable: the caller fixes the selection and
// resubmits. They always name the offending resource or purpose.
var (
	ErrInvalidRequest        = errors.New("authz: invalid request")
	ErrEmptySelection        = errors.New("authz: empty selection")
	ErrResourceNotAuthorized = errors.New("authz: resource not authorized")
	ErrPurposeNotAuthorized  = errors.New("authz: purpose not authorized")
	ErrRetentionExceeded     = errors.New("authz: retention window exceeded")
)

// Commit-stage failures: the caller must re-fetch or re-resolve and retry.
var (
	ErrContractConflict = errors.New("authz: contract version conflict")
	ErrContractExpired  = errors.New("authz: contract expired")
)

var (
	ErrNotFound = errors.New("authz: not found")
	ErrConflict = errors.New("authz: resource conflict")
)
