package playbook

import (
	"errors"
	"fmt"
)

// Code identifies one expected-control-flow outcome of the playbook engine.
// Every entry in the error taxonomy is a typed value so callers can render
// specific remediation instead of a generic failure.
type Code string

const (
	CodeDraftNotFound Code = "PLAYBOOK_DRAFT_NOT_FOUND"
	CodeDraftExpired  Code = "PLAYBOOK_DRAFT_EXPIRED"
	CodeScopeInvalid  Code = "PLAYBOOK_SCOPE_INVALID"
	CodeRulesChanged  Code = "PLAYBOOK_RULES_CHANGED"
	CodeDraftConflict Code = "PLAYBOOK_DRAFT_CONFLICT"

	CodeApprovalRequired Code = "APPROVAL_REQUIRED"
	CodeApprovalNotFound Code = "APPROVAL_NOT_FOUND"
	CodeRoleForbidden    Code = "ROLE_FORBIDDEN"

	CodeAIDailyLimitReached  Code = "AI_DAILY_LIMIT_REACHED"
	CodeAIQuotaExceeded      Code = "AI_QUOTA_EXCEEDED"
	CodeEntitlementsLimit    Code = "ENTITLEMENTS_LIMIT_REACHED"
	CodeAIQuotaExhausted     Code = "AI_QUOTA_EXHAUSTED"
	CodeAIAllModelsExhausted Code = "AI_ALL_MODELS_EXHAUSTED"
	CodeAITimeout            Code = "AI_TIMEOUT"
	CodeAITransient          Code = "AI_TRANSIENT"
	CodeInternal             Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WrapError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the playbook code from an error chain, or empty.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given playbook code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
