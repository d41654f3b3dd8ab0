// Package apperr defines the typed failure kinds shared by the engine, the
// HTTP layer and the CLI. Every expected domain outcome is one of these, so
// callers can branch on Code without parsing message text.
package apperr

import "fmt"

type Code string

const (
	CodeUnauthenticated   Code = "unauthenticated"
	CodeForbidden         Code = "forbidden"
	CodeInvalidTransition Code = "invalid_transition"
	CodeConflict          Code = "conflict"
	CodeValidation        Code = "validation"
	CodeNotFound          Code = "not_found"
	CodeInternal          Code = "internal"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets sentinel errors match wrapped copies of themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(CodeConflict, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return Newf(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return Newf(CodeInvalidTransition, format, args...)
}

func Internal(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Acceptance and rejection preconditions, one sentinel per named failure.
var (
	ErrNotJobOwner          = Forbidden("only the job owner can perform this action")
	ErrAlreadyAccepted      = InvalidTransition("proposal is already accepted")
	ErrAlreadyRejected      = InvalidTransition("proposal is already rejected")
	ErrJobAlreadyContracted = InvalidTransition("job is already contracted")
	ErrJobNotPublished      = InvalidTransition("job is not published")
	ErrContractExists       = Conflict("a contract already exists for this proposal")
)

// Conversation ledger failures.
var (
	ErrInvalidParent        = Validation("conversation requires exactly one of job_id or contract_id")
	ErrDuplicateParticipant = Conflict("user is already a participant of this conversation")
	ErrNotParticipant       = Forbidden("user is not a participant of this conversation")
)

// Proposal submission failures.
var (
	ErrDuplicateProposal = Conflict("musician has already submitted a proposal for this job")
	ErrOwnJobProposal    = Validation("cannot submit a proposal to your own job")
)
