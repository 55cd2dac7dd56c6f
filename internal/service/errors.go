package service

import "fmt"

// Error codes surfaced to callers. Validation and authorization
// problems are returned synchronously; upstream feed failures are
// folded into retryable settlement statuses instead.
const (
	CodeValidation          = "validation_error"
	CodeVotingClosed        = "voting_closed"
	CodeInsufficientBalance = "insufficient_balance"
	CodeUpstreamFetch       = "upstream_fetch_error"
	CodeNotFound            = "not_found"
)

// Error is a caller-facing failure with a machine-readable code.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code, so sentinel checks
// via errors.Is work without sharing instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrVotingClosed        = &Error{Code: CodeVotingClosed, Message: "voting window has closed"}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance, Message: "insufficient balance"}
)

func validationErr(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundErr(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func upstreamErr(msg string, cause error) *Error {
	return &Error{Code: CodeUpstreamFetch, Message: msg, cause: cause}
}
