package claim

import "errors"

// Rejection kinds. Match with errors.Is.
var (
	ErrNameNotFound   = errors.New("name not found")
	ErrCooldownActive = errors.New("cooldown active")
	ErrFeeTooHigh     = errors.New("fee too high")
	ErrTransferFailed = errors.New("transfer failed")
	ErrInternal       = errors.New("internal error")
)

// ErrNotFound is returned by a Resolver when the name has no bound address.
var ErrNotFound = errors.New("no address bound to name")

var errMalformedName = errors.New("expected name@namespace")

// Error is a claim rejection. Its message is the human readable reason and
// is also what the audit log records as the attempt's result.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func reject(kind error, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}
