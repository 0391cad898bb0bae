package agent

import (
	"errors"
	"strings"
)

type Code string

const (
	CodeTimeout     Code = "TIMEOUT"
	CodeFailed      Code = "FAILED"
	CodeEmptyOutput Code = "EMPTY_OUTPUT"
)

// UnavailableCode is e.g. CLAUDE_UNAVAILABLE.
func UnavailableCode(name string) Code {
	return Code(strings.ToUpper(name) + "_UNAVAILABLE")
}

// DisabledCode is e.g. CODEX_DISABLED.
func DisabledCode(name string) Code {
	return Code(strings.ToUpper(name) + "_DISABLED")
}

// Error carries a code and a message that is safe to show to the
// requester.
type Error struct {
	Agent   string
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func CodeOf(err error) (Code, bool) {
	var aerr *Error
	if !errors.As(err, &aerr) {
		return "", false
	}
	return aerr.Code, true
}
