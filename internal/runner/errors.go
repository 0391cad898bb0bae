package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindFailed Kind = iota
	KindUnavailable
	KindTimedOut
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimedOut:
		return "timeout"
	default:
		return "failed"
	}
}

// Error describes a process that did not exit cleanly. Stdout and Stderr
// hold whatever was captured before the process ended.
type Error struct {
	Kind     Kind
	Name     string
	ExitCode int
	Stdout   string
	Stderr   string
	Timeout  time.Duration
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnavailable:
		return fmt.Sprintf("%s: executable not found", e.Name)
	case KindTimedOut:
		return fmt.Sprintf("%s: timed out after %s", e.Name, e.Timeout)
	}
	msg := fmt.Sprintf("%s: exit code %d", e.Name, e.ExitCode)
	if detail := clip(strings.TrimSpace(e.Stderr), 1000); detail != "" {
		return msg + ": " + detail
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsKind(err error, kind Kind) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == kind
}

// ExitCode reports the exit code carried by err, if it came from a
// process that ran and exited.
func ExitCode(err error) (int, bool) {
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindFailed || rerr.ExitCode < 0 {
		return 0, false
	}
	return rerr.ExitCode, true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
