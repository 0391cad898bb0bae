package git

import (
	"fmt"

	"github.com/DigitumDei/Actuarius/internal/runner"
)

type Code string

const (
	CodeGitUnavailable      Code = "GIT_UNAVAILABLE"
	CodeCloneFailed         Code = "CLONE_FAILED"
	CodeMasterBranchMissing Code = "MASTER_BRANCH_MISSING"
	CodeCheckoutFailed      Code = "CHECKOUT_FAILED"

	CodeCreateFailed  Code = "CREATE_FAILED"
	CodeCleanupFailed Code = "CLEANUP_FAILED"
)

// WorkspaceError is returned by the Synchronizer.
type WorkspaceError struct {
	Code    Code
	Message string
	Err     error
}

func (e *WorkspaceError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// WorktreeError is returned by the WorktreeManager.
type WorktreeError struct {
	Code    Code
	Message string
	Err     error
}

func (e *WorktreeError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *WorktreeError) Unwrap() error { return e.Err }

func workspaceErr(code Code, message string, err error) *WorkspaceError {
	if runner.IsKind(err, runner.KindUnavailable) {
		return &WorkspaceError{Code: CodeGitUnavailable, Message: "git is not installed or not available in PATH", Err: err}
	}
	return &WorkspaceError{Code: code, Message: message, Err: err}
}
