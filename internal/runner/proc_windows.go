//go:build windows

package runner

import "os/exec"

// Windows has no SIGTERM; the default Cancel kills the process.
func configureProcess(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {}
