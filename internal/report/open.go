package report

import (
	"fmt"
	"os/exec"
	"runtime"
)

var startCommand = func(cmd *exec.Cmd) error { return cmd.Start() }

// Open opens path with the platform's default application. The command is
// started but not waited for.
func Open(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := startCommand(cmd); err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	return nil
}
