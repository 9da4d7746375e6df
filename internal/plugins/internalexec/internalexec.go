// Package internalexec runs child processes for plugins and captures their
// output.
package internalexec

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Result captures what a finished command produced.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Succeeded reports a zero exit code.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Run executes cmd, collecting stdout and stderr. Writers already set on cmd
// still receive the output. A non-zero exit is reported through ExitCode;
// the error is only set when the process could not run or was killed.
func Run(cmd *exec.Cmd) (Result, error) {
	var stdoutBuf, stderrBuf bytes.Buffer

	if cmd.Stdout != nil {
		cmd.Stdout = io.MultiWriter(cmd.Stdout, &stdoutBuf)
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if cmd.Stderr != nil {
		cmd.Stderr = io.MultiWriter(cmd.Stderr, &stderrBuf)
	} else {
		cmd.Stderr = &stderrBuf
	}

	started := time.Now()
	err := cmd.Run()
	result := Result{
		Command:  strings.Join(cmd.Args, " "),
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(started),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode >= 0 {
			return result, nil
		}
	}
	if err != nil && result.ExitCode == 0 {
		result.ExitCode = -1
	}
	return result, err
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}
