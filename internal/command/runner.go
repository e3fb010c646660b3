package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result is the captured output of one external process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so ffmpeg/whisper callers can be faked.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return res, &Error{Name: name, Result: res, Err: err}
	}
	return res, nil
}

// Error reports a non-zero exit with the tail of stderr.
type Error struct {
	Name   string
	Result Result
	Err    error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if len(msg) > 300 {
		msg = "..." + msg[len(msg)-300:]
	}
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Name, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.Result.ExitCode, msg)
}

func (e *Error) Unwrap() error { return e.Err }
