// Package command runs external processes for the exec middleware.
package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// Request describes one process to start.
type Request struct {
	Command    string
	Args       []string
	WorkingDir string
	// Environment entries are added to the current process environment,
	// overriding variables of the same name.
	Environment map[string]string
}

// Result holds the outcome of a process run.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is -1 when the process could not be started or was killed
	// because the context ended.
	ExitCode int
	// Error records why the run failed, including a non-zero exit.
	Error error
}

// Runner starts processes.
type Runner interface {
	// Run executes req and waits for it. The returned error is non-nil only
	// when the process could not run to completion; a non-zero exit is
	// reported through Result.ExitCode and Result.Error.
	Run(ctx context.Context, req Request) (*Result, error)
}

type defaultRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return &defaultRunner{}
}

func (r *defaultRunner) Run(ctx context.Context, req Request) (*Result, error) {
	cmd := exec.CommandContext(ctx, req.Command, req.Args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	// A nil Env inherits the parent environment unchanged.
	if len(req.Environment) > 0 {
		cmd.Env = MergeEnvironment(os.Environ(), req.Environment)
	}

	result := &Result{ExitCode: -1}
	err := cmd.Run()
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if err != nil {
		// A killed process reports an exit error too; the context is the real cause.
		if ctx.Err() != nil {
			result.Error = ctx.Err()
			return result, ctx.Err()
		}
		// The process ran and exited non-zero: not a Run error.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitCode = status.ExitStatus()
			}
			result.Error = err
			return result, nil
		}
		// Start failures, e.g. a missing binary.
		result.Error = err
		return result, err
	}

	result.ExitCode = 0
	return result, nil
}

// MergeEnvironment returns base with extra applied as KEY=VALUE entries.
// Overridden keys are dropped from base; added entries are sorted by key.
func MergeEnvironment(base []string, extra map[string]string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; !overridden {
			merged = append(merged, kv)
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+extra[k])
	}
	return merged
}
