package executor

import (
	"context"
	"errors"
	"fmt"
)

// Executor runs a command on the guest and returns its standard output.
// Transport and authentication failures are reported as
// *RemoteExecutionError.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// FileCopier uploads a local file to the guest.
type FileCopier interface {
	CopyFile(ctx context.Context, localPath, remotePath string) error
}

// Session is a connected guest: it can run commands, receive files and
// must be closed once the caller is done with it.
type Session interface {
	Executor
	FileCopier
	Close() error
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, command string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

var ErrRemoteExecution = errors.New("remote execution failed")

// RemoteExecutionError wraps a failure to run a command on the guest.
type RemoteExecutionError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *RemoteExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%v: %q: %v (stderr: %s)", ErrRemoteExecution, e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%v: %q: %v", ErrRemoteExecution, e.Command, e.Err)
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

func (e *RemoteExecutionError) Is(target error) bool { return target == ErrRemoteExecution }
