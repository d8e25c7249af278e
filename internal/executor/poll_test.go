package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingExecutor returns outputs[i] on the i-th call, repeating the last
// output once exhausted.
type countingExecutor struct {
	outputs []string
	errs    []error
	calls   int
}

func (c *countingExecutor) Execute(_ context.Context, _ string) (string, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if i >= len(c.outputs) {
		i = len(c.outputs) - 1
	}
	return c.outputs[i], err
}

func TestPollUntilSucceedsOnThirdAttempt(t *testing.T) {
	exec := &countingExecutor{outputs: []string{"Running", "Running", "Stopped"}}

	out, err := PollUntil(context.Background(), exec, "sc query cloudbase-init",
		func(s string) bool { return s == "Stopped" }, 5, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "Stopped", out)
	assert.Equal(t, 3, exec.calls)
}

func TestPollUntilTimesOut(t *testing.T) {
	exec := &countingExecutor{outputs: []string{"Running"}}

	_, err := PollUntil(context.Background(), exec, "sc query cloudbase-init",
		func(s string) bool { return false }, 3, time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 3, exec.calls)

	var timeout *PollTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, "Running", timeout.LastOutput)
	assert.NoError(t, timeout.LastErr)
}

func TestPollUntilCountsTransportErrorsAsAttempts(t *testing.T) {
	transport := &RemoteExecutionError{Command: "hostname", Err: errors.New("connection reset")}
	exec := &countingExecutor{
		outputs: []string{"", "win-2019"},
		errs:    []error{transport},
	}

	out, err := PollUntil(context.Background(), exec, "hostname",
		func(s string) bool { return s != "" }, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "win-2019", out)
	assert.Equal(t, 2, exec.calls)
}

func TestPollUntilKeepsLastTransportError(t *testing.T) {
	transport := &RemoteExecutionError{Command: "hostname", Err: errors.New("connection refused")}
	exec := &countingExecutor{
		outputs: []string{""},
		errs:    []error{transport, transport},
	}

	_, err := PollUntil(context.Background(), exec, "hostname",
		func(string) bool { return true }, 2, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.ErrorIs(t, err, ErrRemoteExecution)
	assert.Equal(t, 2, exec.calls)
}

func TestPollUntilRunsAtLeastOnce(t *testing.T) {
	exec := &countingExecutor{outputs: []string{"nope"}}
	_, err := PollUntil(context.Background(), exec, "echo nope",
		func(string) bool { return false }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 1, exec.calls)
}

func TestPollUntilWaitsBetweenAttempts(t *testing.T) {
	exec := &countingExecutor{outputs: []string{"x"}}
	delay := 20 * time.Millisecond

	start := time.Now()
	_, err := PollUntil(context.Background(), exec, "echo x",
		func(string) bool { return false }, 3, delay)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
}

func TestRetry(t *testing.T) {
	exec := &countingExecutor{
		outputs: []string{"", "", "done"},
		errs:    []error{errors.New("winrm busy"), errors.New("winrm busy")},
	}
	out, err := Retry(context.Background(), exec, "powershell Invoke-WebRequest", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, exec.calls)
}

func TestRemoteExecutionError(t *testing.T) {
	cause := errors.New("handshake failed")
	err := error(&RemoteExecutionError{Command: "hostname", Stderr: "denied", Err: cause})
	assert.ErrorIs(t, err, ErrRemoteExecution)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "denied")
}

func TestExecutorFunc(t *testing.T) {
	var exec Executor = ExecutorFunc(func(_ context.Context, cmd string) (string, error) {
		return "ran " + cmd, nil
	})
	out, err := exec.Execute(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, "ran hostname", out)
}

func TestClientConfigRequiresAuth(t *testing.T) {
	_, err := ClientConfig(SSHConfig{Address: "10.0.0.5:22", User: "Admin"})
	assert.Error(t, err)

	cfg, err := ClientConfig(SSHConfig{Address: "10.0.0.5:22", User: "Admin", Password: "Passw0rd"})
	require.NoError(t, err)
	assert.Equal(t, "Admin", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.Equal(t, 10*time.Second, cfg.Timeout)

	_, err = ClientConfig(SSHConfig{User: "Admin", PrivateKeyPath: "/nonexistent/id_rsa"})
	assert.ErrorContains(t, err, "unable to read private key")
}
