package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/andrej220/guestcheck/internal/lg"
)

var _ Session = (*SSHExecutor)(nil)

// SSHExecutor runs commands on a Windows guest through its OpenSSH server.
type SSHExecutor struct {
	client *ResilientSSHClient
}

func NewSSHExecutor(client *ResilientSSHClient) *SSHExecutor {
	return &SSHExecutor{client: client}
}

// DialSSH connects to the guest described by cfg.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHExecutor, error) {
	clientCfg, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := NewResilientClient(ctx, cfg.Address, clientCfg, nil)
	if err != nil {
		return nil, &RemoteExecutionError{Command: "dial " + cfg.Address, Err: err}
	}
	return NewSSHExecutor(client), nil
}

func (e *SSHExecutor) Execute(ctx context.Context, command string) (string, error) {
	return e.run(ctx, command, nil)
}

// CopyFile streams the file base64 encoded over stdin and lets PowerShell
// decode it, which avoids the cmd.exe command line length limit.
func (e *SSHExecutor) CopyFile(ctx context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	encoded := base64.StdEncoding.EncodeToString(content)
	target := strings.ReplaceAll(remotePath, "'", "''")
	cmd := fmt.Sprintf(`powershell -NoProfile -NonInteractive -Command "$b64 = [Console]::In.ReadToEnd(); `+
		`[IO.File]::WriteAllBytes('%s', [Convert]::FromBase64String($b64.Trim()))"`, target)
	_, err = e.run(ctx, cmd, strings.NewReader(encoded))
	return err
}

func (e *SSHExecutor) Close() error {
	return e.client.Close()
}

func (e *SSHExecutor) run(ctx context.Context, command string, stdin *strings.Reader) (string, error) {
	logger := lg.FromContext(ctx)

	sess, err := e.client.NewSession(ctx)
	if err != nil {
		return "", &RemoteExecutionError{Command: command, Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	logger.Debug("running remote command", lg.String("command", command))
	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return "", &RemoteExecutionError{Command: command, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return stdout.String(), &RemoteExecutionError{Command: command, Stderr: stderr.String(), Err: err}
		}
	}
	return stdout.String(), nil
}
