package introspection

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

//go:embed scripts/*.ps1
var scripts embed.FS

const tempDirPrefix = "cloudbaseinit-ci-tests"

// withTempFile writes content to a file inside a fresh temporary directory
// and calls fn with its path. The directory is removed on every return path.
func withTempFile(content string, fn func(path string) error) error {
	dir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	f, err := os.CreateTemp(dir, "script-*.ps1")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	return fn(f.Name())
}

// randomScriptPath returns a unique script location at the root of C:.
func randomScriptPath() string {
	return `C:\` + strings.ReplaceAll(uuid.NewString(), "-", "")[:16] + ".ps1"
}

// runScript uploads the embedded script name to the guest and runs it with
// PowerShell, returning its trimmed output.
func (i *Introspector) runScript(ctx context.Context, name string, args ...string) (string, error) {
	code, err := scripts.ReadFile("scripts/" + name)
	if err != nil {
		return "", fmt.Errorf("load script %s: %w", name, err)
	}

	remote := randomScriptPath()
	var stdout string
	err = withTempFile(string(code), func(path string) error {
		if err := i.copier.CopyFile(ctx, path, remote); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
		cmd := strings.Join(append([]string{"powershell", remote}, args...), " ")
		out, err := i.exec.Execute(ctx, cmd)
		stdout = out
		return err
	})
	return strings.TrimSpace(stdout), err
}
