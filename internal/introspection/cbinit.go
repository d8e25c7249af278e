package introspection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/guestcheck/internal/parser"
)

var (
	ErrCbinitNotFound = errors.New("cloudbase-init installation dir not found")
	ErrPythonNotFound = errors.New("python dir not found in cloudbase-init installation")
)

const (
	cbinitKey    = `HKLM:SOFTWARE\Cloudbase` + "`" + ` Solutions\Cloudbase-init`
	cbinitKeyX64 = `HKLM:SOFTWARE\Wow6432Node\Cloudbase` + "`" + ` Solutions\Cloudbase-init`
)

// CbinitDir locates the cloudbase-init installation directory, looking in
// Program Files and, on 64-bit guests, in Program Files (x86).
func (i *Introspector) CbinitDir(ctx context.Context) (string, error) {
	arch, err := i.run(ctx, `powershell "(Get-CimInstance  Win32_OperatingSystem).OSArchitecture"`)
	if err != nil {
		return "", err
	}

	programFiles, err := i.run(ctx, `powershell "$ENV:ProgramFiles"`)
	if err != nil {
		return "", err
	}
	locations := []string{programFiles}
	if strings.TrimSpace(arch) == "64-bit" {
		x86, err := i.run(ctx, `powershell "${ENV:ProgramFiles(x86)}"`)
		if err != nil {
			return "", err
		}
		locations = append(locations, x86)
	}

	for _, location := range locations {
		location = strings.TrimSpace(location)
		cmd := fmt.Sprintf(`powershell Test-Path "%s\Cloudbase`+"`"+` Solutions"`, parser.EscapePath(location))
		status, err := i.run(ctx, cmd)
		if err != nil {
			return "", err
		}
		if parser.ParseBool(status) {
			return winJoin(location, "Cloudbase Solutions", "Cloudbase-Init"), nil
		}
	}
	return "", ErrCbinitNotFound
}

// SetConfigOption appends "option = value" to cloudbase-init.conf.
func (i *Introspector) SetConfigOption(ctx context.Context, option, value string) error {
	cbdir, err := i.CbinitDir(ctx)
	if err != nil {
		return err
	}
	conf := psQuote(winJoin(cbdir, "conf", "cloudbase-init.conf"))
	line := psQuote(fmt.Sprintf("%s = %s", option, value))
	_, err = i.run(ctx, fmt.Sprintf(`powershell "((Get-Content %s) + %s) | Set-Content %s"`, conf, line, conf))
	return err
}

// PythonDir returns the embedded Python directory of the installation.
func (i *Introspector) PythonDir(ctx context.Context) (string, error) {
	cbdir, err := i.CbinitDir(ctx)
	if err != nil {
		return "", err
	}
	out, err := i.run(ctx, fmt.Sprintf(`dir "%s" /b`, cbdir))
	if err != nil {
		return "", err
	}
	for _, name := range parser.NonEmptyLines(out) {
		if strings.Contains(strings.ToLower(name), "python") {
			return winJoin(cbdir, name), nil
		}
	}
	return "", ErrPythonNotFound
}

// CbinitKey returns the registry key cloudbase-init stores its state under.
func (i *Introspector) CbinitKey(ctx context.Context) (string, error) {
	out, err := i.run(ctx, fmt.Sprintf(`powershell "Test-Path %s"`, cbinitKey))
	if err != nil {
		return "", err
	}
	if parser.ParseBool(out) {
		return cbinitKey, nil
	}
	return cbinitKeyX64, nil
}
