// Package introspection queries the state of a Windows guest after
// cloudbase-init ran, by executing commands over the guest's remote shell.
package introspection

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/andrej220/guestcheck/internal/executor"
	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/internal/parser"
)

const networkDetailsScript = `C:\network_details.ps1`

// cloudconfigPlugins are the files written by the cloud-config userdata
// used in the test images, one per encoding.
var cloudconfigPlugins = []string{
	"b64", "b64_1",
	"gzip", "gzip_1",
	"gzip_base64", "gzip_base64_1", "gzip_base64_2",
}

// Options configures an Introspector.
type Options struct {
	// CreatedUser is the account cloudbase-init is expected to create.
	CreatedUser string
	// ResourcesURL serves the helper scripts downloaded by the guest.
	ResourcesURL string
	// RetryCount and RetryDelay bound the retries of resource downloads.
	RetryCount int
	RetryDelay time.Duration
}

// Introspector runs introspection commands on a single guest.
type Introspector struct {
	exec   executor.Executor
	copier executor.FileCopier
	opts   Options
}

func New(exec executor.Executor, copier executor.FileCopier, opts Options) *Introspector {
	if opts.RetryCount < 1 {
		opts.RetryCount = 5
	}
	return &Introspector{exec: exec, copier: copier, opts: opts}
}

func (i *Introspector) run(ctx context.Context, cmd string) (string, error) {
	out, err := i.exec.Execute(ctx, cmd)
	if err != nil {
		return out, err
	}
	lg.FromContext(ctx).Debug("introspection output", lg.String("command", cmd), lg.Int("bytes", len(out)))
	return out, nil
}

// DiskSize returns the size in bytes of the C: volume.
func (i *Introspector) DiskSize(ctx context.Context) (int64, error) {
	out, err := i.run(ctx, `powershell (Get-WmiObject "win32_logicaldisk | where -Property DeviceID -Match C:").Size`)
	if err != nil {
		return 0, err
	}
	return parser.ParseInt(out)
}

func (i *Introspector) UsernameExists(ctx context.Context, username string) (bool, error) {
	cmd := fmt.Sprintf(`powershell "Get-WmiObject Win32_Account | where -Property Name -contains %s"`, username)
	out, err := i.run(ctx, cmd)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (i *Introspector) NTPPeers(ctx context.Context) ([]string, error) {
	out, err := i.run(ctx, "w32tm /query /peers")
	if err != nil {
		return nil, err
	}
	return parser.ParseNTPPeers(out), nil
}

// KeysPath returns the authorized_keys location of the created user. The
// remote shell starts in the connecting user's profile directory, whose
// parent holds every profile.
func (i *Introspector) KeysPath(ctx context.Context) (string, error) {
	out, err := i.run(ctx, "echo %cd%")
	if err != nil {
		return "", err
	}
	home := winDir(strings.TrimSpace(out))
	return winJoin(home, i.opts.CreatedUser, ".ssh", "authorized_keys"), nil
}

func (i *Introspector) FileContent(ctx context.Context, path string) (string, error) {
	return i.run(ctx, fmt.Sprintf(`powershell "cat %s"`, path))
}

// UserdataExecutedPlugins counts the marker files the userdata scripts
// leave at the root of C:.
func (i *Introspector) UserdataExecutedPlugins(ctx context.Context) (int64, error) {
	out, err := i.run(ctx, `powershell "(Get-ChildItem -Path  C:\ *.txt).Count`)
	if err != nil {
		return 0, err
	}
	return parser.ParseInt(out)
}

// MTU returns the MTU of the first non loopback interface, or nil when
// netsh lists none.
func (i *Introspector) MTU(ctx context.Context) (*string, error) {
	out, err := i.run(ctx, "netsh interface ipv4 show subinterfaces level=verbose")
	if err != nil {
		return nil, err
	}
	return parser.FirstMTU(out), nil
}

// CloudbaseinitTraceback returns every traceback logged by cloudbase-init,
// or an empty string.
func (i *Introspector) CloudbaseinitTraceback(ctx context.Context) (string, error) {
	return i.runScript(ctx, "get_traceback.ps1")
}

func (i *Introspector) UserFlags(ctx context.Context, user string) (string, error) {
	return i.runScript(ctx, "get_user_flags.ps1", user)
}

func (i *Introspector) fileExists(ctx context.Context, path string) (bool, error) {
	out, err := i.run(ctx, fmt.Sprintf(`powershell "Test-Path %s"`, path))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "True", nil
}

// ExeScriptExecuted reports whether the .exe userdata script left its marker.
func (i *Introspector) ExeScriptExecuted(ctx context.Context) (bool, error) {
	return i.fileExists(ctx, `C:\Scripts\exe.output`)
}

func (i *Introspector) GroupMembers(ctx context.Context, group string) ([]string, error) {
	out, err := i.run(ctx, "net localgroup "+group)
	if err != nil {
		return nil, err
	}
	return parser.ParseGroupMembers(out)
}

func (i *Introspector) ListLocation(ctx context.Context, location string) ([]string, error) {
	out, err := i.run(ctx, fmt.Sprintf("dir %s /b", location))
	if err != nil {
		return nil, err
	}
	return parser.NonEmptyLines(out), nil
}

// ServiceTriggers returns the start and stop triggers of service.
func (i *Introspector) ServiceTriggers(ctx context.Context, service string) (start, stop string, err error) {
	out, err := i.run(ctx, "sc qtriggerinfo "+service)
	if err != nil {
		return "", "", err
	}
	return parser.ParseServiceTriggers(out)
}

func (i *Introspector) OSVersion(ctx context.Context) (major, minor int, err error) {
	out, err := i.run(ctx, "powershell (Get-CimInstance Win32_OperatingSystem).Version")
	if err != nil {
		return 0, 0, err
	}
	return parser.ParseOSVersion(out)
}

// CloudconfigExecutedPlugins returns the trimmed content of each file the
// cloud-config plugins are expected to write, keyed by file name.
func (i *Introspector) CloudconfigExecutedPlugins(ctx context.Context) (map[string]string, error) {
	files := make(map[string]string, len(cloudconfigPlugins))
	for _, name := range cloudconfigPlugins {
		content, err := i.FileContent(ctx, winJoin(`C:\`, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files[name] = strings.TrimSpace(content)
	}
	return files, nil
}

func (i *Introspector) Timezone(ctx context.Context) (string, error) {
	return i.run(ctx, "powershell [System.TimeZone]::CurrentTimeZone.StandardName")
}

func (i *Introspector) Hostname(ctx context.Context) (string, error) {
	out, err := i.run(ctx, "hostname")
	if err != nil {
		return "", err
	}
	return parser.NormalizeHostname(out), nil
}

// NetworkInterfaces downloads network_details.ps1 onto the guest, runs it
// and parses one NIC per adapter.
func (i *Introspector) NetworkInterfaces(ctx context.Context) ([]parser.NIC, error) {
	source, err := url.JoinPath(i.opts.ResourcesURL, "windows", "network_details.ps1")
	if err != nil {
		return nil, fmt.Errorf("resources url: %w", err)
	}
	download := fmt.Sprintf("powershell Invoke-WebRequest -uri %s -outfile %s", source, networkDetailsScript)
	if _, err := executor.Retry(ctx, i.exec, download, i.opts.RetryCount, i.opts.RetryDelay); err != nil {
		return nil, err
	}

	out, err := i.run(ctx, "powershell "+networkDetailsScript)
	if err != nil {
		return nil, err
	}
	return parser.ParseNetworkDetails(out)
}

// SortNICsByMAC orders nics by hardware address, nil addresses first.
func SortNICsByMAC(nics []parser.NIC) {
	slices.SortStableFunc(nics, func(a, b parser.NIC) int {
		return strings.Compare(deref(a.MAC), deref(b.MAC))
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
