package introspection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andrej220/guestcheck/internal/executor"
	"github.com/andrej220/guestcheck/internal/executor/executortest"
	"github.com/andrej220/guestcheck/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntrospector(f *executortest.Fake) *Introspector {
	return New(f, f, Options{
		CreatedUser:  "Admin",
		ResourcesURL: "http://resources.local/ci/",
		RetryCount:   3,
		RetryDelay:   time.Millisecond,
	})
}

func TestKeysPath(t *testing.T) {
	f := executortest.NewFake().On("echo %cd%", "C:\\Users\\cloudbase\r\n")

	path, err := newIntrospector(f).KeysPath(context.Background())

	require.NoError(t, err)
	assert.Equal(t, `C:\Users\Admin\.ssh\authorized_keys`, path)
}

func TestScalarQueries(t *testing.T) {
	f := executortest.NewFake().
		On("win32_logicaldisk", "42949672960\r\n").
		On("Get-ChildItem -Path", "4\r\n").
		On("hostname", "WIN-TEST01\r\n").
		On("Version", "10.0.17763\r\n").
		On("Win32_Account", "").
		On("Test-Path C:\\Scripts\\exe.output", "True\r\n")
	in := newIntrospector(f)
	ctx := context.Background()

	size, err := in.DiskSize(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 42949672960, size)

	count, err := in.UserdataExecutedPlugins(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	host, err := in.Hostname(ctx)
	require.NoError(t, err)
	assert.Equal(t, "win-test01", host)

	major, minor, err := in.OSVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, major)
	assert.Equal(t, 0, minor)

	exists, err := in.UsernameExists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, exists)

	executed, err := in.ExeScriptExecuted(ctx)
	require.NoError(t, err)
	assert.True(t, executed)
}

func TestNTPPeersAndMTU(t *testing.T) {
	f := executortest.NewFake().
		On("w32tm", "#Peers: 1\r\n\r\nPeer: 10.0.0.1\r\nState: Active\r\n").
		On("netsh", "")
	in := newIntrospector(f)

	peers, err := in.NTPPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, peers)

	mtu, err := in.MTU(context.Background())
	require.NoError(t, err)
	assert.Nil(t, mtu)
}

func TestCloudconfigExecutedPlugins(t *testing.T) {
	f := executortest.NewFake().On(`powershell "cat C:\`, "42\r\n")

	files, err := newIntrospector(f).CloudconfigExecutedPlugins(context.Background())

	require.NoError(t, err)
	assert.Len(t, files, len(cloudconfigPlugins))
	assert.Equal(t, "42", files["gzip_base64_2"])
	assert.Equal(t, 1, f.Calls(`C:\b64_1`))
}

func TestCloudconfigExecutedPluginsMissingFile(t *testing.T) {
	f := executortest.NewFake().On(`C:\b64"`, "ok")

	_, err := newIntrospector(f).CloudconfigExecutedPlugins(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrRemoteExecution)
	assert.Contains(t, err.Error(), "b64_1")
}

func TestNetworkInterfacesRetriesDownload(t *testing.T) {
	details := strings.Join([]string{
		"mac 00:15:5D:64:98:60",
		"address 192.168.1.10",
		"gateway 192.168.1.1",
		"netmask 255.255.255.0",
		"dns 8.8.8.8",
		"dhcp False",
	}, "\r\n") + "\r\n" + parser.Sentinel

	f := executortest.NewFake().
		OnResponse("Invoke-WebRequest", executortest.Response{Err: errors.New("connection reset")}).
		On(`powershell C:\network_details.ps1`, details)
	in := newIntrospector(f)

	_, err := in.NetworkInterfaces(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrPollTimeout)
	assert.Equal(t, 3, f.Calls("Invoke-WebRequest"))
	assert.Equal(t, 0, f.Calls(`powershell C:\network_details.ps1`))

	f = executortest.NewFake().
		On("Invoke-WebRequest", "").
		On(`powershell C:\network_details.ps1`, details)
	nics, err := newIntrospector(f).NetworkInterfaces(context.Background())
	require.NoError(t, err)
	require.Len(t, nics, 1)
	assert.Equal(t, "00:15:5D:64:98:60", *nics[0].MAC)
	assert.Contains(t, f.Commands[0], "http://resources.local/ci/windows/network_details.ps1")
}

func TestSortNICsByMAC(t *testing.T) {
	b, a := "00:02", "00:01"
	nics := []parser.NIC{{MAC: &b}, {MAC: nil}, {MAC: &a}}

	SortNICsByMAC(nics)

	assert.Nil(t, nics[0].MAC)
	assert.Equal(t, a, *nics[1].MAC)
	assert.Equal(t, b, *nics[2].MAC)
}

func TestCloudbaseinitTracebackStagesScript(t *testing.T) {
	f := executortest.NewFake().On("powershell C:\\", "  \r\n")

	out, err := newIntrospector(f).CloudbaseinitTraceback(context.Background())

	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, f.Copied, 1)
	for remote, content := range f.Copied {
		assert.Regexp(t, `^C:\\[0-9a-f]{16}\.ps1$`, remote)
		assert.Contains(t, content, "Traceback")
	}
}

func TestUserFlagsPassesUser(t *testing.T) {
	f := executortest.NewFake().On(" Admin", "66049\r\n")

	flags, err := newIntrospector(f).UserFlags(context.Background(), "Admin")

	require.NoError(t, err)
	assert.Equal(t, "66049", flags)
}

func TestWithTempFileRemovesDir(t *testing.T) {
	var staged string
	boom := errors.New("boom")

	err := withTempFile("Write-Output 1", func(path string) error {
		staged = path
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Write-Output 1", string(content))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, filepath.Base(filepath.Dir(staged)), tempDirPrefix)
	_, statErr := os.Stat(filepath.Dir(staged))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCbinitDir(t *testing.T) {
	tests := []struct {
		name    string
		fake    *executortest.Fake
		want    string
		wantErr error
	}{
		{
			name: "x86 install on 64-bit guest",
			fake: executortest.NewFake().
				On("OSArchitecture", "64-bit\r\n").
				On("$ENV:ProgramFiles\"", "C:\\Program Files\r\n").
				On("ProgramFiles(x86)", "C:\\Program Files (x86)\r\n").
				On("Test-Path \"C:\\Program` Files\\", "False\r\n").
				On("Test-Path \"C:\\Program` Files` `(x86`)", "True\r\n"),
			want: `C:\Program Files (x86)\Cloudbase Solutions\Cloudbase-Init`,
		},
		{
			name: "32-bit guest without install",
			fake: executortest.NewFake().
				On("OSArchitecture", "32-bit\r\n").
				On("$ENV:ProgramFiles\"", "C:\\Program Files\r\n").
				On("Test-Path", "False\r\n"),
			wantErr: ErrCbinitNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir, err := newIntrospector(tc.fake).CbinitDir(context.Background())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, 0, tc.fake.Calls("ProgramFiles(x86)"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, dir)
		})
	}
}

func TestSetConfigOption(t *testing.T) {
	f := executortest.NewFake().
		On("OSArchitecture", "32-bit\r\n").
		On("$ENV:ProgramFiles\"", "C:\\Program Files\r\n").
		On("Test-Path", "True\r\n").
		On("Set-Content", "")

	err := newIntrospector(f).SetConfigOption(context.Background(), "mtu_use_dhcp_config", "False")

	require.NoError(t, err)
	last := f.Commands[len(f.Commands)-1]
	assert.Contains(t, last, `'C:\Program Files\Cloudbase Solutions\Cloudbase-Init\conf\cloudbase-init.conf'`)
	assert.Contains(t, last, `'mtu_use_dhcp_config = False'`)
}
