// Package checks holds the assertions run against a booted guest and the
// runner that turns them into a report.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/andrej220/guestcheck/internal/introspection"
	"github.com/andrej220/guestcheck/internal/parser"
)

var (
	// ErrSkipped marks a check whose prerequisites are absent.
	ErrSkipped = errors.New("skipped")
	// ErrMismatch is returned when the guest state differs from what is expected.
	ErrMismatch     = errors.New("unexpected guest state")
	ErrUnknownCheck = errors.New("unknown check")
)

// Skip returns an error that makes the runner report the check as skipped.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

func mismatch(what string, want, got any) error {
	return fmt.Errorf("%w: %s: want %v, got %v", ErrMismatch, what, want, got)
}

// Guest is the introspection surface the checks rely on.
type Guest interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
	Timezone(ctx context.Context) (string, error)
	Hostname(ctx context.Context) (string, error)
	NTPPeers(ctx context.Context) ([]string, error)
	MTU(ctx context.Context) (*string, error)
	KeysPath(ctx context.Context) (string, error)
	FileContent(ctx context.Context, path string) (string, error)
	CloudbaseinitTraceback(ctx context.Context) (string, error)
	GroupMembers(ctx context.Context, group string) ([]string, error)
	UserdataExecutedPlugins(ctx context.Context) (int64, error)
	DiskSize(ctx context.Context) (int64, error)
	NetworkInterfaces(ctx context.Context) ([]parser.NIC, error)
}

var _ Guest = (*introspection.Introspector)(nil)

// Expectations is what a correctly initialized guest looks like. Zero
// values disable the matching checks.
type Expectations struct {
	CreatedUser  string
	Timezone     string
	Hostname     string
	Group        string
	PublicKey    string
	PluginsCount int64
	MinDiskSize  int64
	// DnsmasqConfig is the dnsmasq file holding the forced DHCP options
	// served to the guest.
	DnsmasqConfig string
	NICs          []parser.NIC
}

// Env is passed to every check of a run.
type Env struct {
	Guest  Guest
	Expect Expectations
}

// dhcpOption reads key from the configured dnsmasq file. A missing file is
// a skip, not a failure.
func (e *Env) dhcpOption(key string) (string, error) {
	if e.Expect.DnsmasqConfig == "" {
		return "", Skip("dnsmasq is not configured")
	}
	f, err := os.Open(e.Expect.DnsmasqConfig)
	if errors.Is(err, os.ErrNotExist) {
		return "", Skip("dnsmasq config " + e.Expect.DnsmasqConfig + " does not exist")
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	value, ok, err := parser.DHCPOption(f, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: dhcp option %s is not forced in %s", ErrMismatch, key, e.Expect.DnsmasqConfig)
	}
	return value, nil
}

type Check struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

// Catalog returns every known check in execution order.
func Catalog() []Check {
	return []Check{
		{Name: "created-user", Run: createdUser},
		{Name: "timezone", Run: timezone},
		{Name: "hostname", Run: hostname},
		{Name: "ntp-peers", Run: ntpPeers},
		{Name: "mtu", Run: mtu},
		{Name: "ssh-public-keys", Run: sshPublicKeys},
		{Name: "no-traceback", Run: noTraceback},
		{Name: "group-membership", Run: groupMembership},
		{Name: "userdata-plugins", Run: userdataPlugins},
		{Name: "disk-expanded", Run: diskExpanded},
		{Name: "static-network", Run: staticNetwork},
	}
}

// Select returns the catalog checks named in names, in catalog order. An
// empty names selects the whole catalog.
func Select(names []string) ([]Check, error) {
	all := Catalog()
	if len(names) == 0 {
		return all, nil
	}
	for _, name := range names {
		if !slices.ContainsFunc(all, func(c Check) bool { return c.Name == name }) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCheck, name)
		}
	}
	return slices.DeleteFunc(all, func(c Check) bool { return !slices.Contains(names, c.Name) }), nil
}

func createdUser(ctx context.Context, env *Env) error {
	user := env.Expect.CreatedUser
	if user == "" {
		return Skip("no created user expected")
	}
	exists, err := env.Guest.UsernameExists(ctx, user)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: user %s does not exist", ErrMismatch, user)
	}
	return nil
}

func timezone(ctx context.Context, env *Env) error {
	if env.Expect.Timezone == "" {
		return Skip("no timezone expected")
	}
	tz, err := env.Guest.Timezone(ctx)
	if err != nil {
		return err
	}
	if got := strings.TrimSpace(tz); got != env.Expect.Timezone {
		return mismatch("timezone", env.Expect.Timezone, got)
	}
	return nil
}

// NetBIOS names are capped at 15 characters.
const maxHostnameLen = 15

func hostname(ctx context.Context, env *Env) error {
	if env.Expect.Hostname == "" {
		return Skip("no hostname expected")
	}
	want := env.Expect.Hostname
	if r := []rune(want); len(r) > maxHostnameLen {
		want = string(r[:maxHostnameLen])
	}
	want = strings.ToLower(want)

	got, err := env.Guest.Hostname(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return mismatch("hostname", want, got)
	}
	return nil
}

func ntpPeers(ctx context.Context, env *Env) error {
	option, err := env.dhcpOption("42")
	if err != nil {
		return err
	}
	want := strings.Split(option, ",")

	got, err := env.Guest.NTPPeers(ctx)
	if err != nil {
		return err
	}
	if !slices.Equal(want, got) {
		return mismatch("ntp peers", want, got)
	}
	return nil
}

func mtu(ctx context.Context, env *Env) error {
	want, err := env.dhcpOption("26")
	if err != nil {
		return err
	}
	got, err := env.Guest.MTU(ctx)
	if err != nil {
		return err
	}
	if got == nil {
		return fmt.Errorf("%w: no interface reports an mtu", ErrMismatch)
	}
	if *got != want {
		return mismatch("mtu", want, *got)
	}
	return nil
}

func sshPublicKeys(ctx context.Context, env *Env) error {
	if env.Expect.PublicKey == "" {
		return Skip("no public key expected")
	}
	path, err := env.Guest.KeysPath(ctx)
	if err != nil {
		return err
	}
	content, err := env.Guest.FileContent(ctx, path)
	if err != nil {
		return err
	}
	if got := strings.ReplaceAll(content, "\r\n", "\n"); got != env.Expect.PublicKey {
		return mismatch("authorized keys of "+path, env.Expect.PublicKey, got)
	}
	return nil
}

func noTraceback(ctx context.Context, env *Env) error {
	tb, err := env.Guest.CloudbaseinitTraceback(ctx)
	if err != nil {
		return err
	}
	if tb != "" {
		return fmt.Errorf("%w: cloudbase-init logged a traceback:\n%s", ErrMismatch, tb)
	}
	return nil
}

func groupMembership(ctx context.Context, env *Env) error {
	if env.Expect.Group == "" || env.Expect.CreatedUser == "" {
		return Skip("no group membership expected")
	}
	members, err := env.Guest.GroupMembers(ctx, env.Expect.Group)
	if err != nil {
		return err
	}
	if !slices.Contains(members, env.Expect.CreatedUser) {
		return fmt.Errorf("%w: %s is not a member of %s", ErrMismatch, env.Expect.CreatedUser, env.Expect.Group)
	}
	return nil
}

func userdataPlugins(ctx context.Context, env *Env) error {
	if env.Expect.PluginsCount == 0 {
		return Skip("no userdata plugin count expected")
	}
	got, err := env.Guest.UserdataExecutedPlugins(ctx)
	if err != nil {
		return err
	}
	if got != env.Expect.PluginsCount {
		return mismatch("userdata plugins", env.Expect.PluginsCount, got)
	}
	return nil
}

func diskExpanded(ctx context.Context, env *Env) error {
	if env.Expect.MinDiskSize == 0 {
		return Skip("no image size known")
	}
	got, err := env.Guest.DiskSize(ctx)
	if err != nil {
		return err
	}
	if got <= env.Expect.MinDiskSize {
		return fmt.Errorf("%w: disk size %d not above image size %d", ErrMismatch, got, env.Expect.MinDiskSize)
	}
	return nil
}

func staticNetwork(ctx context.Context, env *Env) error {
	if len(env.Expect.NICs) == 0 {
		return Skip("no expected nics configured")
	}
	got, err := env.Guest.NetworkInterfaces(ctx)
	if err != nil {
		return err
	}
	want := staticOnly(env.Expect.NICs)
	got = staticOnly(got)
	introspection.SortNICsByMAC(want)
	introspection.SortNICsByMAC(got)

	if !slices.EqualFunc(want, got, equalNIC) {
		return mismatch("static nics", describe(want), describe(got))
	}
	return nil
}

func staticOnly(nics []parser.NIC) []parser.NIC {
	out := make([]parser.NIC, 0, len(nics))
	for _, nic := range nics {
		if nic.DHCP != nil && *nic.DHCP {
			continue
		}
		out = append(out, nic)
	}
	return out
}

func equalNIC(a, b parser.NIC) bool {
	return equalPtr(a.MAC, b.MAC) &&
		equalPtr(a.Address, b.Address) && equalPtr(a.Address6, b.Address6) &&
		equalPtr(a.Gateway, b.Gateway) && equalPtr(a.Gateway6, b.Gateway6) &&
		equalPtr(a.Netmask, b.Netmask) && equalPtr(a.Netmask6, b.Netmask6) &&
		slices.Equal(a.DNS, b.DNS) && slices.Equal(a.DNS6, b.DNS6) &&
		equalPtr(a.DHCP, b.DHCP)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func describe(nics []parser.NIC) []string {
	out := make([]string, len(nics))
	for i, nic := range nics {
		out[i] = fmt.Sprintf("mac=%s address=%s/%s gateway=%s address6=%s/%s gateway6=%s dns=%v dns6=%v",
			str(nic.MAC), str(nic.Address), str(nic.Netmask), str(nic.Gateway),
			str(nic.Address6), str(nic.Netmask6), str(nic.Gateway6), nic.DNS, nic.DNS6)
	}
	return out
}

func str(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
