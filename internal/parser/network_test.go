package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var (
	staticBlock = block(
		"mac 00:15:5D:64:98:60",
		"address 10.0.0.5 fe80::a1b2:c3d4 2001:db8::5",
		"gateway 10.0.0.1 2001:db8::1",
		"netmask 255.255.255.0 64 64",
		"dns 8.8.8.8 8.8.4.4 2001:4860::1",
		"dhcp False",
	)
	dhcpBlock = block(
		"mac 00:15:5D:64:98:61",
		"address 192.168.1.10",
		"gateway",
		"netmask 255.255.255.0",
		"dns 192.168.1.1",
		"dhcp True",
	)
)

func joinBlocks(blocks ...string) string {
	return Sentinel + strings.Join(blocks, Sentinel)
}

func TestParseNetworkDetails(t *testing.T) {
	nics, err := ParseNetworkDetails(joinBlocks(staticBlock, dhcpBlock))
	require.NoError(t, err)
	require.Len(t, nics, 2)

	want := NIC{
		MAC:      ptr("00:15:5D:64:98:60"),
		Address:  ptr("10.0.0.5"),
		Address6: ptr("2001:db8::5"),
		Gateway:  ptr("10.0.0.1"),
		Gateway6: ptr("2001:db8::1"),
		Netmask:  ptr("255.255.255.0"),
		Netmask6: ptr("64"),
		DNS:      []string{"8.8.8.8", "8.8.4.4"},
		DNS6:     []string{"2001:4860::1"},
		DHCP:     ptr(false),
	}
	assert.Equal(t, want, nics[0])

	assert.Equal(t, "00:15:5D:64:98:61", *nics[1].MAC)
	assert.Equal(t, "192.168.1.10", *nics[1].Address)
	assert.Nil(t, nics[1].Address6)
	assert.Nil(t, nics[1].Gateway)
	assert.Nil(t, nics[1].Gateway6)
	assert.Nil(t, nics[1].Netmask6)
	assert.Equal(t, []string{"192.168.1.1"}, nics[1].DNS)
	assert.Nil(t, nics[1].DNS6)
	assert.True(t, *nics[1].DHCP)
}

func TestParseNetworkDetailsKeepsBlockOrder(t *testing.T) {
	for k := 0; k <= 4; k++ {
		blocks := make([]string, k)
		for i := range blocks {
			if i%2 == 0 {
				blocks[i] = staticBlock
			} else {
				blocks[i] = dhcpBlock
			}
		}
		nics, err := ParseNetworkDetails(joinBlocks(blocks...))
		require.NoError(t, err)
		require.Len(t, nics, k)
		for i, nic := range nics {
			if i%2 == 0 {
				assert.Equal(t, "00:15:5D:64:98:60", *nic.MAC)
			} else {
				assert.Equal(t, "00:15:5D:64:98:61", *nic.MAC)
			}
		}
	}
}

func TestParseNetworkDetailsDropsShortBlocks(t *testing.T) {
	short := block(
		"mac 00:15:5D:64:98:62",
		"address 10.1.0.5",
		"",
		"dhcp True",
	)
	nics, err := ParseNetworkDetails(joinBlocks(staticBlock, short, dhcpBlock))
	require.NoError(t, err)
	require.Len(t, nics, 2)
	assert.Equal(t, "00:15:5D:64:98:60", *nics[0].MAC)
	assert.Equal(t, "00:15:5D:64:98:61", *nics[1].MAC)
}

func TestParseNetworkDetailsMissingRequiredIPv4(t *testing.T) {
	broken := block(
		"mac 00:15:5D:64:98:62",
		"address fe80::1",
		"gateway 10.0.0.1",
		"netmask 255.255.255.0",
		"dns 10.0.0.2",
		"dhcp False",
	)
	_, err := ParseNetworkDetails(joinBlocks(broken))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingIPv4)
}

func TestParseNetworkDetailsIdempotent(t *testing.T) {
	raw := joinBlocks(staticBlock, dhcpBlock)
	first, err := ParseNetworkDetails(raw)
	require.NoError(t, err)
	second, err := ParseNetworkDetails(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseNICDetailsFieldRules(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, d NICDetails)
	}{
		{
			name: "address keeps the second IPv6",
			line: "address 10.0.0.1 2001:db8::1 fe80::2",
			check: func(t *testing.T, d NICDetails) {
				assert.Equal(t, "10.0.0.1", *d.Address.V4)
				assert.Equal(t, "fe80::2", *d.Address.V6)
			},
		},
		{
			name: "address drops a lone IPv6",
			line: "address 10.0.0.1 2001:db8::1",
			check: func(t *testing.T, d NICDetails) {
				assert.Equal(t, "10.0.0.1", *d.Address.V4)
				assert.Nil(t, d.Address.V6)
			},
		},
		{
			name: "gateway keeps the first IPv6",
			line: "gateway 2001:db8::1 10.0.0.1 2001:db8::2",
			check: func(t *testing.T, d NICDetails) {
				assert.Equal(t, "10.0.0.1", *d.Gateway.V4)
				assert.Equal(t, "2001:db8::1", *d.Gateway.V6)
			},
		},
		{
			name: "dns keeps every value",
			line: "dns 8.8.8.8 8.8.4.4 2001:4860::1",
			check: func(t *testing.T, d NICDetails) {
				assert.Equal(t, []string{"8.8.8.8", "8.8.4.4"}, d.DNS.V4)
				assert.Equal(t, []string{"2001:4860::1"}, d.DNS.V6)
			},
		},
		{
			name: "values without markers count as IPv6",
			line: "netmask 255.255.255.0 64 48",
			check: func(t *testing.T, d NICDetails) {
				assert.Equal(t, "255.255.255.0", *d.Netmask.V4)
				assert.Equal(t, "48", *d.Netmask.V6)
			},
		},
		{
			name: "dhcp is case insensitive",
			line: "dhcp TRUE",
			check: func(t *testing.T, d NICDetails) {
				assert.True(t, *d.DHCP)
			},
		},
		{
			name: "keys are case sensitive",
			line: "MAC 00:15:5D:64:98:60",
			check: func(t *testing.T, d NICDetails) {
				assert.Nil(t, d.MAC)
			},
		},
		{
			name: "unknown keys are ignored",
			line: "mtu 1500",
			check: func(t *testing.T, d NICDetails) {
				assert.Equal(t, NICDetails{}, d)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseNICDetails([]string{tt.line})
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}
