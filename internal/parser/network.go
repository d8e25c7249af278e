// Package parser turns the text printed by Windows introspection commands
// (network_details.ps1, w32tm, net localgroup, sc, netsh) into typed values.
//
// All functions are pure: the same input always yields the same result.
package parser

import (
	"fmt"
	"strings"
)

// Sentinel separates the per-adapter blocks printed by network_details.ps1.
// The script also prints it once as a header before the first block.
const Sentinel = "----\r\n"

// minDetailLines is the number of lines a block needs to be considered
// complete: one per NIC key.
const minDetailLines = 6

// NIC keys as printed at the start of each detail line.
const (
	KeyMAC     = "mac"
	KeyAddress = "address"
	KeyGateway = "gateway"
	KeyNetmask = "netmask"
	KeyDNS     = "dns"
	KeyDHCP    = "dhcp"
)

// Address holds the IPv4 and IPv6 variants of one value. Either may be nil.
type Address struct {
	V4 *string `json:"v4" yaml:"v4"`
	V6 *string `json:"v6" yaml:"v6"`
}

// AddressList is the list valued counterpart of Address, used for DNS.
type AddressList struct {
	V4 []string `json:"v4" yaml:"v4"`
	V6 []string `json:"v6" yaml:"v6"`
}

// NICDetails is the structured form of one detail block. Fields absent from
// the block stay nil.
type NICDetails struct {
	MAC     *string
	Address *Address
	Gateway *Address
	Netmask *Address
	DNS     *AddressList
	DHCP    *bool
}

// NIC is the flattened adapter record compared against the network
// configuration the cloud handed to the guest.
type NIC struct {
	MAC      *string  `json:"mac" yaml:"mac" bson:"mac"`
	Address  *string  `json:"address" yaml:"address" bson:"address"`
	Address6 *string  `json:"address6" yaml:"address6" bson:"address6"`
	Gateway  *string  `json:"gateway" yaml:"gateway" bson:"gateway"`
	Gateway6 *string  `json:"gateway6" yaml:"gateway6" bson:"gateway6"`
	Netmask  *string  `json:"netmask" yaml:"netmask" bson:"netmask"`
	Netmask6 *string  `json:"netmask6" yaml:"netmask6" bson:"netmask6"`
	DNS      []string `json:"dns" yaml:"dns" bson:"dns"`
	DNS6     []string `json:"dns6" yaml:"dns6" bson:"dns6"`
	DHCP     *bool    `json:"dhcp" yaml:"dhcp" bson:"dhcp"`
}

// Flatten converts details into the NIC record layout.
func (d NICDetails) Flatten() NIC {
	nic := NIC{MAC: d.MAC, DHCP: d.DHCP}
	if d.Address != nil {
		nic.Address, nic.Address6 = d.Address.V4, d.Address.V6
	}
	if d.Gateway != nil {
		nic.Gateway, nic.Gateway6 = d.Gateway.V4, d.Gateway.V6
	}
	if d.Netmask != nil {
		nic.Netmask, nic.Netmask6 = d.Netmask.V4, d.Netmask.V6
	}
	if d.DNS != nil {
		nic.DNS, nic.DNS6 = d.DNS.V4, d.DNS.V6
	}
	return nic
}

// detailParser fills the field it owns from the space separated tokens of a
// detail line. tokens[0] is always the key itself.
type detailParser func(tokens []string, d *NICDetails) error

var detailParsers = map[string]detailParser{
	KeyMAC:     parseMAC,
	KeyAddress: parseAddress,
	KeyGateway: parseGateway,
	KeyNetmask: parseNetmask,
	KeyDNS:     parseDNS,
	KeyDHCP:    parseDHCP,
}

// ParseNetworkDetails parses the output of network_details.ps1 into one NIC
// per complete adapter block, in output order. Blocks with fewer than six
// lines are dropped.
func ParseNetworkDetails(output string) ([]NIC, error) {
	output = strings.Replace(output, Sentinel, "", 1)

	var nics []NIC
	for i, block := range strings.Split(output, Sentinel) {
		lines := NonEmptyLines(block)
		if len(lines) < minDetailLines {
			continue
		}
		details, err := ParseNICDetails(lines)
		if err != nil {
			return nil, fmt.Errorf("adapter block %d: %w", i, err)
		}
		nics = append(nics, details.Flatten())
	}
	return nics, nil
}

// ParseNICDetails parses the detail lines of a single adapter block. Lines
// with an unknown key are ignored.
func ParseNICDetails(lines []string) (NICDetails, error) {
	var d NICDetails
	for _, line := range lines {
		tokens := strings.Split(line, " ")
		parse, ok := detailParsers[tokens[0]]
		if !ok {
			continue
		}
		if err := parse(tokens, &d); err != nil {
			return NICDetails{}, err
		}
	}
	return d, nil
}

func parseMAC(tokens []string, d *NICDetails) error {
	if values := nonEmpty(tokens[1:]); len(values) > 0 {
		d.MAC = ptr(values[0])
	}
	return nil
}

func parseAddress(tokens []string, d *NICDetails) error {
	addr, err := requiredV4Address(KeyAddress, tokens)
	if err != nil {
		return err
	}
	d.Address = addr
	return nil
}

func parseNetmask(tokens []string, d *NICDetails) error {
	mask, err := requiredV4Address(KeyNetmask, tokens)
	if err != nil {
		return err
	}
	d.Netmask = mask
	return nil
}

func parseGateway(tokens []string, d *NICDetails) error {
	v4s, v6s := splitIPs(tokens)
	d.Gateway = &Address{V4: first(v4s), V6: first(v6s)}
	return nil
}

func parseDNS(tokens []string, d *NICDetails) error {
	v4s, v6s := splitIPs(tokens)
	d.DNS = &AddressList{V4: v4s, V6: v6s}
	return nil
}

func parseDHCP(tokens []string, d *NICDetails) error {
	if values := nonEmpty(tokens[1:]); len(values) > 0 {
		d.DHCP = ptr(strings.EqualFold(values[0], "true"))
	}
	return nil
}

// requiredV4Address applies the address/netmask selection rule: the first
// IPv4 is mandatory and the IPv6 is the second one listed. A lone IPv6 is
// dropped. Gateways do not follow this rule, see parseGateway.
func requiredV4Address(key string, tokens []string) (*Address, error) {
	v4s, v6s := splitIPs(tokens)
	if len(v4s) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingIPv4, key)
	}
	addr := &Address{V4: ptr(v4s[0])}
	if len(v6s) >= 2 {
		addr.V6 = ptr(v6s[1])
	}
	return addr, nil
}

// splitIPs classifies the values of a detail line, skipping the key header.
// A value is IPv4 when it has a dot and no colon; anything else, including
// values with neither, is treated as IPv6.
func splitIPs(tokens []string) (v4s, v6s []string) {
	if len(tokens) < 2 {
		return nil, nil
	}
	for _, ip := range tokens[1:] {
		if ip == "" {
			continue
		}
		if strings.Contains(ip, ".") && !strings.Contains(ip, ":") {
			v4s = append(v4s, ip)
		} else {
			v6s = append(v6s, ip)
		}
	}
	return v4s, v6s
}

func first(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	return ptr(values[0])
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
