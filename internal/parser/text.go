package parser

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strconv"
	"strings"
)

const ntpPeerPrefix = "Peer: "

var (
	groupMembersPattern    = regexp.MustCompile(`(?ms)Members\s+-+\s+(.*?)The\s+command`)
	serviceTriggersPattern = regexp.MustCompile(`(?s)START SERVICE\s+(.*?):.*?STOP SERVICE\s+(.*?):`)

	// netsh prints "SubInterface <name> Parameters" followed by a rule of
	// 46 dashes before each interface block.
	subInterfaceHeader = regexp.MustCompile(`(?s)SubInterface\s+(.*?)-{46}\s+`)
	mtuField           = regexp.MustCompile(`MTU\s*:\s*(\d+)\s+`)
)

// splitLines splits output on LF or CRLF. Lines have no length limit.
func splitLines(output string) []string {
	return strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
}

// NonEmptyLines splits output into trimmed lines and drops the blank ones.
func NonEmptyLines(output string) []string {
	var lines []string
	for _, line := range splitLines(output) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseNTPPeers collects the peers listed by `w32tm /query /peers`, in order
// of appearance.
func ParseNTPPeers(output string) []string {
	peers := []string{}
	for _, line := range splitLines(output) {
		if !strings.HasPrefix(line, ntpPeerPrefix) {
			continue
		}
		_, entries, _ := strings.Cut(line, ":")
		for _, peer := range strings.Split(entries, ",") {
			if peer = strings.TrimSpace(peer); peer != "" {
				peers = append(peers, peer)
			}
		}
	}
	return peers
}

// ExtractBetween returns the capture groups of pattern matched against text.
// A missing match is a *ParseError naming section.
func ExtractBetween(section string, pattern *regexp.Regexp, text string) ([]string, error) {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return nil, &ParseError{Section: section, Pattern: pattern.String()}
	}
	return match[1:], nil
}

// ParseGroupMembers extracts the member names listed by `net localgroup`.
func ParseGroupMembers(output string) ([]string, error) {
	groups, err := ExtractBetween("group members", groupMembersPattern, output)
	if err != nil {
		return nil, err
	}
	return strings.Fields(groups[0]), nil
}

// ParseServiceTriggers extracts the start and stop trigger names printed by
// `sc qtriggerinfo`.
func ParseServiceTriggers(output string) (start, stop string, err error) {
	groups, err := ExtractBetween("service triggers", serviceTriggersPattern, output)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(groups[0]), strings.TrimSpace(groups[1]), nil
}

// MTUs yields the MTU of every non loopback interface described by
// `netsh interface ipv4 show subinterfaces level=verbose`, in block order.
// Interface blocks are located lazily as the sequence is consumed.
func MTUs(output string) iter.Seq[string] {
	output = strings.TrimSpace(output)
	return func(yield func(string) bool) {
		header := subInterfaceHeader.FindStringSubmatchIndex(output)
		for header != nil {
			name := strings.TrimSpace(output[header[2]:header[3]])
			start, end := header[1], len(output)

			header = subInterfaceHeader.FindStringSubmatchIndex(output[start:])
			if header != nil {
				for i := range header {
					header[i] += start
				}
				end = header[0]
			}

			mtu := mtuField.FindStringSubmatch(output[start:end])
			if mtu == nil || strings.Contains(strings.ToLower(name), "loopback") {
				continue
			}
			if !yield(mtu[1]) {
				return
			}
		}
	}
}

// FirstMTU returns the first MTU yielded by MTUs, or nil.
func FirstMTU(output string) *string {
	for mtu := range MTUs(output) {
		return &mtu
	}
	return nil
}

// ParseOSVersion returns the major and minor components of a dotted
// Windows version such as "10.0.17763".
func ParseOSVersion(output string) (major, minor int, err error) {
	parts := strings.Split(strings.TrimSpace(output), ".")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("malformed os version %q", output)
	}
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("malformed os version %q: %w", output, err)
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("malformed os version %q: %w", output, err)
	}
	return major, minor, nil
}

// ParseInt parses a single integer printed on its own.
func ParseInt(output string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(output), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q: %w", output, err)
	}
	return n, nil
}

// ParseBool reports whether PowerShell printed True.
func ParseBool(output string) bool {
	return strings.EqualFold(strings.TrimSpace(output), "true")
}

// NormalizeHostname lowercases and trims the output of `hostname`.
func NormalizeHostname(output string) string {
	return strings.ToLower(strings.TrimSpace(output))
}

// EscapePath escapes the characters PowerShell would otherwise split a path on.
func EscapePath(path string) string {
	for _, char := range []string{"(", " ", ")"} {
		path = strings.ReplaceAll(path, char, "`"+char)
	}
	return path
}

// DHCPOption looks up a forced DHCP option in a dnsmasq configuration, where
// overrides read "dhcp-option-force=<key>,<value>".
func DHCPOption(r io.Reader, key string) (string, bool, error) {
	lookup := "dhcp-option-force=" + key + ","
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, lookup); ok {
			return strings.TrimSpace(value), true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("reading dnsmasq config: %w", err)
	}
	return "", false, nil
}
