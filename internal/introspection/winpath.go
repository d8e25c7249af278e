package introspection

import "strings"

// winJoin joins Windows path elements with a single backslash.
func winJoin(elem ...string) string {
	var b strings.Builder
	for _, e := range elem {
		if e == "" {
			continue
		}
		if b.Len() > 0 {
			if !strings.HasSuffix(b.String(), `\`) {
				b.WriteByte('\\')
			}
			e = strings.TrimLeft(e, `\`)
		}
		b.WriteString(e)
	}
	return b.String()
}

// winDir returns everything before the last backslash of path.
func winDir(path string) string {
	if i := strings.LastIndex(path, `\`); i >= 0 {
		return path[:i]
	}
	return ""
}

// psQuote renders s as a single quoted PowerShell literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
