// Package security validates untrusted path components. Sidecar references
// and recording names come out of file content rather than from the
// operator, so anything joined into an input or output path goes through
// here first.
package security

import (
	"fmt"
	"strings"
)

// CheckSidecarName verifies that a data file reference names a plain file
// in the same directory as its parent. References with separators, drive
// prefixes or traversal components are rejected.
func CheckSidecarName(name string) error {
	if name == "" {
		return fmt.Errorf("empty sidecar name")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, ":") {
		return fmt.Errorf("sidecar name %q contains a path separator", name)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("sidecar name %q is a traversal component", name)
	}
	return nil
}

// maxFilenameLen bounds sanitized names so derived paths stay usable.
const maxFilenameLen = 128

// SanitizeFilename makes a safe filename fragment from an arbitrary string.
// Characters outside ASCII letters, digits, dot, underscore and dash become
// underscores; runs collapse to one. An empty result falls back to
// "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
