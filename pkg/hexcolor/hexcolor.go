// Package hexcolor validates and normalizes six-digit hex color codes.
package hexcolor

import (
	"fmt"
	"regexp"
	"strings"
)

var hexPattern = regexp.MustCompile(`^#?([0-9a-fA-F]{6})$`)

// Valid reports whether raw is a six-hex-digit color code, with or without
// the leading '#'. Three-digit shorthand is deliberately rejected: the
// dataset stores full codes only.
func Valid(raw string) bool {
	return hexPattern.MatchString(strings.TrimSpace(raw))
}

// Normalize returns the canonical "#rrggbb" form of raw, lowercased.
// Malformed input returns an error and an empty string.
func Normalize(raw string) (string, error) {
	m := hexPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", fmt.Errorf("not a 6-digit hex color: %q", raw)
	}
	return "#" + strings.ToLower(m[1]), nil
}
