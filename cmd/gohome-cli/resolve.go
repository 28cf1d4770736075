package main

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// foldName lowercases and drops separators so "Sensor", "sensor_" and
// "SEN-SOR" compare equal.
func foldName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '_' {
			return -1
		}
		return unicode.ToLower(r)
	}, name)
}

// resolveAlias maps user input onto its canonical value.
func resolveAlias(kind, input string, aliases map[string]string) (string, error) {
	needle := foldName(input)
	for alias, value := range aliases {
		if foldName(alias) == needle {
			return value, nil
		}
	}
	known := make([]string, 0, len(aliases))
	for alias := range aliases {
		known = append(known, alias)
	}
	sort.Strings(known)
	return "", fmt.Errorf("unknown %s %q (known: %s)", kind, input, strings.Join(known, ", "))
}
