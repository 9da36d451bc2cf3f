package util

import "strings"

// squeeze lowercases s and strips everything but letters and digits, so
// "60 W", "60w", and "60-Watt" compare equal at the prefix level.
func squeeze(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TokenMatch reports whether a declared variant value (e.g. "60W",
// "Basic") matches an option label or offer description (e.g. "60W CO2 -
// Autofocus"). Matching is normalized substring containment.
func TokenMatch(label, value string) bool {
	l, v := squeeze(label), squeeze(value)
	if l == "" || v == "" {
		return false
	}
	return strings.Contains(l, v)
}
