package util

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HomeDomain extracts the effective TLD plus one label from a URL, e.g.
// "https://shop.example.co.uk/p/123" -> "example.co.uk". Rules and learned
// selectors are keyed by this value so subdomain churn does not split them.
func HomeDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %q: %w", rawURL, err)
	}
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return "", fmt.Errorf("URL %q has no hostname", rawURL)
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		// Hosts the PSL cannot split (localhost, bare IPs) key as-is.
		return hostname, nil
	}
	return etld1, nil
}

// TrimTo bounds a string to n bytes for audit snippets and log fields.
func TrimTo(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CollapseSpace lowercases a string and folds runs of whitespace into
// single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
