package fetch

import (
	"regexp"
	"strings"
)

// Anti-bot wall markers, checked against the lower-cased page body and
// title. A hit distinguishes "blocked" from a plain HTTP failure so the
// caller escalates to a costlier fetch tier instead of retrying the cheap
// one.
var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)access denied`),
	regexp.MustCompile(`(?i)bot detected`),
	regexp.MustCompile(`(?i)verify you are human`),
	regexp.MustCompile(`(?i)security check`),
	regexp.MustCompile(`(?i)checking your browser`),
	regexp.MustCompile(`(?i)ddos protection`),
	regexp.MustCompile(`(?i)captcha`),
	regexp.MustCompile(`(?i)recaptcha`),
	regexp.MustCompile(`(?i)hcaptcha`),
	regexp.MustCompile(`(?i)turnstile`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)rate limit`),
	regexp.MustCompile(`(?i)unusual traffic`),
}

// BlockDetector recognizes anti-bot walls and CAPTCHA interstitials.
type BlockDetector struct{}

// Detect reports whether the content looks like a bot wall, plus the first
// matching marker for logs. Short pages weigh heavier: a real product page
// under a kilobyte with any marker is almost certainly an interstitial.
func (BlockDetector) Detect(title, body string) (bool, string) {
	content := strings.ToLower(title + " " + body)
	for _, p := range blockPatterns {
		if p.MatchString(content) {
			if len(body) < 1024 {
				return true, p.String()
			}
			// Markers buried in large pages (e.g. a captcha widget in
			// the footer) only count when the title also looks blocked.
			if p.MatchString(strings.ToLower(title)) {
				return true, p.String()
			}
		}
	}
	return false, ""
}
