package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Locale-aware price patterns, tried in order of specificity. Grouping is
// always (symbol)(number).
var pricePatterns = []struct {
	locale string
	re     *regexp.Regexp
}{
	// US/UK with thousands separators: $1,234.56
	{"us", regexp.MustCompile(`([$£€¥])\s*([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{1,2})?)`)},
	// European: €1.234,56 or €1 234,56
	{"eu", regexp.MustCompile(`([$£€¥])\s*([0-9]{1,3}(?:[.\s][0-9]{3})+(?:,[0-9]{1,2})?)`)},
	// Symbol-prefixed plain decimal: $1234.56 or €49,99
	{"plain", regexp.MustCompile(`([$£€¥])\s*([0-9]+(?:[.,][0-9]{1,2})?)`)},
	// Currency-code suffix: 1234.56 USD
	{"code", regexp.MustCompile(`([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{1,2})?|[0-9]+(?:\.[0-9]{1,2})?)\s*(USD|CAD|EUR|GBP|AUD)`)},
	// Bare number, last resort for selector-targeted text
	{"bare", regexp.MustCompile(`([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{1,2})?|[0-9]+(?:[.,][0-9]{1,2})?)`)},
}

var symbolCurrency = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
	"¥": "JPY",
}

// ParsePrice extracts the first price from a text fragment, handling US and
// European separator conventions. It returns the numeric value and the
// currency when a symbol or code identified one.
func ParsePrice(text string) (float64, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("empty price text")
	}

	for _, p := range pricePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		var number, currency string
		switch p.locale {
		case "code":
			number, currency = m[1], strings.ToUpper(m[2])
		case "bare":
			number = m[1]
		default:
			currency = symbolCurrency[m[1]]
			number = m[2]
		}

		value, err := strconv.ParseFloat(cleanNumber(number, p.locale), 64)
		if err != nil {
			continue
		}
		return value, currency, nil
	}
	return 0, "", fmt.Errorf("no price pattern found in %q", text)
}

// cleanNumber converts a locale-formatted number string to strconv form.
func cleanNumber(s, locale string) string {
	switch locale {
	case "eu":
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, " ", "")
		return strings.ReplaceAll(s, ",", ".")
	case "plain", "bare":
		if strings.Contains(s, ".") {
			return strings.ReplaceAll(s, ",", "")
		}
		// A single comma group is ambiguous; ",99" endings are decimals,
		// ",999" groups are thousands.
		if i := strings.LastIndex(s, ","); i >= 0 {
			if len(s)-i-1 == 3 {
				return strings.ReplaceAll(s, ",", "")
			}
			s = strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
		}
		return s
	default: // us, code
		return strings.ReplaceAll(s, ",", "")
	}
}

// currencyPrefixed reports whether the text contains a symbol-prefixed
// numeric token; the heuristic scan only trusts those.
var currencyPrefixedRe = regexp.MustCompile(`[$£€¥]\s*[0-9]`)

func currencyPrefixed(text string) bool {
	return currencyPrefixedRe.MatchString(text)
}
