package rules

import "strings"

// defaultBlacklist holds the pattern families known to select a
// non-primary price: bundles and upsells, struck-through was-prices,
// shipping and tax lines, related-product rails, and modal overlays.
// Patterns match as lower-cased substrings of either the candidate's
// selector or its surrounding ancestor text.
var defaultBlacklist = []string{
	// bundle / package / combo
	"bundle", "package", "combo", "multipack", "value-pack",
	// addon / upsell
	"addon", "add-on", "upsell", "warranty", "protection-plan", "accessor",
	// comparison / was-price
	"was-price", "old-price", "list-price", "compare", "strike", "msrp",
	"regular-price",
	// shipping / tax
	"shipping", "delivery-fee", "tax", "handling",
	// related products
	"related", "recommend", "similar", "also-bought", "cross-sell",
	"you-may-like", "carousel",
	// modal / popup chrome
	"modal", "popup", "overlay", "tooltip", "drawer", "lightbox",
}

// Blacklist suppresses candidates whose selector or context marks them as a
// bundle, comparison, or otherwise non-primary price. It gates every
// candidate before it may leave any strategy.
type Blacklist struct {
	patterns []string
}

// NewBlacklist builds the default filter plus any per-rule additions.
func NewBlacklist(extra ...string) *Blacklist {
	patterns := make([]string, 0, len(defaultBlacklist)+len(extra))
	patterns = append(patterns, defaultBlacklist...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Blacklist{patterns: patterns}
}

// Matches reports whether the selector string or the ancestor-context text
// hits any blacklist pattern. Both inputs are compared lower-cased.
func (b *Blacklist) Matches(selector, context string) bool {
	selector = strings.ToLower(selector)
	context = strings.ToLower(context)
	for _, p := range b.patterns {
		if strings.Contains(selector, p) {
			return true
		}
		if context != "" && strings.Contains(context, p) {
			return true
		}
	}
	return false
}
