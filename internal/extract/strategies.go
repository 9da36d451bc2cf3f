package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
	"github.com/bkowalcz/pricewatch/internal/util"
)

// Strategy identifiers recorded on candidates and in extraction records.
const (
	StrategyLearned    = "learned-selector"
	StrategyProduct    = "product-selector"
	StrategyDomain     = "domain-selector"
	StrategyStructured = "structured-data"
	StrategyHeuristic  = "heuristic-scan"
	StrategyCompletion = "completion"

	// interactivePrefix marks strategies re-run against a settled
	// post-interaction DOM snapshot.
	interactivePrefix = "interactive:"
)

var strategyConfidence = map[string]float64{
	StrategyLearned:    0.9,
	StrategyProduct:    0.85,
	StrategyDomain:     0.7,
	StrategyStructured: 0.8,
	StrategyHeuristic:  0.5,
	StrategyCompletion: 0.2,
}

// attempt accumulates cross-tier context for one extraction so exhaustion
// can surface the most useful error: an out-of-range candidate is reported
// for review rather than silently dropped, and blacklisted-only pages are
// distinguished from truly price-less ones.
type attempt struct {
	blacklistedOnly bool
	outOfRange      *models.CandidatePrice
}

func (a *attempt) noteBlacklisted() { a.blacklistedOnly = true }

func (a *attempt) noteOutOfRange(c models.CandidatePrice) {
	if a.outOfRange == nil {
		a.outOfRange = &c
	}
}

// gate applies the two checks every candidate must pass before leaving any
// strategy. It returns the sentinel describing why a candidate was
// suppressed, or nil.
func (p *Pipeline) gate(c models.CandidatePrice, context string, bl *rules.Blacklist, rule rules.Resolved, a *attempt) error {
	if bl.Matches(c.Selector, context) {
		a.noteBlacklisted()
		return models.ErrBlacklistedOnly
	}
	if c.Value < p.minPlausible || !rule.InRange(c.Value) {
		a.noteOutOfRange(c)
		return models.ErrOutOfRange
	}
	return nil
}

// trySelector runs one CSS selector against the document and returns at
// most one gated candidate. Several matched nodes are examined so a
// selector that also catches a struck-through price can still yield the
// live one.
func (p *Pipeline) trySelector(doc *goquery.Document, selector, strategy string, bl *rules.Blacklist, rule rules.Resolved, a *attempt) (*models.CandidatePrice, error) {
	selection := doc.Find(selector)
	if selection.Length() == 0 {
		return nil, models.ErrNoCandidate
	}

	var firstErr error
	var found *models.CandidatePrice
	selection.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= 5 {
			return false
		}

		text := s.Text()
		if goquery.NodeName(s) == "meta" {
			text, _ = s.Attr("content")
		}
		value, currency, err := ParsePrice(text)
		if err != nil {
			return true
		}

		candidate := models.CandidatePrice{
			Value:      value,
			Currency:   currency,
			Strategy:   strategy,
			Selector:   selector,
			Snippet:    util.TrimTo(text, 120),
			Confidence: strategyConfidence[strings.TrimPrefix(strategy, interactivePrefix)],
		}
		if err := p.gate(candidate, ancestorContext(s), bl, rule, a); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return true
		}
		found = &candidate
		return false
	})

	if found != nil {
		return found, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, models.ErrNoCandidate
}

// tryStructured runs the structured-data tier: JSON-LD offers plus price
// meta tags, filtered through the same gates, with variant matching and the
// closest-to-previous tie-break across surviving offers.
func (p *Pipeline) tryStructured(doc *goquery.Document, target models.ProductTarget, strategy string, bl *rules.Blacklist, rule rules.Resolved, a *attempt) (*models.CandidatePrice, error) {
	offers := structuredOffers(doc, rule.AvoidMetaTags)
	if len(offers) == 0 {
		return nil, models.ErrNoCandidate
	}

	var surviving []structuredOffer
	var firstErr error
	for _, offer := range offers {
		candidate := models.CandidatePrice{
			Value:    offer.Price,
			Selector: "ld+json offer",
			Strategy: strategy,
		}
		if err := p.gate(candidate, offer.Label, bl, rule, a); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		surviving = append(surviving, offer)
	}
	if len(surviving) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, models.ErrNoCandidate
	}

	best := pickOffer(surviving, target.Attributes, target.PreviousPrice)
	currency := best.Currency
	if currency == "" {
		currency = target.Currency
	}
	return &models.CandidatePrice{
		Value:      best.Price,
		Currency:   currency,
		Strategy:   strategy,
		Selector:   "ld+json offer",
		Snippet:    util.TrimTo(best.Label, 120),
		Confidence: strategyConfidence[StrategyStructured],
	}, nil
}

// tryHeuristic is the generic scan: currency-prefixed tokens in visible
// text, preferring tokens inside price-labelled ancestors, skipping sale
// markup's struck-through side.
func (p *Pipeline) tryHeuristic(doc *goquery.Document, strategy string, bl *rules.Blacklist, rule rules.Resolved, a *attempt) (*models.CandidatePrice, error) {
	var labelled, plain *models.CandidatePrice
	var firstErr error

	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if labelled != nil {
			return false
		}
		// Only leaf-ish nodes: a container's text would double-count
		// every price inside it.
		if s.Children().Length() > 0 {
			return true
		}
		text := strings.TrimSpace(s.Text())
		if text == "" || len(text) > 80 || !currencyPrefixed(text) {
			return true
		}
		// The struck-through side of sale markup is never the live price.
		if isStruck(s) {
			return true
		}

		value, currency, err := ParsePrice(text)
		if err != nil {
			return true
		}

		path := selectorPath(s)
		candidate := models.CandidatePrice{
			Value:      value,
			Currency:   currency,
			Strategy:   strategy,
			Selector:   path,
			Snippet:    util.TrimTo(text, 120),
			Confidence: strategyConfidence[StrategyHeuristic],
		}
		if err := p.gate(candidate, ancestorContext(s), bl, rule, a); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return true
		}

		if priceLabelled(s) {
			candidate.Confidence += 0.1
			labelled = &candidate
			return false
		}
		if plain == nil {
			plain = &candidate
		}
		return true
	})

	switch {
	case labelled != nil:
		return labelled, nil
	case plain != nil:
		return plain, nil
	case firstErr != nil:
		return nil, firstErr
	default:
		return nil, models.ErrNoCandidate
	}
}

// isStruck reports whether the node sits inside sale markup's old-price
// side.
func isStruck(s *goquery.Selection) bool {
	if s.Is("del, s, strike") {
		return true
	}
	return s.ParentsFiltered("del, s, strike").Length() > 0
}

// priceLabelled reports whether the node or a near ancestor is explicitly
// marked as a price element.
func priceLabelled(s *goquery.Selection) bool {
	check := func(sel *goquery.Selection) bool {
		class, _ := sel.Attr("class")
		id, _ := sel.Attr("id")
		itemprop, _ := sel.Attr("itemprop")
		combined := strings.ToLower(class + " " + id + " " + itemprop)
		return strings.Contains(combined, "price")
	}
	if check(s) {
		return true
	}
	parents := s.Parents()
	limit := parents.Length()
	if limit > 4 {
		limit = 4
	}
	for i := 0; i < limit; i++ {
		if check(parents.Eq(i)) {
			return true
		}
	}
	return false
}

// selectorPath renders a short tag.class#id path for the node and its
// nearest ancestors, used for blacklist matching and audit.
func selectorPath(s *goquery.Selection) string {
	var parts []string
	describe := func(sel *goquery.Selection) string {
		name := goquery.NodeName(sel)
		if id, ok := sel.Attr("id"); ok && id != "" {
			name += "#" + id
		}
		if class, ok := sel.Attr("class"); ok && class != "" {
			name += "." + strings.Join(strings.Fields(class), ".")
		}
		return name
	}

	parents := s.Parents()
	limit := parents.Length()
	if limit > 3 {
		limit = 3
	}
	for i := limit - 1; i >= 0; i-- {
		parts = append(parts, describe(parents.Eq(i)))
	}
	parts = append(parts, describe(s))
	return strings.Join(parts, " > ")
}

// ancestorContext captures the text around a candidate, bounded the way
// audit snippets are.
func ancestorContext(s *goquery.Selection) string {
	parent := s.Parent()
	if parent.Length() == 0 {
		return ""
	}
	return util.TrimTo(parent.Text(), 200)
}
