package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"github.com/bkowalcz/pricewatch/internal/fetch"
	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
	"github.com/bkowalcz/pricewatch/internal/util"
)

// Pipeline is the escalating multi-strategy price extraction engine. Tiers
// run in fixed order and stop at the first candidate that passes the
// blacklist and range gates; a tier that only finds gated-out candidates
// reports no candidate and the pipeline advances.
type Pipeline struct {
	rules     *rules.Resolver
	fetcher   ContentFetcher
	resolver  VariantResolver
	completer Completer
	cache     SelectorCache

	// browserSem meters browser sessions and rendered fetches: they are
	// materially more expensive than plain HTTP, so they get a separate,
	// smaller budget than the worker pool.
	browserSem *semaphore.Weighted

	minPlausible   float64
	excerptMaxSize int
}

type Config struct {
	Rules             *rules.Resolver
	Fetcher           ContentFetcher
	Resolver          VariantResolver
	Completer         Completer
	Cache             SelectorCache
	BrowserSlots      int64
	MinPlausiblePrice float64
}

func New(cfg Config) *Pipeline {
	slots := cfg.BrowserSlots
	if slots < 1 {
		slots = 1
	}
	return &Pipeline{
		rules:          cfg.Rules,
		fetcher:        cfg.Fetcher,
		resolver:       cfg.Resolver,
		completer:      cfg.Completer,
		cache:          cfg.Cache,
		browserSem:     semaphore.NewWeighted(slots),
		minPlausible:   cfg.MinPlausiblePrice,
		excerptMaxSize: 4000,
	}
}

// Extract resolves the current price for one product. The returned error is
// one of the models sentinels (possibly wrapped); ErrOutOfRange is returned
// together with the offending candidate so it can surface as needs-review
// instead of vanishing.
func (p *Pipeline) Extract(ctx context.Context, target models.ProductTarget) (*models.CandidatePrice, error) {
	domain, err := util.HomeDomain(target.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFetchFailure, err)
	}

	rule := p.rules.RulesFor(domain, target.Name, target.URL)
	bl := rules.NewBlacklist(rule.Blacklist...)
	a := &attempt{}

	doc, fetchErr := p.fetchStatic(ctx, target.URL)
	if fetchErr != nil {
		slog.Warn("Static fetch failed on all tiers", "product", target.ID, "error", fetchErr)
	}

	// A rule that requires interaction gets its price only from the settled
	// post-interaction snapshot: the pre-selection DOM carries the default
	// variant's price, so reading it would report the wrong variant.
	interactiveOnly := rule.RequiresInteraction

	if doc != nil && !interactiveOnly {
		if candidate := p.staticTiers(ctx, doc, target, domain, rule, bl, a, false); candidate != nil {
			return candidate, nil
		}
	}

	candidate, settled, err := p.interactiveTier(ctx, target, rule, bl, a, doc != nil)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		return candidate, nil
	}

	completionDoc := doc
	if settled != nil {
		completionDoc = settled
	} else if interactiveOnly {
		completionDoc = nil
	}
	if completionDoc != nil {
		if candidate := p.completionTier(ctx, completionDoc, target, rule, bl, a); candidate != nil {
			return candidate, nil
		}
	}

	switch {
	case a.outOfRange != nil:
		return a.outOfRange, models.ErrOutOfRange
	case doc == nil && fetchErr != nil:
		return nil, fetchErr
	case a.blacklistedOnly:
		return nil, models.ErrBlacklistedOnly
	default:
		return nil, models.ErrNoCandidate
	}
}

// fetchStatic escalates through the fetch tiers: direct HTTP, then the
// rendering proxy, then (under the browser budget) a full rendered
// snapshot.
func (p *Pipeline) fetchStatic(ctx context.Context, url string) (*goquery.Document, error) {
	res, directErr := p.fetcher.Fetch(ctx, url, fetch.TierDirect)
	if directErr == nil {
		return res.Doc, nil
	}
	slog.Debug("Direct fetch failed, escalating", "url", url, "error", directErr)

	res, proxyErr := p.fetcher.Fetch(ctx, url, fetch.TierProxy)
	if proxyErr == nil {
		return res.Doc, nil
	}

	if err := p.browserSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	defer p.browserSem.Release(1)

	res, browserErr := p.fetcher.Fetch(ctx, url, fetch.TierBrowser)
	if browserErr == nil {
		return res.Doc, nil
	}
	return nil, fmt.Errorf("all fetch tiers failed: %w (proxy: %v, browser: %v)", directErr, proxyErr, browserErr)
}

// staticTiers runs tiers 1-5 against a document. The learned tier runs on
// the first price-yielding pass for the product: the initial static pass for
// ordinary rules, the post-interaction snapshot for rules that require
// interaction (their learned selectors were learned from settled DOMs and
// only make sense there).
func (p *Pipeline) staticTiers(ctx context.Context, doc *goquery.Document, target models.ProductTarget, domain string, rule rules.Resolved, bl *rules.Blacklist, a *attempt, interactive bool) *models.CandidatePrice {
	prefix := ""
	if interactive {
		prefix = interactivePrefix
	}

	runLearned := p.cache != nil && (!interactive || rule.RequiresInteraction)
	if runLearned {
		if learned, err := p.cache.Get(ctx, domain, target.ID); err != nil {
			slog.Warn("Learned selector lookup failed", "product", target.ID, "error", err)
		} else if learned != nil {
			candidate, err := p.trySelector(doc, learned.Selector, StrategyLearned, bl, rule, a)
			if candidate != nil {
				return candidate
			}
			slog.Debug("Learned selector missed", "product", target.ID, "selector", learned.Selector, "error", err)
			if missErr := p.cache.MarkMiss(ctx, domain, target.ID); missErr != nil {
				slog.Warn("Failed to record selector miss", "product", target.ID, "error", missErr)
			}
		}
	}

	for _, sel := range rule.ProductSelectors {
		if candidate, _ := p.trySelector(doc, sel, prefix+StrategyProduct, bl, rule, a); candidate != nil {
			return candidate
		}
	}
	for _, sel := range rule.DomainSelectors {
		if candidate, _ := p.trySelector(doc, sel, prefix+StrategyDomain, bl, rule, a); candidate != nil {
			return candidate
		}
	}

	if candidate, _ := p.tryStructured(doc, target, prefix+StrategyStructured, bl, rule, a); candidate != nil {
		return candidate
	}
	if candidate, _ := p.tryHeuristic(doc, prefix+StrategyHeuristic, bl, rule, a); candidate != nil {
		return candidate
	}
	return nil
}

// interactiveTier drives variant selection when the rule requires it or the
// static tiers came up empty. It returns the settled post-interaction
// document so later tiers read the selected variant's DOM. A VariantNotFound
// failure is surfaced distinctly so a missing rule can be authored; it never
// falls through to a default variant's price.
func (p *Pipeline) interactiveTier(ctx context.Context, target models.ProductTarget, rule rules.Resolved, bl *rules.Blacklist, a *attempt, hadStaticDoc bool) (*models.CandidatePrice, *goquery.Document, error) {
	if p.resolver == nil {
		if rule.RequiresInteraction {
			slog.Warn("Rule requires interactive selection but no resolver is configured", "product", target.ID)
			return nil, nil, fmt.Errorf("%w: interactive selection required but no resolver configured", models.ErrNoCandidate)
		}
		return nil, nil, nil
	}
	if !rule.RequiresInteraction && len(target.Attributes) == 0 && hadStaticDoc {
		// Nothing to select; a browser session would just re-render the
		// same page.
		return nil, nil, nil
	}

	if err := p.browserSem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	defer p.browserSem.Release(1)

	domain, _ := util.HomeDomain(target.URL)
	doc, err := p.resolver.Resolve(ctx, target, rule)
	if err != nil {
		if errors.Is(err, models.ErrVariantNotFound) || rule.RequiresInteraction {
			return nil, nil, err
		}
		slog.Warn("Interactive resolution failed, falling through", "product", target.ID, "error", err)
		return nil, nil, nil
	}

	if candidate := p.staticTiers(ctx, doc, target, domain, rule, bl, a, true); candidate != nil {
		return candidate, doc, nil
	}
	return nil, doc, nil
}

// completionTier is the last resort: a trimmed excerpt to the completion
// service, output held to a strict numeric grammar and the same gates.
func (p *Pipeline) completionTier(ctx context.Context, doc *goquery.Document, target models.ProductTarget, rule rules.Resolved, bl *rules.Blacklist, a *attempt) *models.CandidatePrice {
	if p.completer == nil {
		return nil
	}

	excerpt := primaryExcerpt(doc, p.excerptMaxSize)
	if excerpt == "" {
		return nil
	}

	value, found, err := p.completer.ExtractPrice(ctx, excerpt)
	if err != nil {
		slog.Warn("Completion tier unavailable", "product", target.ID,
			"error", fmt.Errorf("%w: %v", models.ErrCompletionUnavailable, err))
		return nil
	}
	if !found {
		return nil
	}

	candidate := models.CandidatePrice{
		Value:      value,
		Currency:   target.Currency,
		Strategy:   StrategyCompletion,
		Selector:   "completion",
		Snippet:    priceWindow(excerpt, value),
		Confidence: strategyConfidence[StrategyCompletion],
	}
	if err := p.gate(candidate, candidate.Snippet, bl, rule, a); err != nil {
		return nil
	}
	return &candidate
}

// primaryExcerpt trims page text for the completion prompt, preferring the
// primary product region when one is identifiable.
func primaryExcerpt(doc *goquery.Document, maxSize int) string {
	for _, sel := range []string{
		`[itemtype*="Product"]`,
		"main [class*='product']",
		"[id*='product-detail']",
		"[class*='product-info']",
		"main",
	} {
		region := doc.Find(sel).First()
		if region.Length() == 0 {
			continue
		}
		text := strings.Join(strings.Fields(region.Text()), " ")
		if len(text) >= 80 {
			return util.TrimTo(text, maxSize)
		}
	}
	return util.TrimTo(strings.Join(strings.Fields(doc.Find("body").Text()), " "), maxSize)
}

// priceWindow returns the excerpt slice surrounding the completion's price
// so the blacklist can judge its context.
func priceWindow(excerpt string, value float64) string {
	needles := []string{
		fmt.Sprintf("%.2f", value),
		fmt.Sprintf("%d", int(value)),
		formatThousands(int(value)),
	}
	for _, n := range needles {
		if n == "" {
			continue
		}
		if i := strings.Index(excerpt, n); i >= 0 {
			start := i - 80
			if start < 0 {
				start = 0
			}
			end := i + len(n) + 80
			if end > len(excerpt) {
				end = len(excerpt)
			}
			return excerpt[start:end]
		}
	}
	return util.TrimTo(excerpt, 160)
}

// formatThousands renders 4589 as "4,589" to find comma-grouped prices in
// page text.
func formatThousands(n int) string {
	if n < 1000 {
		return ""
	}
	s := fmt.Sprintf("%d", n)
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, ",")
}
