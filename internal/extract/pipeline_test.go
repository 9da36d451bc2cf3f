package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/bkowalcz/pricewatch/internal/fetch"
	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
)

type fakeFetcher struct {
	html    string
	err     error
	byTier  map[fetch.Tier]string
	fetches []fetch.Tier
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, tier fetch.Tier) (*fetch.Result, error) {
	f.fetches = append(f.fetches, tier)
	html := f.html
	if f.byTier != nil {
		var ok bool
		if html, ok = f.byTier[tier]; !ok {
			return nil, fmt.Errorf("%w: tier %s unavailable", models.ErrFetchFailure, tier)
		}
	} else if f.err != nil {
		return nil, f.err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &fetch.Result{Doc: doc, StatusCode: 200, Tier: tier}, nil
}

type fakeResolver struct {
	html   string
	err    error
	called bool
}

func (r *fakeResolver) Resolve(context.Context, models.ProductTarget, rules.Resolved) (*goquery.Document, error) {
	r.called = true
	if r.err != nil {
		return nil, r.err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(r.html))
}

type fakeCompleter struct {
	value  float64
	found  bool
	err    error
	called bool
}

func (c *fakeCompleter) ExtractPrice(context.Context, string) (float64, bool, error) {
	c.called = true
	return c.value, c.found, c.err
}

type fakeCache struct {
	entry  *models.LearnedSelector
	misses int
}

func (c *fakeCache) Get(context.Context, string, string) (*models.LearnedSelector, error) {
	return c.entry, nil
}

func (c *fakeCache) MarkMiss(context.Context, string, string) error {
	c.misses++
	return nil
}

func testResolver(t *testing.T, all []rules.Rule) *rules.Resolver {
	t.Helper()
	r, err := rules.NewResolver(all)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Rules == nil {
		cfg.Rules = testResolver(t, nil)
	}
	if cfg.MinPlausiblePrice == 0 {
		cfg.MinPlausiblePrice = 0.50
	}
	if cfg.BrowserSlots == 0 {
		cfg.BrowserSlots = 1
	}
	return New(cfg)
}

func target(url string) models.ProductTarget {
	return models.ProductTarget{ID: "p1", Name: "Widget", URL: url}
}

func TestExtractSkipsStruckThroughSalePrice(t *testing.T) {
	// Sale markup: the struck-through old price appears before the live one.
	fetcher := &fakeFetcher{html: `<html><body>
		<div class="pricing">
			<del>$8,888.00</del>
			<ins>$6,666.00</ins>
		</div>
	</body></html>`}
	p := newTestPipeline(t, Config{Fetcher: fetcher})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Value != 6666 {
		t.Errorf("Value = %v, want 6666 (live price, not struck-through)", got.Value)
	}
	if got.Strategy != StrategyHeuristic {
		t.Errorf("Strategy = %q, want %q", got.Strategy, StrategyHeuristic)
	}
}

func TestExtractStopsAtFirstSuccessfulTier(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><head>
		<script type="application/ld+json">
		{"@type":"Product","name":"Widget","offers":{"price":"111.00","priceCurrency":"USD"}}
		</script>
	</head><body>
		<span class="price__current">$222.00</span>
	</body></html>`}
	resolver := testResolver(t, []rules.Rule{
		{Domain: "example.com", Selectors: []string{".price__current"}},
	})
	completer := &fakeCompleter{}
	p := newTestPipeline(t, Config{Fetcher: fetcher, Rules: resolver, Completer: completer})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Strategy != StrategyDomain || got.Value != 222 {
		t.Errorf("got %v via %q, want 222 via domain selector before structured data", got.Value, got.Strategy)
	}
	if completer.called {
		t.Error("completion tier consulted despite earlier success")
	}
}

func TestExtractBlacklistedOnlyPage(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body>
		<div class="bundle-offer"><span>$99.00</span></div>
		<div class="shipping-info"><span>$12.00</span></div>
	</body></html>`}
	p := newTestPipeline(t, Config{Fetcher: fetcher})

	_, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if !errors.Is(err, models.ErrBlacklistedOnly) {
		t.Errorf("Extract() error = %v, want ErrBlacklistedOnly", err)
	}
}

func TestExtractOutOfRangeSurfacesCandidate(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body>
		<span class="price">$88.00</span>
	</body></html>`}
	resolver := testResolver(t, []rules.Rule{
		{Domain: "example.com", Selectors: []string{".price"}, MinPrice: 500, MaxPrice: 20000},
	})
	p := newTestPipeline(t, Config{Fetcher: fetcher, Rules: resolver})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if !errors.Is(err, models.ErrOutOfRange) {
		t.Fatalf("Extract() error = %v, want ErrOutOfRange", err)
	}
	if got == nil || got.Value != 88 {
		t.Errorf("candidate = %+v, want the out-of-range 88 surfaced for review", got)
	}
}

func TestExtractLearnedSelectorHit(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body>
		<span id="learned-target">$1,499.00</span>
	</body></html>`}
	cache := &fakeCache{entry: &models.LearnedSelector{Selector: "#learned-target"}}
	p := newTestPipeline(t, Config{Fetcher: fetcher, Cache: cache})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Strategy != StrategyLearned || got.Value != 1499 {
		t.Errorf("got %v via %q, want 1499 via learned selector", got.Value, got.Strategy)
	}
	if cache.misses != 0 {
		t.Errorf("MarkMiss called %d times on a hit", cache.misses)
	}
}

func TestExtractLearnedSelectorMissFallsThrough(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body>
		<span class="price">$1,499.00</span>
	</body></html>`}
	cache := &fakeCache{entry: &models.LearnedSelector{Selector: "#gone-after-redesign"}}
	p := newTestPipeline(t, Config{Fetcher: fetcher, Cache: cache})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Strategy == StrategyLearned {
		t.Error("stale learned selector reported as the winning strategy")
	}
	if got.Value != 1499 {
		t.Errorf("Value = %v, want 1499 from a later tier", got.Value)
	}
	if cache.misses != 1 {
		t.Errorf("MarkMiss called %d times, want 1", cache.misses)
	}
}

func TestExtractInteractiveVariantSelection(t *testing.T) {
	// Static page shows the base variant; the settled post-interaction DOM
	// shows the declared variant's price.
	fetcher := &fakeFetcher{html: `<html><body><p>Select options to see pricing</p></body></html>`}
	browser := &fakeResolver{html: `<html><body>
		<span class="product__price">$4,589.00</span>
	</body></html>`}
	resolver := testResolver(t, []rules.Rule{
		{Domain: "example.com", ProductPattern: "widget",
			Selectors: []string{".product__price"}, RequiresInteraction: true},
	})
	p := newTestPipeline(t, Config{Fetcher: fetcher, Rules: resolver, Resolver: browser})

	tgt := target("https://shop.example.com/p/1")
	tgt.Attributes = []models.VariantAttribute{{Name: "power", Value: "60W"}}

	got, err := p.Extract(context.Background(), tgt)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !browser.called {
		t.Fatal("interactive resolver never invoked")
	}
	if got.Value != 4589 {
		t.Errorf("Value = %v, want 4589", got.Value)
	}
	if !strings.HasPrefix(got.Strategy, "interactive:") {
		t.Errorf("Strategy = %q, want interactive: prefix", got.Strategy)
	}
}

func TestExtractInteractionRuleIgnoresPreSelectionPrice(t *testing.T) {
	// The static page carries the default variant's price in structured data.
	// An interaction rule must report the settled snapshot's price, never the
	// pre-selection one, even when the static price passes every gate.
	fetcher := &fakeFetcher{html: `<html><head>
		<script type="application/ld+json">
		{"@type":"Product","name":"Widget","offers":{"price":"2999.00","priceCurrency":"USD"}}
		</script>
	</head><body>
		<span class="product__price">$2,999.00</span>
	</body></html>`}
	browser := &fakeResolver{html: `<html><body>
		<span class="product__price">$4,589.00</span>
	</body></html>`}
	resolver := testResolver(t, []rules.Rule{
		{Domain: "example.com", ProductPattern: "widget",
			Selectors: []string{".product__price"}, RequiresInteraction: true,
			MinPrice: 500, MaxPrice: 20000},
	})
	p := newTestPipeline(t, Config{Fetcher: fetcher, Rules: resolver, Resolver: browser})

	tgt := target("https://shop.example.com/p/1")
	tgt.Attributes = []models.VariantAttribute{{Name: "power", Value: "60W"}}

	got, err := p.Extract(context.Background(), tgt)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !browser.called {
		t.Fatal("interactive resolver never invoked")
	}
	if got.Value != 4589 {
		t.Errorf("Value = %v, want 4589 (settled snapshot), not the default variant's 2999", got.Value)
	}
	if !strings.HasPrefix(got.Strategy, "interactive:") {
		t.Errorf("Strategy = %q, want interactive: prefix", got.Strategy)
	}
}

func TestExtractInteractionRuleWithoutResolverFails(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><head>
		<script type="application/ld+json">
		{"@type":"Product","name":"Widget","offers":{"price":"2999.00","priceCurrency":"USD"}}
		</script>
	</head><body></body></html>`}
	resolver := testResolver(t, []rules.Rule{
		{Domain: "example.com", ProductPattern: "widget", RequiresInteraction: true},
	})
	p := newTestPipeline(t, Config{Fetcher: fetcher, Rules: resolver})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if !errors.Is(err, models.ErrNoCandidate) {
		t.Fatalf("Extract() error = %v, want ErrNoCandidate", err)
	}
	if got != nil {
		t.Errorf("candidate = %+v, want none without variant selection", got)
	}
}

func TestExtractVariantNotFoundSurfaces(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body><p>Select options</p></body></html>`}
	browser := &fakeResolver{err: fmt.Errorf("%w: no control matches power=100W", models.ErrVariantNotFound)}
	resolver := testResolver(t, []rules.Rule{
		{Domain: "example.com", ProductPattern: "widget", RequiresInteraction: true},
	})
	completer := &fakeCompleter{value: 999, found: true}
	p := newTestPipeline(t, Config{Fetcher: fetcher, Rules: resolver, Resolver: browser, Completer: completer})

	_, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if !errors.Is(err, models.ErrVariantNotFound) {
		t.Fatalf("Extract() error = %v, want ErrVariantNotFound", err)
	}
	if completer.called {
		t.Error("completion tier ran after a variant mismatch; the wrong variant's price must never be reported")
	}
}

func TestExtractCompletionFallback(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body>
		<main>` + strings.Repeat("Widget description text. ", 10) + `current price 1299 for this item</main>
	</body></html>`}
	completer := &fakeCompleter{value: 1299, found: true}
	p := newTestPipeline(t, Config{Fetcher: fetcher, Completer: completer})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Strategy != StrategyCompletion || got.Value != 1299 {
		t.Errorf("got %v via %q, want 1299 via completion", got.Value, got.Strategy)
	}
}

func TestExtractFetchFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("%w: connection refused", models.ErrFetchFailure)}
	p := newTestPipeline(t, Config{Fetcher: fetcher})

	_, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if !errors.Is(err, models.ErrFetchFailure) {
		t.Errorf("Extract() error = %v, want ErrFetchFailure", err)
	}
	want := []fetch.Tier{fetch.TierDirect, fetch.TierProxy, fetch.TierBrowser}
	if len(fetcher.fetches) != len(want) {
		t.Fatalf("fetch tiers tried = %v, want %v", fetcher.fetches, want)
	}
	for i, tier := range want {
		if fetcher.fetches[i] != tier {
			t.Errorf("fetch %d = %v, want %v", i, fetcher.fetches[i], tier)
		}
	}
}

func TestExtractEscalatesWhenDirectBlocked(t *testing.T) {
	fetcher := &fakeFetcher{byTier: map[fetch.Tier]string{
		fetch.TierProxy: `<html><body><span class="price">$59.99</span></body></html>`,
	}}
	p := newTestPipeline(t, Config{Fetcher: fetcher})

	got, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Value != 59.99 {
		t.Errorf("Value = %v, want 59.99 from the proxy tier", got.Value)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{html: `<html><body>
		<span class="price">$449.00</span>
	</body></html>`}
	p := newTestPipeline(t, Config{Fetcher: fetcher})

	first, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("first Extract() error = %v", err)
	}
	second, err := p.Extract(context.Background(), target("https://shop.example.com/p/1"))
	if err != nil {
		t.Fatalf("second Extract() error = %v", err)
	}
	if first.Value != second.Value || first.Strategy != second.Strategy || first.Selector != second.Selector {
		t.Errorf("repeat extraction differed: %+v vs %+v", first, second)
	}
}
