package extract

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/bkowalcz/pricewatch/internal/fetch"
	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
)

// ContentFetcher abstracts the tiered page fetcher.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string, tier fetch.Tier) (*fetch.Result, error)
}

// VariantResolver drives interactive variant selection and returns the
// settled DOM snapshot for static re-extraction.
type VariantResolver interface {
	Resolve(ctx context.Context, target models.ProductTarget, rule rules.Resolved) (*goquery.Document, error)
}

// Completer is the hosted completion service used by the last-resort tier.
type Completer interface {
	ExtractPrice(ctx context.Context, excerpt string) (float64, bool, error)
}

// SelectorCache is the read/miss side of the selector learning cache.
// Successful writes happen in the orchestrator, only after an
// auto-accepted verdict.
type SelectorCache interface {
	Get(ctx context.Context, domain, productID string) (*models.LearnedSelector, error)
	MarkMiss(ctx context.Context, domain, productID string) error
}
