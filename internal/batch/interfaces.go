package batch

import (
	"context"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
)

// Extractor resolves the current price for one product.
type Extractor interface {
	Extract(ctx context.Context, target models.ProductTarget) (*models.CandidatePrice, error)
}

// Verdicter validates a candidate against the previous observation.
type Verdicter interface {
	Validate(candidate models.CandidatePrice, previous *float64, rule rules.Resolved) models.Verdict
}

// RuleSource resolves the effective extraction rule for a product.
type RuleSource interface {
	RulesFor(domain, productName, rawURL string) rules.Resolved
}

// Recorder persists per-item audit records.
type Recorder interface {
	RecordExtraction(ctx context.Context, rec models.ExtractionRecord) error
}

// SelectorLearner is the write side of the selector learning cache. The
// orchestrator promotes a selector only after an auto-accepted verdict.
type SelectorLearner interface {
	MarkSuccess(ctx context.Context, domain, productID, selector, strategy string) error
}
