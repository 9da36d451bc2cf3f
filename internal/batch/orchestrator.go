package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bkowalcz/pricewatch/internal/extract"
	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/util"
)

// Orchestrator runs a batch of product targets through the extraction
// pipeline with bounded concurrency. One slow or failing item never blocks
// the rest, and the report is only finalized after every item has reached a
// terminal state.
type Orchestrator struct {
	extractor   Extractor
	validator   Verdicter
	ruleSource  RuleSource
	recorder    Recorder
	learner     SelectorLearner
	workers     int
	itemTimeout time.Duration
}

type Options struct {
	Extractor   Extractor
	Validator   Verdicter
	RuleSource  RuleSource
	Recorder    Recorder
	Learner     SelectorLearner
	Workers     int
	ItemTimeout time.Duration
}

func New(opts Options) *Orchestrator {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	itemTimeout := opts.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		extractor:   opts.Extractor,
		validator:   opts.Validator,
		ruleSource:  opts.RuleSource,
		recorder:    opts.Recorder,
		learner:     opts.Learner,
		workers:     workers,
		itemTimeout: itemTimeout,
	}
}

// Run processes every target and returns the aggregate report. The batch
// context bounds the whole run; each item additionally gets its own
// timeout so a hung page load is cut off without poisoning its worker.
func (o *Orchestrator) Run(ctx context.Context, targets []models.ProductTarget) *models.BatchReport {
	report := &models.BatchReport{
		Total:     len(targets),
		Items:     make([]models.ItemOutcome, len(targets)),
		StartedAt: time.Now().UTC(),
	}

	limit := o.workers
	if len(targets) < limit {
		limit = len(targets)
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, target := range targets {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, o.itemTimeout)
			defer cancel()
			report.Items[i] = o.processItem(itemCtx, target)
			return nil
		})
	}
	// Workers never return errors; failures live in their outcomes.
	_ = g.Wait()

	for _, item := range report.Items {
		o.tally(report, item)
	}
	report.FinishedAt = time.Now().UTC()

	slog.Info("Batch finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"needsReview", report.NeedsReview,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report
}

// processItem runs one target end to end: extract, validate, record, learn.
func (o *Orchestrator) processItem(ctx context.Context, target models.ProductTarget) models.ItemOutcome {
	outcome := models.ItemOutcome{
		ProductID: target.ID,
		OldPrice:  target.PreviousPrice,
	}

	candidate, err := o.extractor.Extract(ctx, target)
	if err != nil && !(errors.Is(err, models.ErrOutOfRange) && candidate != nil) {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", models.ErrTimeout, err)
		}
		outcome.Error = err.Error()
		slog.Warn("Extraction failed", "product", outcome.ProductID, "error", err)
		o.record(context.WithoutCancel(ctx), target, nil, &models.Verdict{
			Outcome: "error",
			Reason:  err.Error(),
		})
		return outcome
	}

	outcome.NewPrice = candidate.Value
	outcome.Strategy = candidate.Strategy

	var verdict models.Verdict
	if errors.Is(err, models.ErrOutOfRange) {
		// The only price found was implausible. Surface it for review
		// rather than dropping it; a human decides whether the range is
		// stale or the page is lying.
		verdict = models.Verdict{
			Outcome:     models.VerdictNeedsReview,
			Reason:      "extracted price outside expected range",
			HasPrevious: target.PreviousPrice > 0,
		}
	} else {
		var previous *float64
		if target.PreviousPrice > 0 {
			previous = &target.PreviousPrice
		}
		domain, _ := util.HomeDomain(target.URL)
		rule := o.ruleSource.RulesFor(domain, target.Name, target.URL)
		verdict = o.validator.Validate(*candidate, previous, rule)
	}
	outcome.Verdict = &verdict

	o.record(context.WithoutCancel(ctx), target, candidate, &verdict)

	if verdict.Outcome == models.VerdictAutoAccepted && candidate.Strategy != extract.StrategyLearned {
		o.learn(context.WithoutCancel(ctx), target, candidate)
	}
	return outcome
}

func (o *Orchestrator) record(ctx context.Context, target models.ProductTarget, candidate *models.CandidatePrice, verdict *models.Verdict) {
	if o.recorder == nil {
		return
	}
	rec := models.ExtractionRecord{
		ProductID:  target.ID,
		URL:        target.URL,
		RecordedAt: time.Now().UTC(),
	}
	if candidate != nil {
		rec.Price = candidate.Value
		rec.Currency = candidate.Currency
		rec.Strategy = candidate.Strategy
		rec.Selector = candidate.Selector
	}
	if verdict != nil {
		rec.Verdict = string(verdict.Outcome)
		rec.Reason = verdict.Reason
		rec.PctChange = verdict.PctChange
	} else {
		rec.Verdict = "error"
	}
	if err := o.recorder.RecordExtraction(ctx, rec); err != nil {
		slog.Warn("Failed to record extraction", "product", target.ID, "error", err)
	}
}

func (o *Orchestrator) learn(ctx context.Context, target models.ProductTarget, candidate *models.CandidatePrice) {
	if o.learner == nil || candidate.Selector == "" {
		return
	}
	domain, err := util.HomeDomain(target.URL)
	if err != nil {
		return
	}
	if err := o.learner.MarkSuccess(ctx, domain, target.ID, candidate.Selector, candidate.Strategy); err != nil {
		slog.Warn("Failed to promote selector", "product", target.ID, "error", err)
	}
}

func (o *Orchestrator) tally(report *models.BatchReport, item models.ItemOutcome) {
	if item.Error != "" || item.Verdict == nil {
		report.Failed++
		return
	}
	switch item.Verdict.Outcome {
	case models.VerdictAutoAccepted:
		report.Succeeded++
		if item.Verdict.HasPrevious && item.NewPrice == item.OldPrice {
			report.Unchanged++
		} else {
			report.Updated++
		}
	case models.VerdictNeedsReview:
		report.Succeeded++
		report.NeedsReview++
	default:
		report.Failed++
	}
}
