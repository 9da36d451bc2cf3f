package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
)

// State names one step of the variant-selection machine. Failure is
// reachable from every state on timeout or a missing control.
type State int

const (
	StateIdle State = iota
	StatePageLoaded
	StateOptionsResolved
	StateVariantSelected
	StatePriceSettled
	StateExtracted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePageLoaded:
		return "page-loaded"
	case StateOptionsResolved:
		return "options-resolved"
	case StateVariantSelected:
		return "variant-selected"
	case StatePriceSettled:
		return "price-settled"
	case StateExtracted:
		return "extracted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session abstracts one live browser page so the state machine is testable
// without a browser. Implementations hold exactly one page; sessions are
// never shared across products.
type Session interface {
	Navigate(ctx context.Context, url string) error
	OptionGroups(ctx context.Context) ([]OptionGroup, error)
	Apply(ctx context.Context, choice Choice) error
	PriceRegionText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// SessionFactory opens a fresh browser session bound to ctx; cancelling ctx
// tears the session down.
type SessionFactory func(ctx context.Context) (Session, error)

// Resolver drives variant selection: load the page, match declared
// attributes to page controls, apply selections in declared order, wait for
// the price to settle, and hand back the settled DOM snapshot.
type Resolver struct {
	newSession    SessionFactory
	loadTimeout   time.Duration
	settleTimeout time.Duration
	pollInterval  time.Duration
}

func NewResolver(factory SessionFactory, loadTimeout, settleTimeout time.Duration) *Resolver {
	return &Resolver{
		newSession:    factory,
		loadTimeout:   loadTimeout,
		settleTimeout: settleTimeout,
		pollInterval:  250 * time.Millisecond,
	}
}

// Resolve runs the state machine for one product and returns the settled
// DOM snapshot for static re-extraction. Every failure carries the state it
// happened in and a distinct error kind.
func (r *Resolver) Resolve(ctx context.Context, target models.ProductTarget, rule rules.Resolved) (*goquery.Document, error) {
	state := StateIdle

	session, err := r.newSession(ctx)
	if err != nil {
		return nil, r.fail(state, target, fmt.Errorf("%w: opening browser session: %v", models.ErrFetchFailure, err))
	}
	defer session.Close()

	loadCtx, cancelLoad := context.WithTimeout(ctx, r.loadTimeout)
	err = session.Navigate(loadCtx, target.URL)
	timedOut := errors.Is(loadCtx.Err(), context.DeadlineExceeded)
	cancelLoad()
	if err != nil {
		if timedOut {
			return nil, r.fail(state, target, fmt.Errorf("%w: page load: %v", models.ErrRenderTimeout, err))
		}
		return nil, r.fail(state, target, fmt.Errorf("%w: page load: %v", models.ErrFetchFailure, err))
	}
	state = StatePageLoaded

	groups, err := session.OptionGroups(ctx)
	if err != nil {
		return nil, r.fail(state, target, fmt.Errorf("%w: discovering option controls: %v", models.ErrRenderTimeout, err))
	}

	attrs := target.Attributes
	if len(attrs) == 0 && rule.DefaultVariant != "" {
		attrs = []models.VariantAttribute{{Name: "variant", Value: rule.DefaultVariant}}
	}
	choices, err := matchSelections(groups, attrs)
	if err != nil {
		return nil, r.fail(state, target, err)
	}
	state = StateOptionsResolved

	baseline, _ := session.PriceRegionText(ctx)
	before := baseline
	for _, choice := range choices {
		if err := session.Apply(ctx, choice); err != nil {
			return nil, r.fail(state, target, fmt.Errorf("%w: applying %s=%q: %v",
				models.ErrRenderTimeout, choice.Attribute.Name, choice.Option.Label, err))
		}
		settled, _ := r.waitSettle(ctx, session, before)
		before = settled
	}
	state = StateVariantSelected

	// A selection was applied, so the price region is expected to change.
	// Grant one extra settle wait before declaring the page stuck.
	if len(choices) > 0 && strings.TrimSpace(before) == strings.TrimSpace(baseline) {
		settled, changed := r.waitSettle(ctx, session, baseline)
		if !changed {
			return nil, r.fail(state, target, fmt.Errorf("%w: price region never updated after variant selection", models.ErrRenderTimeout))
		}
		before = settled
	}
	state = StatePriceSettled

	html, err := session.HTML(ctx)
	if err != nil {
		return nil, r.fail(state, target, fmt.Errorf("%w: reading settled DOM: %v", models.ErrRenderTimeout, err))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, r.fail(state, target, fmt.Errorf("%w: parsing settled DOM: %v", models.ErrFetchFailure, err))
	}

	slog.Info("Variant resolution settled",
		"product", target.ID, "selections", len(choices), "state", StatePriceSettled.String())
	return doc, nil
}

func (r *Resolver) fail(state State, target models.ProductTarget, err error) error {
	slog.Warn("Variant resolution failed",
		"product", target.ID, "state", state.String(), "error", err)
	return err
}

// waitSettle polls the price region until it both differs from before and
// holds steady across two consecutive reads, or until the settle timeout.
// It reports the final text and whether a change was observed.
func (r *Resolver) waitSettle(ctx context.Context, session Session, before string) (string, bool) {
	deadline := time.Now().Add(r.settleTimeout)
	last := before
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return last, last != before
		case <-time.After(r.pollInterval):
		}

		current, err := session.PriceRegionText(ctx)
		if err != nil {
			continue
		}
		if current != before && current == last {
			return current, true
		}
		last = current
	}
	return last, last != before
}
