package models

import "errors"

// Extraction error kinds. Strategies return exactly one of these when they
// produce no candidate; the pipeline composes tiers by inspecting them.
var (
	// ErrFetchFailure covers network and HTTP-level failures.
	ErrFetchFailure = errors.New("fetch failure")

	// ErrBlocked is a distinguishable anti-bot condition (captcha,
	// bot wall, 403/429). It escalates to a costlier fetch tier.
	ErrBlocked = errors.New("blocked by anti-bot protection")

	// ErrRenderTimeout means a browser page never loaded or settled.
	ErrRenderTimeout = errors.New("render timeout")

	// ErrNoCandidate means a strategy (or the whole pipeline) found no
	// price at all.
	ErrNoCandidate = errors.New("no candidate price found")

	// ErrBlacklistedOnly means every price a strategy found matched a
	// blacklist pattern. This is reported instead of a weak candidate.
	ErrBlacklistedOnly = errors.New("only blacklisted candidates found")

	// ErrOutOfRange means the only candidates found fell outside the
	// rule's expected price range.
	ErrOutOfRange = errors.New("candidate price outside expected range")

	// ErrVariantNotFound means the interactive resolver could not match
	// a declared attribute to any selectable page option. It is never
	// downgraded to a default variant's price.
	ErrVariantNotFound = errors.New("variant options not found on page")

	// ErrCompletionUnavailable means the completion service is not
	// configured or failed.
	ErrCompletionUnavailable = errors.New("completion service unavailable")

	// ErrTimeout is the terminal per-item timeout.
	ErrTimeout = errors.New("extraction timed out")
)
