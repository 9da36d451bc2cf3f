package validate

import (
	"fmt"
	"math"

	"github.com/bkowalcz/pricewatch/internal/models"
	"github.com/bkowalcz/pricewatch/internal/rules"
)

// Validator turns an extracted candidate into a verdict by comparing it
// against the previous observation and the rule's plausibility range.
// Thresholds are fractions: 0.30 means a 30% move.
type Validator struct {
	IncreasePct float64
	DecreasePct float64
	GlobalFloor float64
}

func New(increasePct, decreasePct, globalFloor float64) *Validator {
	return &Validator{
		IncreasePct: increasePct,
		DecreasePct: decreasePct,
		GlobalFloor: globalFloor,
	}
}

// Validate never errors: every candidate gets a verdict. Rejections carry
// the reason so the audit record explains itself.
func (v *Validator) Validate(candidate models.CandidatePrice, previous *float64, rule rules.Resolved) models.Verdict {
	if candidate.Value < v.GlobalFloor {
		return models.Verdict{
			Outcome: models.VerdictRejected,
			Reason:  fmt.Sprintf("price %.2f below plausibility floor %.2f", candidate.Value, v.GlobalFloor),
		}
	}
	if !rule.InRange(candidate.Value) {
		return models.Verdict{
			Outcome: models.VerdictRejected,
			Reason:  fmt.Sprintf("price %.2f outside configured range [%.2f, %.2f]", candidate.Value, rule.MinPrice, rule.MaxPrice),
		}
	}

	if previous == nil || *previous <= 0 {
		return models.Verdict{
			Outcome: models.VerdictAutoAccepted,
			Reason:  "first observation",
		}
	}

	prev := *previous
	if candidate.Value == prev {
		return models.Verdict{
			Outcome:     models.VerdictAutoAccepted,
			Reason:      "unchanged",
			HasPrevious: true,
		}
	}

	pct := (candidate.Value - prev) / prev
	verdict := models.Verdict{
		PctChange:   pct,
		HasPrevious: true,
	}

	// A zero threshold means every change in that direction needs review.
	switch {
	case pct > 0 && pct <= v.IncreasePct && v.IncreasePct > 0:
		verdict.Outcome = models.VerdictAutoAccepted
		verdict.Reason = fmt.Sprintf("increase of %.1f%% within threshold", pct*100)
	case pct < 0 && math.Abs(pct) <= v.DecreasePct && v.DecreasePct > 0:
		verdict.Outcome = models.VerdictAutoAccepted
		verdict.Reason = fmt.Sprintf("decrease of %.1f%% within threshold", math.Abs(pct)*100)
	default:
		verdict.Outcome = models.VerdictNeedsReview
		verdict.Reason = fmt.Sprintf("change of %+.1f%% exceeds threshold", pct*100)
	}
	return verdict
}
