package models

import "time"

// VariantAttribute is one declared product option, e.g. {"power", "60W"}.
// Attribute order on a ProductTarget is the selection order: the primary
// attribute (power level) comes before secondary ones (bundle tier).
type VariantAttribute struct {
	Name  string `json:"name" firestore:"name" validate:"required"`
	Value string `json:"value" firestore:"value" validate:"required"`
}

// ProductTarget is one catalogued product whose listed price we track.
// Targets are authored by the external catalog and are read-only here.
type ProductTarget struct {
	ID            string             `json:"id" validate:"required"`
	Name          string             `json:"name" validate:"required"`
	URL           string             `json:"url" validate:"required,url"`
	Currency      string             `json:"currency,omitempty"`
	PreviousPrice float64            `json:"previous_price,omitempty" validate:"gte=0"`
	Attributes    []VariantAttribute `json:"attributes,omitempty" validate:"dive"`
}

// CandidatePrice is an extracted price pending validation. It lives for a
// single extraction attempt; the Snippet carries the raw source fragment
// for audit.
type CandidatePrice struct {
	Value      float64
	Currency   string
	Strategy   string
	Selector   string
	Snippet    string
	Confidence float64
}

// VerdictOutcome classifies a validated extraction.
type VerdictOutcome string

const (
	VerdictAutoAccepted VerdictOutcome = "auto-accepted"
	VerdictNeedsReview  VerdictOutcome = "needs-review"
	VerdictRejected     VerdictOutcome = "rejected"
)

// Verdict is the result of validating a CandidatePrice against the
// previously recorded price and the rule's expected range.
type Verdict struct {
	Outcome     VerdictOutcome
	Reason      string
	PctChange   float64
	HasPrevious bool
}

// LearnedSelector remembers which selector and strategy last produced an
// auto-accepted price for a (domain, product) pair.
type LearnedSelector struct {
	Selector    string    `firestore:"selector"`
	Strategy    string    `firestore:"strategy"`
	LastSuccess time.Time `firestore:"lastSuccess"`
	Confidence  float64   `firestore:"confidence"`
	Misses      int       `firestore:"misses"`
}

// ExtractionRecord is the persisted outcome of one validated extraction.
type ExtractionRecord struct {
	ProductID  string    `firestore:"productId"`
	URL        string    `firestore:"url"`
	Price      float64   `firestore:"price"`
	Currency   string    `firestore:"currency,omitempty"`
	Strategy   string    `firestore:"strategy"`
	Selector   string    `firestore:"selector,omitempty"`
	Verdict    string    `firestore:"verdict"`
	Reason     string    `firestore:"reason,omitempty"`
	PctChange  float64   `firestore:"pctChange"`
	RecordedAt time.Time `firestore:"recordedAt"`
}

// ItemOutcome is the per-product entry in a batch report.
type ItemOutcome struct {
	ProductID string   `json:"productId"`
	OldPrice  float64  `json:"oldPrice,omitempty"`
	NewPrice  float64  `json:"newPrice,omitempty"`
	Strategy  string   `json:"strategy,omitempty"`
	Verdict   *Verdict `json:"verdict,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// BatchReport aggregates a full orchestrator run. It is only finalized
// after every item has reached a terminal state.
type BatchReport struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Unchanged   int           `json:"unchanged"`
	Updated     int           `json:"updated"`
	NeedsReview int           `json:"needsReview"`
	Items       []ItemOutcome `json:"items"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
}
