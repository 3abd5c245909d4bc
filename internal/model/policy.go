package model

// ReviewAction is what the intake reviewer must do with a field or line
// item at a given confidence level.
type ReviewAction string

const (
	ReviewAccept      ReviewAction = "accept"
	ReviewVerify      ReviewAction = "verify"
	ReviewCorrect     ReviewAction = "correct"
	ReviewManualEntry ReviewAction = "manual_entry"
)

// ConfidenceBand maps an inclusive confidence range to a reviewer action.
type ConfidenceBand struct {
	Min    int          `json:"min"`
	Max    int          `json:"max"`
	Action ReviewAction `json:"action"`
}

// ReviewPolicy is the confidence-band table consulted when deciding how
// much human attention an extracted value needs. Kept as data so the
// thresholds are tunable and testable independently of control flow.
type ReviewPolicy struct {
	Bands []ConfidenceBand `json:"bands"`
}

// DefaultReviewPolicy returns the standard band table.
func DefaultReviewPolicy() ReviewPolicy {
	return ReviewPolicy{Bands: []ConfidenceBand{
		{Min: 90, Max: 100, Action: ReviewAccept},
		{Min: 60, Max: 89, Action: ReviewVerify},
		{Min: 1, Max: 59, Action: ReviewCorrect},
		{Min: 0, Max: 0, Action: ReviewManualEntry},
	}}
}

// ActionFor returns the reviewer action for a confidence score. Scores
// outside 0-100 are clamped.
func (p ReviewPolicy) ActionFor(confidence int) ReviewAction {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	for _, b := range p.Bands {
		if confidence >= b.Min && confidence <= b.Max {
			return b.Action
		}
	}
	return ReviewManualEntry
}

// NeedsReview reports whether any field in the extraction falls below the
// accept band, meaning the referral requires human attention before it can
// be approved unseen.
func (p ReviewPolicy) NeedsReview(fields map[string]ExtractedField) bool {
	for _, f := range fields {
		if p.ActionFor(f.Confidence) != ReviewAccept {
			return true
		}
	}
	return len(fields) == 0
}
