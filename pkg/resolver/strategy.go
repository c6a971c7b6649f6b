// Package resolver turns unresolved post ids into media URLs by walking an
// ordered chain of lookup strategies.
package resolver

import (
	"context"
	"time"

	"likegrab/pkg/models"
)

// Outcome is the per-post result of a lookup
type Outcome int

const (
	// OutcomeResolved means media URLs were found
	OutcomeResolved Outcome = iota
	// OutcomeNoMedia means the post is definitively gone or has no media
	OutcomeNoMedia
	// OutcomeRetryable means this strategy could not decide; a later one may
	OutcomeRetryable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeNoMedia:
		return "no_media"
	default:
		return "retryable"
	}
}

// Result is the lookup result for one post id
type Result struct {
	PostID       string
	Outcome      Outcome
	MediaURLs    []string
	AuthorHandle string
	PostedAt     *time.Time
	// Reason explains a no-media or retryable outcome
	Reason string
}

// Strategy looks up a batch of post ids. A returned error applies to the
// whole batch; per-id outcomes are reported through Results. Ids missing
// from the results are treated as retryable.
type Strategy interface {
	Name() models.Strategy
	Lookup(ctx context.Context, ids []string) ([]Result, error)
}

// Policy bounds how a strategy is driven
type Policy struct {
	BatchSize int
	// MaxAttempts per batch for transient errors
	MaxAttempts int
	// MaxItems caps ids sent to the strategy per run (0 = unlimited)
	MaxItems int
	// MaxCalls caps lookup calls per run, retries included (0 = unlimited)
	MaxCalls int
	// MaxDuration caps wall-clock time spent in the strategy (0 = unlimited)
	MaxDuration time.Duration
	// MinInterval spaces consecutive calls
	MinInterval time.Duration
	// MaxConsecutiveFailures abandons the strategy after that many failed
	// batches in a row (0 = never)
	MaxConsecutiveFailures int
	// ThrottleAtCap reports reaching MaxItems as throttling rather than budget
	ThrottleAtCap bool
}

// Handler pairs a strategy with its policy
type Handler struct {
	Strategy Strategy
	Policy   Policy
}

// RecordSet gives the orchestrator access to the records it updates
type RecordSet interface {
	Get(id string) (*models.PostRecord, bool)
}

// Sink persists records changed by resolution
type Sink interface {
	PutPost(ctx context.Context, rec *models.PostRecord) error
}
