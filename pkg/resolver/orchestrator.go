package resolver

import (
	"context"
	"fmt"
	"time"

	"likegrab/pkg/clock"
	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
	"likegrab/pkg/metrics"
	"likegrab/pkg/models"
	"likegrab/pkg/ratelimit"
	"likegrab/pkg/retry"
)

// Stop reasons reported when a strategy gives up before its ids run out
const (
	StopAuth                = "auth"
	StopQuota               = "quota"
	StopThrottled           = "throttled"
	StopCallBudget          = "call_budget"
	StopTimeBudget          = "time_budget"
	StopItemCap             = "item_cap"
	StopConsecutiveFailures = "consecutive_failures"
	StopCancelled           = "cancelled"
)

// StrategyReport describes what one strategy did during a run
type StrategyReport struct {
	Strategy  models.Strategy
	Attempted int
	Resolved  int
	NoMedia   int
	Deferred  int
	Calls     int
	Stopped   string
	StopError string
}

// ItemResult is the final state of one requested post
type ItemResult struct {
	PostID   string
	Status   models.ResolutionStatus
	Strategy models.Strategy
	Reason   string
}

// Summary describes a resolution run
type Summary struct {
	Requested  int
	Resolved   int
	Failed     int
	Unresolved []string
	// OverBudget counts ids not attempted because of the run budget
	OverBudget int
	Strategies []StrategyReport
	// Items holds one entry per requested id, in request order
	Items []ItemResult
}

// Options configures an Orchestrator
type Options struct {
	Clock     clock.Clock
	Scheduler *ratelimit.Scheduler
	Backoff   *retry.ExponentialBackoff
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// Orchestrator drives the strategy chain
type Orchestrator struct {
	handlers  []Handler
	clock     clock.Clock
	scheduler *ratelimit.Scheduler
	backoff   *retry.ErrorTypeBackoff
	metrics   *metrics.Metrics
	logger    logger.Logger
}

// New creates an orchestrator that tries handlers in order
func New(handlers []Handler, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = ratelimit.NewScheduler(opts.Clock, opts.Logger)
	}
	return &Orchestrator{
		handlers:  handlers,
		clock:     opts.Clock,
		scheduler: opts.Scheduler,
		backoff:   retry.NewErrorTypeBackoff(opts.Backoff),
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithField("component", "resolver"),
	}
}

// Resolve attempts every unresolved id, updating records in place and
// persisting each change through sink. Ids already resolved or permanently
// failed are skipped. When budget > 0 only the first budget ids are
// attempted. Cancelling ctx stops new calls between batches; a lookup already
// sent completes and its results are persisted. The returned error is non-nil
// only if sink fails.
func (o *Orchestrator) Resolve(ctx context.Context, records RecordSet, sink Sink, ids []string, budget int) (*Summary, error) {
	sum := &Summary{}

	seen := make(map[string]struct{}, len(ids))
	var todo []string
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rec, ok := records.Get(id)
		if !ok || rec.ResolutionStatus != models.StatusUnresolved {
			continue
		}
		todo = append(todo, id)
	}
	sum.Requested = len(todo)

	attempt := todo
	var overBudget []string
	if budget > 0 && len(todo) > budget {
		attempt, overBudget = todo[:budget], todo[budget:]
		sum.OverBudget = len(overBudget)
	}

	o.logger.InfoWithFields("Starting resolution", map[string]interface{}{
		"requested":   sum.Requested,
		"attempting":  len(attempt),
		"over_budget": len(overBudget),
		"strategies":  len(o.handlers),
	})

	remaining := attempt
	for _, h := range o.handlers {
		if len(remaining) == 0 || ctx.Err() != nil {
			break
		}
		carry, rep, err := o.runStrategy(ctx, h, remaining, records, sink)
		sum.Strategies = append(sum.Strategies, rep)
		if err != nil {
			return sum, err
		}
		remaining = carry
	}

	sum.Unresolved = append(append([]string{}, remaining...), overBudget...)
	for _, id := range todo {
		rec, _ := records.Get(id)
		item := ItemResult{PostID: id, Status: rec.ResolutionStatus, Strategy: rec.ResolutionStrategy, Reason: rec.LastError}
		switch rec.ResolutionStatus {
		case models.StatusResolved:
			sum.Resolved++
		case models.StatusPermanentlyFailed:
			sum.Failed++
		}
		sum.Items = append(sum.Items, item)
	}
	return sum, nil
}

func (o *Orchestrator) runStrategy(ctx context.Context, h Handler, ids []string, records RecordSet, sink Sink) ([]string, StrategyReport, error) {
	name := h.Strategy.Name()
	key := string(name)
	p := h.Policy
	rep := StrategyReport{Strategy: name}
	log := o.logger.WithField("strategy", key)

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	var deadline time.Time
	if p.MaxDuration > 0 {
		deadline = o.clock.Now().Add(p.MaxDuration)
	}
	o.scheduler.SetInterval(key, p.MinInterval)

	var carry []string
	var stopErr error
	consecutive := 0
	pos := 0

loop:
	for pos < len(ids) {
		switch {
		case ctx.Err() != nil:
			rep.Stopped = StopCancelled
			break loop
		case !deadline.IsZero() && !o.clock.Now().Before(deadline):
			rep.Stopped = StopTimeBudget
			break loop
		case p.MaxCalls > 0 && rep.Calls >= p.MaxCalls:
			rep.Stopped = StopCallBudget
			break loop
		}

		n := batchSize
		if left := len(ids) - pos; n > left {
			n = left
		}
		if p.MaxItems > 0 {
			left := p.MaxItems - rep.Attempted
			if left <= 0 {
				rep.Stopped = StopItemCap
				if p.ThrottleAtCap {
					rep.Stopped = StopThrottled
				}
				break loop
			}
			if n > left {
				n = left
			}
		}
		batch := ids[pos : pos+n]

		results, err := o.lookup(ctx, h, batch, deadline, &rep)
		if err != nil {
			switch {
			case errs.IsBudget(err):
				rep.Stopped = budgetReason(ctx, p, &rep)
				stopErr = err
				break loop
			case errs.IsStrategyFatal(err):
				rep.Stopped = fatalReason(err)
				stopErr = err
				break loop
			}

			log.WarnWithFields("Batch failed, deferring to next strategy", map[string]interface{}{
				"batch_size": n,
				"error":      err.Error(),
			})
			carry = append(carry, batch...)
			rep.Attempted += n
			rep.Deferred += n
			pos += n
			consecutive++
			if p.MaxConsecutiveFailures > 0 && consecutive >= p.MaxConsecutiveFailures {
				rep.Stopped = StopConsecutiveFailures
				stopErr = err
				break loop
			}
			continue
		}

		consecutive = 0
		rep.Attempted += n
		pos += n
		deferred, err := o.apply(ctx, name, batch, results, records, sink, &rep)
		if err != nil {
			return nil, rep, err
		}
		carry = append(carry, deferred...)
	}

	carry = append(carry, ids[pos:]...)

	if rep.Stopped != "" {
		if stopErr != nil {
			rep.StopError = stopErr.Error()
		}
		o.metrics.StrategyStopped(key, rep.Stopped)
		logger.LogStrategyFallback(log, key, rep.Stopped, len(ids)-pos, stopErr)
	}

	log.InfoWithFields("Strategy finished", map[string]interface{}{
		"attempted": rep.Attempted,
		"resolved":  rep.Resolved,
		"no_media":  rep.NoMedia,
		"deferred":  rep.Deferred,
		"calls":     rep.Calls,
		"carried":   len(carry),
	})
	return carry, rep, nil
}

// lookup runs one batch through the strategy with retries. Every attempt
// goes through the scheduler and counts against the call budget.
func (o *Orchestrator) lookup(ctx context.Context, h Handler, batch []string, deadline time.Time, rep *StrategyReport) ([]Result, error) {
	key := string(h.Strategy.Name())
	attempts := h.Policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	cfg := &retry.Config{
		MaxAttempts: attempts,
		BackoffFor:  o.backoff.ForError,
		Clock:       o.clock,
		Logger:      o.logger,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			o.metrics.Retry(key)
		},
	}

	return retry.DoWithResult(ctx, func(ctx context.Context, attempt int) ([]Result, error) {
		if h.Policy.MaxCalls > 0 && rep.Calls >= h.Policy.MaxCalls {
			return nil, errs.Budget(fmt.Sprintf("%s call budget of %d exhausted", key, h.Policy.MaxCalls))
		}
		if err := o.scheduler.Wait(ctx, key, deadline); err != nil {
			return nil, err
		}

		rep.Calls++
		o.scheduler.Mark(key)
		o.metrics.StrategyCall(key)

		// A call that has started runs to completion under the client timeout.
		results, err := h.Strategy.Lookup(context.WithoutCancel(ctx), batch)
		if ra := errs.RetryAfterOf(err); ra > 0 {
			until := o.clock.Now().Add(ra)
			o.scheduler.Defer(key, until)
			if !deadline.IsZero() && until.After(deadline) {
				return nil, errs.Budget(fmt.Sprintf("%s rate limited until %s, past its time budget", key, until.Format(time.RFC3339)))
			}
		}
		return results, err
	}, cfg)
}

func (o *Orchestrator) apply(ctx context.Context, name models.Strategy, batch []string, results []Result, records RecordSet, sink Sink, rep *StrategyReport) ([]string, error) {
	byID := make(map[string]Result, len(results))
	for _, r := range results {
		if _, dup := byID[r.PostID]; !dup {
			byID[r.PostID] = r
		}
	}

	now := o.clock.Now()
	var deferred []string
	for _, id := range batch {
		rec, ok := records.Get(id)
		if !ok {
			continue
		}
		r, ok := byID[id]
		if !ok {
			r = Result{PostID: id, Outcome: OutcomeRetryable, Reason: "missing from response"}
		}
		if r.Outcome == OutcomeResolved && len(r.MediaURLs) == 0 {
			r.Outcome = OutcomeRetryable
			r.Reason = "resolved without media urls"
		}

		changed := false
		switch r.Outcome {
		case OutcomeResolved:
			changed = rec.Resolve(r.MediaURLs, name, r.AuthorHandle, r.PostedAt, now)
			if changed {
				rep.Resolved++
			}
		case OutcomeNoMedia:
			changed = rec.Fail(name, r.Reason, now)
			if changed {
				rep.NoMedia++
			}
		default:
			deferred = append(deferred, id)
			rep.Deferred++
		}

		o.metrics.Resolution(string(name), r.Outcome.String())
		logger.LogResolution(o.logger, id, string(name), r.Outcome.String(), len(r.MediaURLs))

		if changed && sink != nil {
			if err := sink.PutPost(context.WithoutCancel(ctx), rec); err != nil {
				return nil, fmt.Errorf("record resolution of %s: %w", id, err)
			}
		}
	}
	return deferred, nil
}

func budgetReason(ctx context.Context, p Policy, rep *StrategyReport) string {
	switch {
	case ctx.Err() != nil:
		return StopCancelled
	case p.MaxCalls > 0 && rep.Calls >= p.MaxCalls:
		return StopCallBudget
	default:
		return StopTimeBudget
	}
}

func fatalReason(err error) string {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeQuota:
		return StopQuota
	case errs.ErrorTypeThrottled:
		return StopThrottled
	default:
		return StopAuth
	}
}
