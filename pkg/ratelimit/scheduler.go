// Package ratelimit schedules calls against remote services. It tracks, per
// key, the earliest time the next call may be issued, combining a fixed
// minimum spacing with quota windows reported by the server.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"likegrab/pkg/clock"
	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
)

// Quota is the rate-limit state reported by a server response
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
	// Known is false when the response carried no rate-limit headers
	Known bool
}

// Exhausted reports whether the window has no calls left
func (q Quota) Exhausted() bool {
	return q.Known && q.Remaining <= 0
}

// ParseHeaders reads the x-rate-limit-* headers used by the X API
func ParseHeaders(get func(string) string) Quota {
	var q Quota
	if v := get("x-rate-limit-limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	rem := get("x-rate-limit-remaining")
	if rem == "" {
		return q
	}
	n, err := strconv.Atoi(rem)
	if err != nil {
		return q
	}
	q.Remaining = n
	q.Known = true
	if v := get("x-rate-limit-reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.Reset = time.Unix(secs, 0)
		}
	}
	return q
}

type keyState struct {
	interval time.Duration
	next     time.Time
}

// Scheduler holds the next-allowed time for each key
type Scheduler struct {
	mu     sync.Mutex
	clock  clock.Clock
	keys   map[string]*keyState
	logger logger.Logger
}

// NewScheduler creates a scheduler driven by clk
func NewScheduler(clk clock.Clock, log logger.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		clock:  clk,
		keys:   make(map[string]*keyState),
		logger: log,
	}
}

func (s *Scheduler) state(key string) *keyState {
	st, ok := s.keys[key]
	if !ok {
		st = &keyState{}
		s.keys[key] = st
	}
	return st
}

// SetInterval sets the minimum spacing between calls for key
func (s *Scheduler) SetInterval(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(key).interval = d
}

// NextAllowed returns the earliest time a call for key may start
func (s *Scheduler) NextAllowed(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(key).next
}

// Wait blocks until key may issue a call. If a non-zero deadline would pass
// before that, it returns a budget error without waiting.
func (s *Scheduler) Wait(ctx context.Context, key string, deadline time.Time) error {
	next := s.NextAllowed(key)
	now := s.clock.Now()
	if !next.After(now) {
		return ctx.Err()
	}
	if !deadline.IsZero() && next.After(deadline) {
		return errs.Budget(fmt.Sprintf("%s: next call allowed at %s, after deadline", key, next.Format(time.RFC3339)))
	}

	wait := next.Sub(now)
	if wait >= time.Second {
		logger.LogRateLimit(s.logger, key, wait)
	}
	return s.clock.Sleep(ctx, wait)
}

// Mark records that a call for key was just issued
func (s *Scheduler) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(key)
	if st.interval <= 0 {
		return
	}
	if next := s.clock.Now().Add(st.interval); next.After(st.next) {
		st.next = next
	}
}

// Defer pushes the next allowed call for key back to at least until
func (s *Scheduler) Defer(key string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(key)
	if until.After(st.next) {
		st.next = until
	}
}

// Observe applies a server-reported quota: an exhausted window blocks key
// until the window resets.
func (s *Scheduler) Observe(key string, q Quota) {
	if !q.Exhausted() || q.Reset.IsZero() {
		return
	}
	s.Defer(key, q.Reset)
	s.logger.DebugWithFields("quota window exhausted", map[string]interface{}{
		"key":   key,
		"reset": q.Reset,
	})
}
