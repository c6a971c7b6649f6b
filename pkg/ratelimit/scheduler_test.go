package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likegrab/pkg/clock"
	errs "likegrab/pkg/errors"
	"likegrab/pkg/logger"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSchedulerInterval(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewScheduler(clk, logger.NewNopLogger())
	s.SetInterval("scrape", 2*time.Second)

	require.NoError(t, s.Wait(context.Background(), "scrape", time.Time{}))
	s.Mark("scrape")
	require.NoError(t, s.Wait(context.Background(), "scrape", time.Time{}))
	s.Mark("scrape")

	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
}

func TestSchedulerObserveBlocksUntilReset(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewScheduler(clk, logger.NewNopLogger())

	h := http.Header{}
	h.Set("x-rate-limit-limit", "300")
	h.Set("x-rate-limit-remaining", "0")
	h.Set("x-rate-limit-reset", strconv.FormatInt(epoch.Add(5*time.Minute).Unix(), 10))
	q := ParseHeaders(h.Get)
	require.True(t, q.Exhausted())
	assert.Equal(t, 300, q.Limit)

	s.Observe("paid_api", q)
	require.NoError(t, s.Wait(context.Background(), "paid_api", time.Time{}))
	assert.Equal(t, epoch.Add(5*time.Minute), clk.Now())

	// Other keys are unaffected.
	require.NoError(t, s.Wait(context.Background(), "session_api", time.Time{}))
	assert.Len(t, clk.Sleeps(), 1)
}

func TestSchedulerWaitPastDeadline(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewScheduler(clk, logger.NewNopLogger())
	s.Defer("paid_api", epoch.Add(15*time.Minute))

	err := s.Wait(context.Background(), "paid_api", epoch.Add(time.Minute))
	assert.True(t, errs.IsBudget(err))
	assert.Empty(t, clk.Sleeps())
}

func TestParseHeadersMissing(t *testing.T) {
	q := ParseHeaders(http.Header{}.Get)
	assert.False(t, q.Known)
	assert.False(t, q.Exhausted())
}

func TestDeferNeverMovesBackwards(t *testing.T) {
	s := NewScheduler(clock.NewFake(epoch), logger.NewNopLogger())
	s.Defer("k", epoch.Add(time.Hour))
	s.Defer("k", epoch.Add(time.Minute))
	assert.Equal(t, epoch.Add(time.Hour), s.NextAllowed("k"))
}
