// Package throttle paces outbound platform calls.
package throttle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Throttle blocks until the next call may proceed or ctx is done.
type Throttle interface {
	Wait(ctx context.Context) error
}

// Jitter waits a uniformly random duration in [min, max] between calls.
type Jitter struct {
	clock clockwork.Clock
	min   time.Duration
	max   time.Duration
	rand  func(n int64) int64
}

// JitterOption configures a Jitter.
type JitterOption func(*Jitter)

// WithClock swaps the clock, typically for clockwork.NewFakeClock in tests.
func WithClock(c clockwork.Clock) JitterOption {
	return func(j *Jitter) {
		j.clock = c
	}
}

// WithRand swaps the random source. f returns a value in [0, n).
func WithRand(f func(n int64) int64) JitterOption {
	return func(j *Jitter) {
		j.rand = f
	}
}

// NewJitter creates a randomized delay throttle.
func NewJitter(min, max time.Duration, opts ...JitterOption) (*Jitter, error) {
	if min < 0 || max < min {
		return nil, fmt.Errorf("invalid jitter bounds [%s, %s]", min, max)
	}
	j := &Jitter{
		clock: clockwork.NewRealClock(),
		min:   min,
		max:   max,
		rand:  rand.Int64N,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Next returns the delay the next Wait will use.
func (j *Jitter) Next() time.Duration {
	span := int64(j.max - j.min)
	if span == 0 {
		return j.min
	}
	return j.min + time.Duration(j.rand(span+1))
}

// Wait sleeps for Next() or until ctx is done.
func (j *Jitter) Wait(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return ctx.Err()
	}
	timer := j.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// Limiter is a shared token bucket, used process-wide to keep aggregate ban
// traffic under the platform's global limit.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter allows perSecond events with the given burst. A non-positive
// rate disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// None never waits. Useful when pacing happens elsewhere.
type None struct{}

// Wait only reports cancellation.
func (None) Wait(ctx context.Context) error {
	return ctx.Err()
}
