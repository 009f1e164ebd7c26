package net

import (
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"

	"github.com/lcx/scosc/metrics"
)

// RecvLimiter is a token bucket guarding the receive path. Deliveries over
// the rate are dropped rather than delayed, so a flood of notifications
// cannot stall the healthcheck or other callbacks.
//
// The bucket can be swapped at runtime by Reload.
type RecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
	dropped atomic.Uint64
}

// NewRecvLimiter allows limit deliveries per second with bursts of up to
// burst. A non-positive limit disables limiting.
func NewRecvLimiter(limit int, burst int) *RecvLimiter {
	l := &RecvLimiter{}
	l.Reload(limit, burst)
	return l
}

// Reload replaces the bucket.
func (l *RecvLimiter) Reload(limit int, burst int) {
	l.limiter.Store(newTokenBucket(limit, burst))
}

func newTokenBucket(limit, burst int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = limit
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// Allow reports whether one more delivery fits the rate.
func (l *RecvLimiter) Allow() bool {
	return l.limiter.Load().Allow()
}

// Dropped returns how many deliveries Filter has dropped.
func (l *RecvLimiter) Dropped() uint64 {
	return l.dropped.Load()
}

// Filter is a ReceiveFilter dropping deliveries over the rate.
func (l *RecvLimiter) Filter(d *Delivery, next ReceiveHandleFunc) error {
	if !l.Allow() {
		l.dropped.Add(1)
		metrics.IncrCounterWithGroup(metricsGroup, "datagrams_dropped_total", 1)
		return nil
	}
	return next(d)
}

// SendPacer is a leaky bucket spacing outbound datagrams evenly, which keeps
// large partitioned bundle bursts from overflowing the server's socket
// buffer.
type SendPacer struct {
	clock   ratelimit.Clock
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewSendPacer lets limit datagrams per second through. A non-positive
// limit disables pacing. clk may be nil for the wall clock.
func NewSendPacer(limit int, clk ratelimit.Clock) *SendPacer {
	p := &SendPacer{clock: clk}
	p.Reload(limit)
	return p
}

// Take blocks until the next datagram may be sent.
func (p *SendPacer) Take() time.Time {
	return (*p.limiter.Load()).Take()
}

// Reload replaces the bucket.
func (p *SendPacer) Reload(limit int) {
	var l ratelimit.Limiter
	switch {
	case limit <= 0:
		l = ratelimit.NewUnlimited()
	case p.clock != nil:
		l = ratelimit.New(limit, ratelimit.WithClock(p.clock))
	default:
		l = ratelimit.New(limit)
	}
	p.limiter.Store(&l)
}
