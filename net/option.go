package net

import (
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultPollInterval bounds how long the threaded listener blocks in a
	// read before it checks for shutdown and runs its healthcheck step.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultReadBufferSize fits the largest UDP payload.
	DefaultReadBufferSize = 65535
)

// Option configures a transport at construction.
//
// Usage example:
// t := NewThreadedTransport(WithName("scsynth"), WithRecvRateLimit(5000, 500))
type Option func(*options)

type options struct {
	name           string
	clock          clock.Clock
	pollInterval   time.Duration
	readBufferSize int
	filters        ReceiveFilterChain
	recvLimit      int
	recvBurst      int
	sendLimit      int
}

func defaultOptions() *options {
	return &options{
		clock:          clock.New(),
		pollInterval:   DefaultPollInterval,
		readBufferSize: DefaultReadBufferSize,
	}
}

func newOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithName labels the transport in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithClock replaces the wall clock used for healthcheck timing, capture
// timestamps and send pacing.
//
// Parameters:
// - clk: The clock, typically a *clock.Mock in tests
//
// Returns:
// An Option installing the clock
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithPollInterval sets the read deadline of the threaded listener. Shorter
// intervals make shutdown and healthcheck steps more responsive.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithReadBufferSize sets the size of the datagram read buffer.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithReceiveFilter appends filters run on every inbound delivery, after the
// receive rate limiter and before dispatch.
func WithReceiveFilter(filters ...ReceiveFilter) Option {
	return func(o *options) {
		o.filters = append(o.filters, filters...)
	}
}

// WithRecvRateLimit drops inbound datagrams beyond limit per second, with
// bursts of up to burst.
func WithRecvRateLimit(limit, burst int) Option {
	return func(o *options) {
		o.recvLimit = limit
		o.recvBurst = burst
	}
}

// WithSendRateLimit paces outbound datagrams to at most limit per second.
// Send blocks its caller while it waits for the pacer. On a LoopTransport the
// caller holds the loop, so dispatch and the healthcheck wait along with it;
// keep the limit well above the rate of loop sends.
func WithSendRateLimit(limit int) Option {
	return func(o *options) {
		o.sendLimit = limit
	}
}

// ConnectOption configures one connection.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	healthCheck  *HealthCheck
	onConnect    func()
	onDisconnect func()
	onPanic      func()
}

func newConnectOptions(opts []ConnectOption) *connectOptions {
	o := &connectOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHealthCheck probes the server while connected. The transport stays
// Booting until the first response arrives.
func WithHealthCheck(hc *HealthCheck) ConnectOption {
	return func(o *connectOptions) {
		o.healthCheck = hc
	}
}

// WithOnConnect runs fn when the transport comes online.
func WithOnConnect(fn func()) ConnectOption {
	return func(o *connectOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect runs fn after a graceful disconnect.
func WithOnDisconnect(fn func()) ConnectOption {
	return func(o *connectOptions) {
		o.onDisconnect = fn
	}
}

// WithOnPanic runs fn after the healthcheck gave up on the server.
func WithOnPanic(fn func()) ConnectOption {
	return func(o *connectOptions) {
		o.onPanic = fn
	}
}
