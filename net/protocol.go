package net

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/lcx/scosc/config"
	"github.com/lcx/scosc/log"
	"github.com/lcx/scosc/metrics"
	"github.com/lcx/scosc/osc"
)

const metricsGroup = "osc"

// protocol is the state both transports share: the lifecycle status and
// futures, captures, rate limiters and the receive pipeline. Transport
// specific I/O and registry ownership live in the embedding type.
type protocol struct {
	opts   *options
	name   string
	status atomic.Int32

	bootFuture atomic.Pointer[Future[bool]]
	exitFuture atomic.Pointer[Future[bool]]

	captures    *captureSet
	recvLimiter *RecvLimiter
	sendPacer   *SendPacer
	chain       ReceiveFilterChain

	// defaultHealthCheck comes from TransportCfg and applies to connects
	// without WithHealthCheck.
	defaultHealthCheck *HealthCheck
}

func newProtocol(o *options, self any) *protocol {
	p := &protocol{
		opts:        o,
		name:        o.name,
		captures:    newCaptureSet(o.clock),
		recvLimiter: NewRecvLimiter(o.recvLimit, o.recvBurst),
		sendPacer:   NewSendPacer(o.sendLimit, o.clock),
	}
	if p.name == "" {
		p.name = fmt.Sprintf("%p", self)
	}
	p.chain = append(ReceiveFilterChain{p.recvLimiter.Filter}, o.filters...)
	p.bootFuture.Store(NewFuture[bool]())
	p.exitFuture.Store(NewFuture[bool]())
	return p
}

// session is one Connect..Disconnect span.
type session struct {
	addr   string
	remote *net.UDPAddr
	conn   *net.UDPConn
	opts   *connectOptions

	hc         *HealthCheck
	hcActive   atomic.Bool
	hcCallback *Callback
	probe      *osc.Message
	// attempts counts unanswered probes. Only the registry owner touches it.
	attempts int

	boot *Future[bool]
	exit *Future[bool]
}

// Status returns the lifecycle state.
func (p *protocol) Status() BootStatus {
	return BootStatus(p.status.Load())
}

// BootFuture resolves true when the current connection comes online and
// false when it ends before that.
func (p *protocol) BootFuture() *Future[bool] {
	return p.bootFuture.Load()
}

// ExitFuture resolves when the current connection ends: true after a
// graceful disconnect, false after a healthcheck panic.
func (p *protocol) ExitFuture() *Future[bool] {
	return p.exitFuture.Load()
}

// Capture starts recording sent and received packets.
func (p *protocol) Capture() *Capture {
	return p.captures.newCapture()
}

// Name returns the label used in logs and metrics.
func (p *protocol) Name() string {
	return p.name
}

// RecvLimiter returns the inbound rate limiter.
func (p *protocol) RecvLimiter() *RecvLimiter {
	return p.recvLimiter
}

func (p *protocol) setStatus(s BootStatus) {
	p.status.Store(int32(s))
	p.reportStatus(s)
}

func (p *protocol) reportStatus(s BootStatus) {
	metrics.UpdateGaugeWithDimGroup(metricsGroup, "status", metrics.Value(s), metrics.Dimension{"name": p.name})
}

// beginConnect moves Offline to Booting.
func (p *protocol) beginConnect(ip string, port int) error {
	if !p.status.CompareAndSwap(int32(Offline), int32(Booting)) {
		log.Info().Str("addr", net.JoinHostPort(ip, strconv.Itoa(port))).Str("name", p.name).
			Msg("already connected")
		return ErrAlreadyConnected
	}
	p.reportStatus(Booting)
	return nil
}

// abortConnect undoes beginConnect after a setup failure.
func (p *protocol) abortConnect() {
	p.setStatus(Offline)
}

// newSession resolves the target and prepares the healthcheck. The session's
// futures become the transport's current ones.
func (p *protocol) newSession(ip string, port int, co *connectOptions) (*session, error) {
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("net: resolve %s:%d: %w", ip, port, err)
	}
	s := &session{
		addr:   remote.String(),
		remote: remote,
		opts:   co,
		boot:   NewFuture[bool](),
		exit:   NewFuture[bool](),
	}
	if co.healthCheck != nil {
		if err := co.healthCheck.validate(); err != nil {
			return nil, fmt.Errorf("net: healthcheck: %w", err)
		}
		hc := *co.healthCheck
		if hc.Timeout <= 0 {
			hc.Timeout = DefaultHealthCheckTimeout
		}
		if hc.BackoffFactor <= 0 {
			hc.BackoffFactor = DefaultHealthCheckBackoff
		}
		if hc.MaxAttempts <= 0 {
			hc.MaxAttempts = DefaultHealthCheckMaxAttempts
		}
		probe, err := hc.RequestPattern.Message()
		if err != nil {
			return nil, fmt.Errorf("net: healthcheck request: %w", err)
		}
		s.hc = &hc
		s.probe = probe
		s.hcActive.Store(hc.Active)
		s.hcCallback = &Callback{
			Pattern:   hc.ResponsePattern,
			Procedure: func(*osc.Message) { p.healthcheckPassed(s) },
		}
	}
	p.bootFuture.Store(s.boot)
	p.exitFuture.Store(s.exit)
	log.Info().Str("addr", s.addr).Str("name", p.name).Msg("connecting")
	return s, nil
}

// established moves Booting to Online.
func (p *protocol) established(s *session) {
	if !p.status.CompareAndSwap(int32(Booting), int32(Online)) {
		return
	}
	p.reportStatus(Online)
	log.Info().Str("addr", s.addr).Str("name", p.name).Msg("connected")
	s.boot.Resolve(true)
	if s.opts.onConnect != nil {
		s.opts.onConnect()
	}
}

func (p *protocol) healthcheckPassed(s *session) {
	log.Debug().Str("addr", s.addr).Str("name", p.name).Msg("healthcheck passed")
	s.attempts = 0
	if p.Status() == Booting {
		p.established(s)
	}
}

// beginQuit moves Booting or Online to Quitting. It reports false when there
// is nothing to disconnect.
func (p *protocol) beginQuit(s *session, panicked bool) bool {
	for {
		cur := p.status.Load()
		if (cur != int32(Booting) && cur != int32(Online)) || s == nil {
			log.Debug().Str("name", p.name).Stringer("status", BootStatus(cur)).Msg("already disconnected")
			return false
		}
		if p.status.CompareAndSwap(cur, int32(Quitting)) {
			break
		}
	}
	p.reportStatus(Quitting)
	if panicked {
		log.Warn().Str("addr", s.addr).Str("name", p.name).Int("attempts", s.attempts).Msg("healthcheck exhausted, panicking")
		metrics.IncrCounterWithDimGroup(metricsGroup, "panics_total", 1, metrics.Dimension{"name": p.name})
	} else {
		log.Info().Str("addr", s.addr).Str("name", p.name).Msg("disconnecting")
	}
	return true
}

// finish completes a disconnect started by beginQuit.
func (p *protocol) finish(s *session, panicked bool) {
	p.setStatus(Offline)
	log.Info().Str("addr", s.addr).Str("name", p.name).Bool("panicked", panicked).Msg("disconnected")
	s.boot.Resolve(false)
	s.exit.Resolve(!panicked)
	switch {
	case panicked && s.opts.onPanic != nil:
		s.opts.onPanic()
	case !panicked && s.opts.onDisconnect != nil:
		s.opts.onDisconnect()
	}
}

// encode checks the status, encodes pkt, waits for the send pacer and
// records the packet. The returned datagram is ready for the socket.
func (p *protocol) encode(s *session, pkt osc.Packet) ([]byte, error) {
	if st := p.Status(); (st != Booting && st != Online) || s == nil {
		return nil, ErrProtocolOffline
	}
	if pkt == nil {
		return nil, fmt.Errorf("%w: nil packet", osc.ErrMalformedInput)
	}
	datagram, err := pkt.MarshalBinary()
	if err != nil {
		metrics.IncrCounterWithDimGroup(metricsGroup, "encode_errors_total", 1, metrics.Dimension{"name": p.name})
		return nil, fmt.Errorf("net: encode: %w", err)
	}
	p.sendPacer.Take()
	p.captures.record(Sent, pkt)
	if e := log.Debug(); e.Enabled() {
		e.Str("addr", s.addr).Str("name", p.name).Stringer("packet", pkt).
			Str("datagram", osc.FormatDatagram(datagram)).Msg("send")
	}
	return datagram, nil
}

func (p *protocol) sent(s *session, n int, err error) error {
	if err != nil {
		metrics.IncrCounterWithDimGroup(metricsGroup, "send_errors_total", 1, metrics.Dimension{"name": p.name})
		return fmt.Errorf("net: send to %s: %w", s.addr, err)
	}
	metrics.IncrCounterWithDimGroup(metricsGroup, "datagrams_sent_total", 1, metrics.Dimension{"name": p.name})
	metrics.IncrCounterWithDimGroup(metricsGroup, "bytes_sent_total", metrics.Value(n), metrics.Dimension{"name": p.name})
	return nil
}

// receive runs one datagram through decode, capture, the filter chain and
// dispatch. Decode errors drop the datagram.
func (p *protocol) receive(s *session, datagram []byte, remote net.Addr, dispatch func(*osc.Message)) {
	start := time.Now()
	pkt, err := osc.ParsePacket(datagram)
	if err != nil {
		log.Warn().Err(err).Str("addr", s.addr).Str("name", p.name).Int("size", len(datagram)).Msg("dropping undecodable datagram")
		metrics.IncrCounterWithDimGroup(metricsGroup, "decode_errors_total", 1, metrics.Dimension{"name": p.name})
		return
	}
	metrics.IncrCounterWithDimGroup(metricsGroup, "datagrams_received_total", 1, metrics.Dimension{"name": p.name})
	p.captures.record(Received, pkt)
	if e := log.Debug(); e.Enabled() {
		e.Str("addr", s.addr).Str("name", p.name).Stringer("packet", pkt).
			Str("datagram", osc.FormatDatagram(datagram)).Msg("receive")
	}

	d := &Delivery{Datagram: datagram, Packet: pkt, Remote: remote}
	err = p.chain.Handle(d, func(d *Delivery) error {
		switch pkt := d.Packet.(type) {
		case *osc.Message:
			dispatch(pkt)
		case *osc.Bundle:
			for _, msg := range pkt.Messages() {
				dispatch(msg)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("addr", s.addr).Str("name", p.name).Msg("receive filter failed")
	}
	metrics.RecordStopwatchWithDimGroup(metricsGroup, "dispatch_seconds", start, metrics.Dimension{"name": p.name})
}

// invoke runs one callback and isolates its failure from the other matches.
func (p *protocol) invoke(ctx context.Context, s *session, cb *Callback, msg *osc.Message) {
	var err error
	kind := "error"
	r := panics.Try(func() {
		if cb.Procedure != nil {
			cb.Procedure(msg)
			return
		}
		err = cb.AsyncProcedure(ctx, msg)
	})
	if r != nil {
		err = r.AsError()
		kind = "panic"
	}
	if err == nil {
		return
	}
	log.Error().Err(err).Str("addr", s.addr).Str("name", p.name).Stringer("message", msg).
		Str("kind", kind).Msg("callback failed")
	metrics.IncrCounterWithDimGroup(metricsGroup, "callback_failures_total", 1, metrics.Dimension{"name": p.name, "kind": kind})
}

func (p *protocol) connectOptions(opts []ConnectOption) *connectOptions {
	co := newConnectOptions(opts)
	if co.healthCheck == nil && p.defaultHealthCheck != nil {
		hc := *p.defaultHealthCheck
		co.healthCheck = &hc
	}
	return co
}

func (p *protocol) applyHealthCheckCfg(cfg *TransportCfg) error {
	if cfg.HealthCheck == nil {
		return nil
	}
	hc, err := cfg.HealthCheck.Build()
	if err != nil {
		return fmt.Errorf("invalid healthcheck configuration: %w", err)
	}
	p.defaultHealthCheck = hc
	return nil
}

// OnConfigChanged implements config.ConfigChangeListener. Only the rate
// limits follow a reload.
func (p *protocol) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "transport" {
		return nil
	}
	newCfg, ok := newConfig.(*TransportCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for transport")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid transport configuration: %w", err)
	}
	p.reloadLimits(newCfg.RecvRateLimit, newCfg.RecvBurst, newCfg.SendRateLimit)
	log.Info().Str("configName", configName).Str("name", p.name).
		Int("recvRateLimit", newCfg.RecvRateLimit).Int("sendRateLimit", newCfg.SendRateLimit).
		Msg("transport rate limits reloaded")
	return nil
}

// reloadLimits swaps the rate limiters' buckets.
func (p *protocol) reloadLimits(recvLimit, recvBurst, sendLimit int) {
	p.recvLimiter.Reload(recvLimit, recvBurst)
	p.sendPacer.Reload(sendLimit)
}
