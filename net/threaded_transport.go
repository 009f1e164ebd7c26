package net

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/scosc/config"
	"github.com/lcx/scosc/log"
	"github.com/lcx/scosc/metrics"
	"github.com/lcx/scosc/osc"
)

// ThreadedTransport talks to the server from a dedicated listener goroutine
// locked to its OS thread. The listener owns the socket's read side, the
// callback registry and the healthcheck counters; other goroutines reach the
// registry only through a command queue that the listener drains before
// each datagram.
//
// Send writes directly from the calling goroutine. All methods are safe for
// concurrent use, and Disconnect may be called from inside a callback.
type ThreadedTransport struct {
	*protocol

	commands commandQueue
	// owner is held by whoever applies commands to or matches against the
	// registry, which is the listener except in RegistrySize.
	owner    sync.Mutex
	registry registry

	sess atomic.Pointer[threadedSession]
}

type threadedSession struct {
	*session
	shutdown atomic.Bool
	// deadline is when the next healthcheck step is due. Listener only.
	deadline time.Time
	done     chan struct{}
}

// NewThreadedTransport creates an offline transport.
func NewThreadedTransport(opts ...Option) *ThreadedTransport {
	t := &ThreadedTransport{}
	t.protocol = newProtocol(newOptions(opts), t)
	return t
}

// NewThreadedTransportWithConfig creates a transport from cfg. A configured
// healthcheck is used by every Connect that does not pass its own. opts are
// applied after the configuration.
func NewThreadedTransportWithConfig(cfg *TransportCfg, opts ...Option) (*ThreadedTransport, error) {
	if cfg == nil {
		return nil, errors.New("TransportCfg cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport configuration: %w", err)
	}
	t := NewThreadedTransport(append(cfg.Options(), opts...)...)
	if err := t.applyHealthCheckCfg(cfg); err != nil {
		return nil, err
	}
	return t, nil
}

// NewThreadedTransportWithConfigManager loads the "transport" configuration
// from configManager and follows its rate limit changes.
func NewThreadedTransportWithConfigManager(configManager config.ConfigManager, opts ...Option) (*ThreadedTransport, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}
	cfg := &TransportCfg{}
	if err := configManager.LoadConfig("transport", cfg); err != nil {
		return nil, fmt.Errorf("failed to load transport config: %w", err)
	}
	t, err := NewThreadedTransportWithConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	configManager.AddChangeListener(t)
	return t, nil
}

// Connect binds an ephemeral UDP socket and starts the listener.
func (t *ThreadedTransport) Connect(ip string, port int, opts ...ConnectOption) error {
	if err := t.beginConnect(ip, port); err != nil {
		return err
	}
	s, err := t.newSession(ip, port, t.connectOptions(opts))
	if err != nil {
		t.abortConnect()
		return err
	}

	network := "udp"
	if s.remote.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		s.boot.Resolve(false)
		t.abortConnect()
		return fmt.Errorf("net: listen: %w", err)
	}
	s.conn = conn

	ts := &threadedSession{
		session:  s,
		deadline: t.opts.clock.Now(),
		done:     make(chan struct{}),
	}
	var prev <-chan struct{}
	if old := t.sess.Load(); old != nil {
		prev = old.done
	}
	t.sess.Store(ts)
	if s.hcCallback != nil {
		t.commands.push(command{op: commandAdd, cb: s.hcCallback})
	}
	go t.listen(ts, prev)

	metrics.IncrCounterWithDimGroup(metricsGroup, "connects_total", 1, metrics.Dimension{"name": t.name})
	if s.hc == nil {
		t.established(s)
	}
	return nil
}

// Disconnect shuts the connection down. The listener stops within one poll
// interval; use Wait to block until it has.
func (t *ThreadedTransport) Disconnect() {
	t.disconnect(false)
}

func (t *ThreadedTransport) disconnect(panicked bool) {
	ts := t.sess.Load()
	if ts == nil {
		return
	}
	if !t.beginQuit(ts.session, panicked) {
		return
	}
	if ts.hcCallback != nil {
		t.Unregister(ts.hcCallback)
	}
	// the listener closes the socket itself, so a blocked read is never
	// torn down under it
	ts.shutdown.Store(true)
	t.finish(ts.session, panicked)
}

// Wait blocks until the listener of the latest connection has exited.
func (t *ThreadedTransport) Wait() {
	if ts := t.sess.Load(); ts != nil {
		<-ts.done
	}
}

// Send encodes p and writes it to the server.
func (t *ThreadedTransport) Send(p osc.Packet) error {
	ts := t.sess.Load()
	if ts == nil {
		return ErrProtocolOffline
	}
	return t.sendOn(ts, p)
}

func (t *ThreadedTransport) sendOn(ts *threadedSession, p osc.Packet) error {
	datagram, err := t.encode(ts.session, p)
	if err != nil {
		return err
	}
	n, err := ts.conn.WriteToUDP(datagram, ts.remote)
	return t.sent(ts.session, n, err)
}

// SendMessage builds a message from an address and Go values and sends it.
func (t *ThreadedTransport) SendMessage(address any, args ...any) error {
	msg, err := osc.NewMessage(address, args...)
	if err != nil {
		return err
	}
	return t.Send(msg)
}

// Register queues cb for insertion into the registry. It takes effect
// before the next datagram is dispatched.
func (t *ThreadedTransport) Register(cb *Callback) error {
	if err := cb.validate(); err != nil {
		return err
	}
	t.commands.push(command{op: commandAdd, cb: cb})
	return nil
}

// Unregister queues cb for removal.
func (t *ThreadedTransport) Unregister(cb *Callback) {
	if cb == nil {
		return
	}
	t.commands.push(command{op: commandRemove, cb: cb})
}

// RegistrySize applies pending commands and counts registered callbacks. It
// must not be called from a callback.
func (t *ThreadedTransport) RegistrySize() int {
	t.owner.Lock()
	defer t.owner.Unlock()
	t.commands.drainInto(&t.registry)
	return t.registry.size()
}

// ActivateHealthcheck starts probing if the connection has an inactive
// healthcheck.
func (t *ThreadedTransport) ActivateHealthcheck() {
	ts := t.sess.Load()
	if ts == nil || ts.hc == nil {
		return
	}
	if ts.hcActive.CompareAndSwap(false, true) {
		log.Info().Str("addr", ts.addr).Str("name", t.name).Msg("activating healthcheck")
	}
}

func (t *ThreadedTransport) listen(ts *threadedSession, prev <-chan struct{}) {
	defer close(ts.done)
	if prev != nil {
		<-prev
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer t.closeSession(ts)

	buf := make([]byte, t.opts.readBufferSize)
	for !ts.shutdown.Load() {
		_ = ts.conn.SetReadDeadline(time.Now().Add(t.opts.pollInterval))
		n, remote, err := ts.conn.ReadFromUDP(buf)
		if ts.shutdown.Load() {
			return
		}
		switch {
		case err == nil:
			t.handle(ts, bytes.Clone(buf[:n]), remote)
		case errors.Is(err, net.ErrClosed):
			return
		case isTimeout(err):
		default:
			log.Warn().Err(err).Str("addr", ts.addr).Str("name", t.name).Msg("read failed")
		}
		t.service(ts)
	}
}

func (t *ThreadedTransport) handle(ts *threadedSession, datagram []byte, remote *net.UDPAddr) {
	t.owner.Lock()
	defer t.owner.Unlock()
	t.commands.drainInto(&t.registry)
	t.receive(ts.session, datagram, remote, func(msg *osc.Message) {
		for _, cb := range t.registry.match(msg) {
			t.invoke(context.Background(), ts.session, cb, msg)
		}
	})
}

// service runs one healthcheck step when the deadline has passed.
func (t *ThreadedTransport) service(ts *threadedSession) {
	if ts.hc == nil || !ts.hcActive.Load() {
		return
	}
	now := t.opts.clock.Now()
	if now.Before(ts.deadline) {
		return
	}
	if ts.attempts > 0 {
		log.Info().Str("addr", ts.addr).Str("name", t.name).
			Int("remaining", ts.hc.MaxAttempts-ts.attempts).Msg("healthcheck failed")
	}
	ts.deadline = now.Add(ts.hc.Delay(ts.attempts))
	ts.attempts++
	if ts.attempts <= ts.hc.MaxAttempts {
		log.Debug().Str("addr", ts.addr).Str("name", t.name).Msg("healthcheck: checking")
		if err := t.sendOn(ts, ts.probe); err != nil {
			log.Warn().Err(err).Str("addr", ts.addr).Str("name", t.name).Msg("healthcheck probe failed")
		}
		return
	}
	t.disconnect(true)
}

// closeSession applies the commands queued during shutdown and releases
// the socket.
func (t *ThreadedTransport) closeSession(ts *threadedSession) {
	t.owner.Lock()
	t.commands.drainInto(&t.registry)
	t.owner.Unlock()
	if err := ts.conn.Close(); err != nil {
		log.Warn().Err(err).Str("addr", ts.addr).Str("name", t.name).Msg("close failed")
	}
	log.Debug().Str("addr", ts.addr).Str("name", t.name).Msg("listener stopped")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
