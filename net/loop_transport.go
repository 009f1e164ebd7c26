package net

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/lcx/scosc/log"
	"github.com/lcx/scosc/metrics"
	"github.com/lcx/scosc/osc"
)

// LoopTransport is driven by an EventLoop. Every method must be called
// while holding the loop: inside EventLoop.Run, a spawned task or a
// callback. Registry changes therefore apply immediately.
//
// A reader goroutine turns each datagram into a loop turn. Procedure
// callbacks run in that turn; AsyncProcedure callbacks are spawned as loop
// tasks.
type LoopTransport struct {
	*protocol

	loop     *EventLoop
	registry registry
	sess     *loopSession
}

type loopSession struct {
	*session
	ctx    context.Context
	cancel context.CancelFunc
	hcTask *Task
}

// NewLoopTransport creates an offline transport bound to loop. Unless
// WithClock is given, the transport uses the loop's clock.
func NewLoopTransport(loop *EventLoop, opts ...Option) *LoopTransport {
	t := &LoopTransport{loop: loop}
	t.protocol = newProtocol(newOptions(append([]Option{WithClock(loop.Clock())}, opts...)), t)
	return t
}

// NewLoopTransportWithConfig creates a loop transport from cfg.
func NewLoopTransportWithConfig(loop *EventLoop, cfg *TransportCfg, opts ...Option) (*LoopTransport, error) {
	if cfg == nil {
		return nil, errors.New("TransportCfg cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport configuration: %w", err)
	}
	t := NewLoopTransport(loop, append(cfg.Options(), opts...)...)
	if err := t.applyHealthCheckCfg(cfg); err != nil {
		return nil, err
	}
	return t, nil
}

// Loop returns the loop driving the transport.
func (t *LoopTransport) Loop() *EventLoop {
	return t.loop
}

// Connect dials the server and starts the reader and, for an active
// healthcheck, the healthcheck task.
func (t *LoopTransport) Connect(ip string, port int, opts ...ConnectOption) error {
	if err := t.beginConnect(ip, port); err != nil {
		return err
	}
	s, err := t.newSession(ip, port, t.connectOptions(opts))
	if err != nil {
		t.abortConnect()
		return err
	}
	conn, err := net.DialUDP("udp", nil, s.remote)
	if err != nil {
		s.boot.Resolve(false)
		t.abortConnect()
		return fmt.Errorf("net: dial: %w", err)
	}
	s.conn = conn

	ls := &loopSession{session: s}
	ls.ctx, ls.cancel = context.WithCancel(context.Background())
	t.sess = ls
	if s.hcCallback != nil {
		t.registry.add(s.hcCallback)
	}
	go t.read(ls)

	metrics.IncrCounterWithDimGroup(metricsGroup, "connects_total", 1, metrics.Dimension{"name": t.name})
	switch {
	case s.hc == nil:
		t.established(s)
	case s.hcActive.Load():
		t.startHealthcheck(ls)
	}
	return nil
}

// Disconnect closes the socket and cancels the healthcheck task.
func (t *LoopTransport) Disconnect() {
	t.disconnect(t.sess, false)
}

func (t *LoopTransport) disconnect(ls *loopSession, panicked bool) {
	if ls == nil || ls != t.sess {
		return
	}
	if !t.beginQuit(ls.session, panicked) {
		return
	}
	if ls.hcCallback != nil {
		t.registry.remove(ls.hcCallback)
	}
	if ls.hcTask != nil {
		ls.hcTask.Cancel()
	}
	ls.cancel()
	if err := ls.conn.Close(); err != nil {
		log.Warn().Err(err).Str("addr", ls.addr).Str("name", t.name).Msg("close failed")
	}
	t.finish(ls.session, panicked)
}

// Send encodes p and writes it to the server.
func (t *LoopTransport) Send(p osc.Packet) error {
	if t.sess == nil {
		return ErrProtocolOffline
	}
	datagram, err := t.encode(t.sess.session, p)
	if err != nil {
		return err
	}
	n, err := t.sess.conn.Write(datagram)
	return t.sent(t.sess.session, n, err)
}

// SendMessage builds a message from an address and Go values and sends it.
func (t *LoopTransport) SendMessage(address any, args ...any) error {
	msg, err := osc.NewMessage(address, args...)
	if err != nil {
		return err
	}
	return t.Send(msg)
}

// Register adds cb to the registry.
func (t *LoopTransport) Register(cb *Callback) error {
	if err := cb.validate(); err != nil {
		return err
	}
	t.registry.add(cb)
	return nil
}

// Unregister removes cb from the registry.
func (t *LoopTransport) Unregister(cb *Callback) {
	if cb == nil {
		return
	}
	t.registry.remove(cb)
}

// RegistrySize counts registered callbacks.
func (t *LoopTransport) RegistrySize() int {
	return t.registry.size()
}

// PendingTasks counts loop tasks that have not finished, including spawned
// AsyncProcedure callbacks and the healthcheck task.
func (t *LoopTransport) PendingTasks() int {
	return t.loop.PendingTasks()
}

// ActivateHealthcheck starts the healthcheck task if the connection has an
// inactive healthcheck.
func (t *LoopTransport) ActivateHealthcheck() {
	ls := t.sess
	if ls == nil || ls.hc == nil || ls.hcTask != nil {
		return
	}
	if st := t.Status(); st != Booting && st != Online {
		return
	}
	if ls.hcActive.CompareAndSwap(false, true) {
		log.Info().Str("addr", ls.addr).Str("name", t.name).Msg("activating healthcheck")
		t.startHealthcheck(ls)
	}
}

func (t *LoopTransport) startHealthcheck(ls *loopSession) {
	ls.hcTask = t.loop.Spawn(func(ctx context.Context) error {
		return t.runHealthcheck(ctx, ls)
	})
}

// runHealthcheck probes until the session ends, panicking once MaxAttempts
// probes went unanswered.
func (t *LoopTransport) runHealthcheck(ctx context.Context, ls *loopSession) error {
	for t.sess == ls {
		if st := t.Status(); st != Booting && st != Online {
			return nil
		}
		if ls.attempts >= ls.hc.MaxAttempts {
			t.disconnect(ls, true)
			return nil
		}
		log.Debug().Str("addr", ls.addr).Str("name", t.name).Msg("healthcheck: checking")
		if err := t.Send(ls.probe); err != nil {
			log.Warn().Err(err).Str("addr", ls.addr).Str("name", t.name).Msg("healthcheck probe failed")
		}
		delay := ls.hc.Delay(ls.attempts)
		ls.attempts++
		if err := t.loop.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
	return nil
}

// read forwards datagrams into loop turns until the socket is closed.
func (t *LoopTransport) read(ls *loopSession) {
	buf := make([]byte, t.opts.readBufferSize)
	for {
		n, err := ls.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ls.ctx.Err() != nil {
				return
			}
			// a connected UDP socket reports ICMP port unreachable as a
			// read error while the server is still starting
			log.Debug().Err(err).Str("addr", ls.addr).Str("name", t.name).Msg("read failed")
			continue
		}
		datagram := bytes.Clone(buf[:n])
		if err := t.loop.Enter(ls.ctx); err != nil {
			return
		}
		if t.sess == ls {
			t.receive(ls.session, datagram, ls.remote, func(msg *osc.Message) {
				t.dispatch(ls, msg)
			})
		}
		t.loop.Exit()
	}
}

func (t *LoopTransport) dispatch(ls *loopSession, msg *osc.Message) {
	for _, cb := range t.registry.match(msg) {
		if cb.AsyncProcedure != nil && cb.Procedure == nil {
			t.loop.Spawn(func(ctx context.Context) error {
				t.invoke(ctx, ls.session, cb, msg)
				return nil
			})
			continue
		}
		t.invoke(ls.ctx, ls.session, cb, msg)
	}
}
