package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lcx/scosc/log"
	"github.com/lcx/scosc/net"
	"github.com/lcx/scosc/osc"
	"github.com/lcx/scosc/utils"
)

// defaultSyncIDs serves bundles communicated without WithSyncIDs.
var defaultSyncIDs = utils.NewIDAllocator(1000)

// Option configures one Communicate or CommunicateAsync call.
type Option func(*options)

type options struct {
	ids     SyncIDSource
	decoder Decoder
}

func newOptions(opts []Option) *options {
	o := &options{ids: defaultSyncIDs, decoder: DecodeResponse}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSyncIDs draws RequestBundle sync ids from ids.
func WithSyncIDs(ids SyncIDSource) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithDecoder decodes the response with d instead of DecodeResponse.
func WithDecoder(d Decoder) Option {
	return func(o *options) {
		if d != nil {
			o.decoder = d
		}
	}
}

// pending is one registered wait for a response.
type pending struct {
	prepared *Prepared
	future   *net.Future[*osc.Message]
	callback *net.Callback
}

func newPending(p *Prepared) *pending {
	w := &pending{prepared: p, future: net.NewFuture[*osc.Message]()}
	w.callback = &net.Callback{
		Pattern:        p.Success,
		FailurePattern: p.Failure,
		Procedure:      func(msg *osc.Message) { w.future.Resolve(msg) },
		Once:           true,
	}
	return w
}

// Communicate sends req on t and blocks until the response arrives, timeout
// elapses or ctx ends. Requests without a success pattern are sent and
// return a nil Response.
//
// On timeout the pending registration is withdrawn and ErrTimeout returned.
// A reply on the failure pattern returns the *FailInfo together with
// ErrFailed.
//
// Communicate blocks the caller, so t must be driven by its own goroutine,
// as ThreadedTransport is.
func Communicate(ctx context.Context, t net.Transport, req Requestable, timeout time.Duration, opts ...Option) (Response, error) {
	o := newOptions(opts)
	p, err := Prepare(req, o.ids)
	if err != nil {
		return nil, err
	}
	if p.Success == nil {
		return nil, t.Send(p.Packet)
	}

	w := newPending(p)
	if err := t.Register(w.callback); err != nil {
		return nil, err
	}
	if err := t.Send(p.Packet); err != nil {
		t.Unregister(w.callback)
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := w.future.Wait(waitCtx)
	if err != nil {
		t.Unregister(w.callback)
		return nil, timeoutError(ctx, p, err)
	}
	return decode(o, msg)
}

// CommunicateAsync is Communicate for a LoopTransport. The caller must hold
// t's loop; the wait is a suspension point that releases it. A non-positive
// timeout expires as soon as the request is sent.
func CommunicateAsync(ctx context.Context, t *net.LoopTransport, req Requestable, timeout time.Duration, opts ...Option) (Response, error) {
	o := newOptions(opts)
	p, err := Prepare(req, o.ids)
	if err != nil {
		return nil, err
	}
	if p.Success == nil {
		return nil, t.Send(p.Packet)
	}

	w := newPending(p)
	if err := t.Register(w.callback); err != nil {
		return nil, err
	}
	if err := t.Send(p.Packet); err != nil {
		t.Unregister(w.callback)
		return nil, err
	}

	if timeout <= 0 {
		// Await treats a zero timeout as unbounded
		t.Unregister(w.callback)
		return nil, timeoutError(ctx, p, context.DeadlineExceeded)
	}
	if err := t.Loop().Await(ctx, w.future.Done(), timeout); err != nil {
		// a late reply must not resolve an abandoned wait
		t.Unregister(w.callback)
		return nil, timeoutError(ctx, p, err)
	}
	msg, _ := w.future.Value()
	return decode(o, msg)
}

func timeoutError(ctx context.Context, p *Prepared, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Stringer("request", p.Packet).Msg("timed out")
		return fmt.Errorf("%w: %s", ErrTimeout, p.Packet)
	}
	return err
}

func decode(o *options, msg *osc.Message) (Response, error) {
	resp, err := o.decoder(msg)
	if err != nil {
		return nil, err
	}
	if fail, ok := resp.(*FailInfo); ok {
		return fail, fmt.Errorf("%w: %s: %s", ErrFailed, fail.CommandName, fail.Error)
	}
	return resp, nil
}
