// Package request turns one-way OSC datagrams into round trips: a request
// declares the message that completes it, and Communicate waits for that
// message on a transport.
package request

import (
	"fmt"

	"github.com/lcx/scosc/net"
	"github.com/lcx/scosc/osc"
)

// Requestable is anything that renders to an OSC packet.
type Requestable interface {
	ToOSC() (osc.Packet, error)
}

// Expecter is implemented by requests that the server answers. A nil
// success pattern means the request is fire-and-forget.
type Expecter interface {
	ResponsePatterns() (success, failure net.Pattern)
}

// SyncIDSource hands out unique sync ids. utils.IDAllocator implements it.
type SyncIDSource interface {
	NextID() int32
}

// RequestBundle sends several requests as one bundle. Communicating it
// appends a Sync request and waits for the matching /synced.
type RequestBundle struct {
	Timestamp osc.Timestamp
	Contents  []Requestable
}

// ToOSC renders the bundle without the trailing sync.
func (b *RequestBundle) ToOSC() (osc.Packet, error) {
	contents := make([]osc.Packet, 0, len(b.Contents))
	for i, req := range b.Contents {
		p, err := req.ToOSC()
		if err != nil {
			return nil, fmt.Errorf("bundle content %d: %w", i, err)
		}
		contents = append(contents, p)
	}
	return osc.NewBundle(b.Timestamp, contents...), nil
}

// Prepared is a request ready to send.
type Prepared struct {
	Packet  osc.Packet
	Success net.Pattern
	Failure net.Pattern
}

// Prepare renders req and works out which message completes it. A
// RequestBundle gains a trailing Sync with an id from ids.
func Prepare(req Requestable, ids SyncIDSource) (*Prepared, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", osc.ErrMalformedInput)
	}
	if b, ok := req.(*RequestBundle); ok {
		if ids == nil {
			return nil, fmt.Errorf("%w: request bundle needs a sync id source", osc.ErrMalformedInput)
		}
		sync := &Sync{ID: ids.NextID()}
		synced := &RequestBundle{
			Timestamp: b.Timestamp,
			Contents:  append(append(make([]Requestable, 0, len(b.Contents)+1), b.Contents...), sync),
		}
		p, err := synced.ToOSC()
		if err != nil {
			return nil, err
		}
		success, _ := sync.ResponsePatterns()
		return &Prepared{Packet: p, Success: success}, nil
	}

	p, err := req.ToOSC()
	if err != nil {
		return nil, err
	}
	prepared := &Prepared{Packet: p}
	if e, ok := req.(Expecter); ok {
		prepared.Success, prepared.Failure = e.ResponsePatterns()
	}
	return prepared, nil
}
