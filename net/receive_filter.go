package net

import (
	"net"

	"github.com/lcx/scosc/osc"
)

// Delivery is one decoded inbound datagram on its way to dispatch.
type Delivery struct {
	// Datagram is the raw payload as read from the socket.
	Datagram []byte
	// Packet is the decoded message or bundle.
	Packet osc.Packet
	// Remote is the sender's address.
	Remote net.Addr
}

// ReceiveHandleFunc processes a delivery at the end of, or inside, a
// ReceiveFilterChain.
type ReceiveHandleFunc func(d *Delivery) error

// ReceiveFilter intercepts deliveries before dispatch. A filter passes the
// delivery on by calling next; returning without calling next drops it.
//
// Filters run on the goroutine that owns the transport's registry, so they
// must not block.
type ReceiveFilter func(d *Delivery, next ReceiveHandleFunc) error

// ReceiveFilterChain runs filters in order, then the final handler.
type ReceiveFilterChain []ReceiveFilter

// Handle passes d through every filter of the chain and then to f.
func (fc ReceiveFilterChain) Handle(d *Delivery, f ReceiveHandleFunc) error {
	if len(fc) == 0 {
		return f(d)
	}
	return fc[0](d, func(d *Delivery) error {
		return fc[1:].Handle(d, f)
	})
}
