// Package net implements the client side of an OSC conversation with a
// real-time synthesis server over UDP.
//
// Two transports share one connection lifecycle and healthcheck contract:
// ThreadedTransport owns its socket from a dedicated, OS-thread-locked
// listener goroutine, while LoopTransport is driven by a cooperative
// EventLoop. Both dispatch received messages through a pattern trie of
// registered Callbacks.
package net

import (
	"github.com/lcx/scosc/osc"
)

// BootStatus is the lifecycle state of a transport.
//
// The graceful path is Offline, Booting, Online, Quitting and back to
// Offline. A failed healthcheck leaves Booting or Online for Offline without
// waiting for the server.
type BootStatus int32

const (
	Offline BootStatus = iota
	Booting
	Online
	Quitting
)

func (s BootStatus) String() string {
	switch s {
	case Offline:
		return "offline"
	case Booting:
		return "booting"
	case Online:
		return "online"
	case Quitting:
		return "quitting"
	}
	return "unknown"
}

// Transport is the surface shared by ThreadedTransport and LoopTransport.
type Transport interface {
	// Connect starts talking to ip:port. It fails with ErrAlreadyConnected
	// unless the transport is Offline.
	Connect(ip string, port int, opts ...ConnectOption) error

	// Disconnect gracefully shuts the connection down. It is a no-op when
	// the transport is Offline or already Quitting.
	Disconnect()

	// Send encodes and sends a packet. It fails with ErrProtocolOffline
	// unless the transport is Booting or Online.
	Send(p osc.Packet) error

	// SendMessage builds a message from an address and Go values and sends it.
	SendMessage(address any, args ...any) error

	// Register adds a callback to the dispatch trie.
	Register(cb *Callback) error

	// Unregister removes a callback from every path it was registered on.
	Unregister(cb *Callback)

	// Capture starts recording sent and received packets until Exit.
	Capture() *Capture

	// ActivateHealthcheck starts a healthcheck that was configured inactive.
	ActivateHealthcheck()

	Status() BootStatus
	BootFuture() *Future[bool]
	ExitFuture() *Future[bool]
}

var (
	_ Transport = (*ThreadedTransport)(nil)
	_ Transport = (*LoopTransport)(nil)
)
