package net

import "errors"

var (
	// ErrProtocolOffline is returned by Send when the transport is neither
	// booting nor online.
	ErrProtocolOffline = errors.New("net: protocol offline")
	// ErrAlreadyConnected is returned by Connect unless the transport is offline.
	ErrAlreadyConnected = errors.New("net: protocol already connected")
	// ErrInvalidPattern is returned for empty patterns and for pattern elements
	// that are not strings or numbers.
	ErrInvalidPattern = errors.New("net: invalid pattern")
	// ErrInvalidCallback is returned by Register for a callback without a
	// procedure.
	ErrInvalidCallback = errors.New("net: callback has no procedure")
	// ErrLoopClosed is returned when entering an event loop that was closed.
	ErrLoopClosed = errors.New("net: event loop closed")
)
