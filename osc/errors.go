package osc

import (
	"errors"
	"fmt"
)

// Encode errors. Nothing is written when one of these is returned.
var (
	ErrMalformedInput      = errors.New("osc: malformed input")
	ErrInvalidAddress      = fmt.Errorf("%w: address must be a string or an int32", ErrMalformedInput)
	ErrUnsupportedArgument = fmt.Errorf("%w: unsupported argument type", ErrMalformedInput)
)

// Decode errors.
var (
	ErrMalformedDatagram = errors.New("osc: malformed datagram")
	ErrUnknownTypeTag    = fmt.Errorf("%w: unknown type tag", ErrMalformedDatagram)
	ErrTruncated         = fmt.Errorf("%w: truncated", ErrMalformedDatagram)
	ErrNotBundle         = fmt.Errorf("%w: missing #bundle prefix", ErrMalformedDatagram)
	ErrMissingTypeTags   = fmt.Errorf("%w: missing type tag string", ErrMalformedDatagram)
)
