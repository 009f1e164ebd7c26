package osc

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

var bundlePrefix = []byte("#bundle\x00")

// bundleHeaderSize is the prefix plus the time tag.
const bundleHeaderSize = 16

// Packet is a datagram-level value: a *Message or a *Bundle.
type Packet interface {
	Argument
	encoding.BinaryMarshaler
	AppendBinary(b []byte) ([]byte, error)
	String() string
	packet()
}

// Bundle groups packets under one execution time.
type Bundle struct {
	Timestamp Timestamp
	Contents  []Packet
}

var _ Packet = (*Bundle)(nil)

func (*Bundle) argument() {}
func (*Bundle) packet()   {}

// NewBundle returns a bundle of contents to be executed at ts.
func NewBundle(ts Timestamp, contents ...Packet) *Bundle {
	return &Bundle{Timestamp: ts, Contents: contents}
}

// MarshalBinary encodes b with a realtime (NTP epoch) time tag.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	return b.appendBinary(nil, true)
}

// AppendBinary appends the realtime encoding of b to dst.
func (b *Bundle) AppendBinary(dst []byte) ([]byte, error) {
	return b.appendBinary(dst, true)
}

// MarshalNonRealtime encodes b with its timestamp counted from zero rather
// than from the NTP epoch, the form used by non-realtime score files.
func (b *Bundle) MarshalNonRealtime() ([]byte, error) {
	return b.appendBinary(nil, false)
}

func (b *Bundle) appendBinary(dst []byte, realtime bool) ([]byte, error) {
	tag, err := b.Timestamp.ntp(realtime)
	if err != nil {
		return dst, err
	}
	out := append(dst, bundlePrefix...)
	out = binary.BigEndian.AppendUint64(out, tag)
	for i, content := range b.Contents {
		at := len(out)
		out = append(out, 0, 0, 0, 0)
		switch c := content.(type) {
		case *Message:
			if c == nil {
				return dst, fmt.Errorf("%w: content %d is a nil *Message", ErrMalformedInput, i)
			}
			out, err = c.AppendBinary(out)
		case *Bundle:
			if c == nil {
				return dst, fmt.Errorf("%w: content %d is a nil *Bundle", ErrMalformedInput, i)
			}
			out, err = c.appendBinary(out, realtime)
		default:
			return dst, fmt.Errorf("%w: content %d is %T", ErrUnsupportedArgument, i, content)
		}
		if err != nil {
			return dst, err
		}
		binary.BigEndian.PutUint32(out[at:], uint32(len(out)-at-bit32Size))
	}
	return out, nil
}

// ParseBundle decodes a bundle datagram. Elements starting with "#bundle\0"
// are decoded as nested bundles, everything else as messages.
func ParseBundle(data []byte) (*Bundle, error) {
	if !bytes.HasPrefix(data, bundlePrefix) {
		return nil, ErrNotBundle
	}
	tag, rest, err := parseUint64(data[len(bundlePrefix):])
	if err != nil {
		return nil, fmt.Errorf("time tag: %w", err)
	}
	b := &Bundle{Timestamp: timestampFromNTP(tag)}
	for len(rest) > 0 {
		var size uint32
		if size, rest, err = parseUint32(rest); err != nil {
			return nil, err
		}
		if size > math.MaxInt32 || int(size) > len(rest) {
			return nil, fmt.Errorf("%w: element of %d bytes", ErrTruncated, size)
		}
		p, err := ParsePacket(rest[:size])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", len(b.Contents), err)
		}
		b.Contents = append(b.Contents, p)
		rest = rest[size:]
	}
	return b, nil
}

// ParsePacket decodes a datagram as a Bundle when it carries the bundle
// prefix and as a Message otherwise.
func ParsePacket(data []byte) (Packet, error) {
	if bytes.HasPrefix(data, bundlePrefix) {
		return ParseBundle(data)
	}
	return ParseMessage(data)
}

// Equal reports whether b and other have the same timestamp and contents.
func (b *Bundle) Equal(other *Bundle) bool {
	if b == nil || other == nil {
		return b == other
	}
	if !b.Timestamp.Equal(other.Timestamp) || len(b.Contents) != len(other.Contents) {
		return false
	}
	for i := range b.Contents {
		if !argumentEqual(b.Contents[i], other.Contents[i]) {
			return false
		}
	}
	return true
}

// Messages flattens b into its messages, depth first.
func (b *Bundle) Messages() []*Message {
	var out []*Message
	for _, content := range b.Contents {
		switch c := content.(type) {
		case *Message:
			out = append(out, c)
		case *Bundle:
			out = append(out, c.Messages()...)
		}
	}
	return out
}

func (b *Bundle) String() string {
	var sb strings.Builder
	sb.WriteString("Bundle(")
	if !b.Timestamp.IsImmediate() {
		sb.WriteString("timestamp=")
		sb.WriteString(b.Timestamp.String())
		if len(b.Contents) > 0 {
			sb.WriteString(", ")
		}
	}
	if len(b.Contents) > 0 {
		sb.WriteString("contents=[")
		for i, content := range b.Contents {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeArgument(&sb, content)
		}
		sb.WriteByte(']')
	}
	sb.WriteByte(')')
	return sb.String()
}
