package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const bit32Size = 4

// padBytesNeeded returns how many zero bytes bring n up to a multiple of 4.
func padBytesNeeded(n int) int {
	return (4 - n%4) % 4
}

func appendPadding(b []byte, n int) []byte {
	for i := padBytesNeeded(n); i > 0; i-- {
		b = append(b, 0)
	}
	return b
}

// appendPaddedString writes s, its NUL terminator and the padding.
func appendPaddedString(b []byte, s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || s[i] == 0 {
			return nil, fmt.Errorf("%w: string %q is not NUL-free ASCII", ErrMalformedInput, s)
		}
	}
	b = append(b, s...)
	b = append(b, 0)
	return appendPadding(b, len(s)+1), nil
}

// appendBlob writes the big-endian length, the payload and the padding.
func appendBlob(b []byte, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	b = append(b, data...)
	return appendPadding(b, bit32Size+len(data))
}

// parsePaddedString reads a NUL-terminated, padded string and returns it
// along with the remaining bytes.
func parsePaddedString(data []byte) (string, []byte, error) {
	pos := bytes.IndexByte(data, 0)
	if pos == -1 {
		return "", nil, fmt.Errorf("%w: unterminated string", ErrTruncated)
	}
	n := pos + 1 + padBytesNeeded(pos+1)
	if n > len(data) {
		return "", nil, fmt.Errorf("%w: string padding", ErrTruncated)
	}
	return string(data[:pos]), data[n:], nil
}

// parseBlob reads a blob. The returned payload is a copy, so callers may
// reuse data afterwards.
func parseBlob(data []byte) ([]byte, []byte, error) {
	if len(data) < bit32Size {
		return nil, nil, fmt.Errorf("%w: blob length", ErrTruncated)
	}
	size := int(binary.BigEndian.Uint32(data))
	data = data[bit32Size:]
	n := size + padBytesNeeded(bit32Size+size)
	if size > len(data) || n > len(data) {
		return nil, nil, fmt.Errorf("%w: blob of %d bytes", ErrTruncated, size)
	}
	return bytes.Clone(data[:size]), data[n:], nil
}

func parseUint32(data []byte) (uint32, []byte, error) {
	if len(data) < bit32Size {
		return 0, nil, fmt.Errorf("%w: 32-bit value", ErrTruncated)
	}
	return binary.BigEndian.Uint32(data), data[bit32Size:], nil
}

func parseUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("%w: 64-bit value", ErrTruncated)
	}
	return binary.BigEndian.Uint64(data), data[8:], nil
}

// appendArgument appends the type tags of arg to tags and its encoded value
// to data.
func appendArgument(tags, data []byte, arg Argument) ([]byte, []byte, error) {
	var err error
	switch a := arg.(type) {
	case Int32:
		tags = append(tags, byte(TypeInt32))
		data = binary.BigEndian.AppendUint32(data, uint32(a))
	case Float32:
		tags = append(tags, byte(TypeFloat32))
		data = binary.BigEndian.AppendUint32(data, math.Float32bits(float32(a)))
	case Float64:
		tags = append(tags, byte(TypeFloat64))
		data = binary.BigEndian.AppendUint64(data, math.Float64bits(float64(a)))
	case String:
		tags = append(tags, byte(TypeString))
		data, err = appendPaddedString(data, string(a))
	case Blob:
		tags = append(tags, byte(TypeBlob))
		data = appendBlob(data, a)
	case Bool:
		if a {
			tags = append(tags, byte(TypeTrue))
		} else {
			tags = append(tags, byte(TypeFalse))
		}
	case Null:
		tags = append(tags, byte(TypeNil))
	case Array:
		tags = append(tags, byte(TypeArrayOpen))
		for _, item := range a {
			if tags, data, err = appendArgument(tags, data, item); err != nil {
				return nil, nil, err
			}
		}
		tags = append(tags, byte(TypeArrayClose))
	case *Message:
		if a == nil {
			return nil, nil, fmt.Errorf("%w: nil *Message", ErrUnsupportedArgument)
		}
		var raw []byte
		if raw, err = a.MarshalBinary(); err == nil {
			tags = append(tags, byte(TypeBlob))
			data = appendBlob(data, raw)
		}
	case *Bundle:
		if a == nil {
			return nil, nil, fmt.Errorf("%w: nil *Bundle", ErrUnsupportedArgument)
		}
		var raw []byte
		if raw, err = a.MarshalBinary(); err == nil {
			tags = append(tags, byte(TypeBlob))
			data = appendBlob(data, raw)
		}
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrUnsupportedArgument, arg)
	}
	if err != nil {
		return nil, nil, err
	}
	return tags, data, nil
}

// speculate re-reads a blob payload as a nested Bundle or Message and falls
// back to the raw bytes.
func speculate(blob []byte) Argument {
	if bytes.HasPrefix(blob, bundlePrefix) {
		if b, err := ParseBundle(blob); err == nil {
			return b
		}
	}
	if m, err := ParseMessage(blob); err == nil {
		return m
	}
	return Blob(blob)
}
