package osc

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Message is an OSC message: an address followed by typed arguments.
type Message struct {
	Address   Address
	Arguments []Argument
}

var _ Packet = (*Message)(nil)

func (*Message) argument() {}
func (*Message) packet()   {}

// NewMessage builds a Message, converting address with ToAddress and every
// argument with ToArgument.
func NewMessage(address any, args ...any) (*Message, error) {
	addr, err := ToAddress(address)
	if err != nil {
		return nil, err
	}
	msg := &Message{Address: addr, Arguments: make([]Argument, 0, len(args))}
	for i, v := range args {
		arg, err := ToArgument(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		msg.Arguments = append(msg.Arguments, arg)
	}
	return msg, nil
}

// MustMessage is like NewMessage but panics on error.
func MustMessage(address any, args ...any) *Message {
	msg, err := NewMessage(address, args...)
	if err != nil {
		panic(err)
	}
	return msg
}

// Path returns the address and the arguments as one slice, the shape the
// callback registry walks.
func (m *Message) Path() []Argument {
	path := make([]Argument, 0, len(m.Arguments)+1)
	path = append(path, m.Address)
	return append(path, m.Arguments...)
}

// Equal reports whether m and other have the same address and arguments.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return argumentEqual(m.Address, other.Address) && argumentsEqual(m.Arguments, other.Arguments)
}

// MarshalBinary encodes m as a datagram.
func (m *Message) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(nil)
}

// AppendBinary appends the encoded message to b. On error b is returned
// unchanged.
func (m *Message) AppendBinary(b []byte) ([]byte, error) {
	out := b
	switch a := m.Address.(type) {
	case String:
		if a == "" {
			return b, fmt.Errorf("%w: empty address", ErrInvalidAddress)
		}
		var err error
		if out, err = appendPaddedString(out, string(a)); err != nil {
			return b, err
		}
	case Int32:
		out = binary.BigEndian.AppendUint32(out, uint32(a))
	default:
		return b, ErrInvalidAddress
	}

	tags := []byte{','}
	var data []byte
	var err error
	for _, arg := range m.Arguments {
		if tags, data, err = appendArgument(tags, data, arg); err != nil {
			return b, err
		}
	}
	if out, err = appendPaddedString(out, string(tags)); err != nil {
		return b, err
	}
	return append(out, data...), nil
}

// ParseMessage decodes a message datagram.
//
// A datagram whose first byte is NUL and whose fifth byte is ',' carries an
// integer command address, so integer addresses decode only in [0, 2^24).
// Blob arguments are decoded speculatively, see Blob.
func ParseMessage(data []byte) (*Message, error) {
	var (
		addr Address
		err  error
		rest []byte
	)
	if len(data) >= 8 && data[0] == 0 && data[4] == ',' {
		addr = Int32(binary.BigEndian.Uint32(data))
		rest = data[bit32Size:]
	} else {
		var s string
		if s, rest, err = parsePaddedString(data); err != nil {
			return nil, fmt.Errorf("address: %w", err)
		}
		addr = String(s)
	}

	tags, rest, err := parsePaddedString(rest)
	if err != nil {
		return nil, fmt.Errorf("type tags: %w", err)
	}
	if !strings.HasPrefix(tags, ",") {
		return nil, ErrMissingTypeTags
	}

	stack := [][]Argument{make([]Argument, 0, len(tags)-1)}
	for _, tag := range []byte(tags[1:]) {
		top := len(stack) - 1
		var arg Argument
		switch TypeTag(tag) {
		case TypeInt32:
			var v uint32
			if v, rest, err = parseUint32(rest); err != nil {
				return nil, err
			}
			arg = Int32(int32(v))
		case TypeFloat32:
			var v uint32
			if v, rest, err = parseUint32(rest); err != nil {
				return nil, err
			}
			arg = Float32(math.Float32frombits(v))
		case TypeFloat64:
			var v uint64
			if v, rest, err = parseUint64(rest); err != nil {
				return nil, err
			}
			arg = Float64(math.Float64frombits(v))
		case TypeString:
			var s string
			if s, rest, err = parsePaddedString(rest); err != nil {
				return nil, err
			}
			arg = String(s)
		case TypeBlob:
			var blob []byte
			if blob, rest, err = parseBlob(rest); err != nil {
				return nil, err
			}
			arg = speculate(blob)
		case TypeTrue:
			arg = True
		case TypeFalse:
			arg = False
		case TypeNil:
			arg = Null{}
		case TypeArrayOpen:
			stack = append(stack, []Argument{})
			continue
		case TypeArrayClose:
			if top == 0 {
				return nil, fmt.Errorf("%w: unbalanced ']'", ErrTruncated)
			}
			arg = Array(stack[top])
			stack = stack[:top]
			top--
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTypeTag, tag)
		}
		stack[top] = append(stack[top], arg)
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: unbalanced '['", ErrTruncated)
	}
	return &Message{Address: addr, Arguments: stack[0]}, nil
}

// String renders m as Message(address, args...).
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString("Message(")
	writeArgument(&sb, m.Address)
	for _, arg := range m.Arguments {
		sb.WriteString(", ")
		writeArgument(&sb, arg)
	}
	sb.WriteByte(')')
	return sb.String()
}

func writeArgument(sb *strings.Builder, arg Argument) {
	switch a := arg.(type) {
	case nil:
		sb.WriteString("<nil>")
	case String:
		sb.WriteString(strconv.Quote(string(a)))
	case Int32:
		sb.WriteString(strconv.FormatInt(int64(a), 10))
	case Float32:
		sb.WriteString(strconv.FormatFloat(float64(a), 'g', -1, 32))
	case Float64:
		sb.WriteString(strconv.FormatFloat(float64(a), 'g', -1, 64))
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(a)))
	case Null:
		sb.WriteString("nil")
	case Blob:
		sb.WriteString("Blob(")
		sb.WriteString(hex.EncodeToString(a))
		sb.WriteByte(')')
	case Array:
		sb.WriteByte('[')
		for i, item := range a {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeArgument(sb, item)
		}
		sb.WriteByte(']')
	case fmt.Stringer:
		sb.WriteString(a.String())
	default:
		fmt.Fprintf(sb, "%v", a)
	}
}
