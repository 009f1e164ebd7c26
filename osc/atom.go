package osc

import (
	"fmt"
	"math"
	"reflect"
)

// Argument is a value carried by a Message. The set of implementations is
// closed: the atoms below, *Message and *Bundle.
type Argument interface {
	argument()
}

// Address is the first element of a Message: a slash-prefixed path or a raw
// integer command code.
type Address interface {
	Argument
	address()
}

type (
	// Int32 is encoded with the 'i' tag.
	Int32 int32
	// Float32 is encoded with the 'f' tag.
	Float32 float32
	// Float64 is encoded with the 'd' tag.
	Float64 float64
	// String is an ASCII string, encoded with the 's' tag.
	String string
	// Blob is raw binary data, encoded with the 'b' tag.
	//
	// Decoding a blob first tries to read it as a nested Bundle, then as a
	// nested Message, and only keeps the raw bytes when both fail. Opaque
	// payloads that happen to look like a datagram come back as packets.
	Blob []byte
	// Bool is encoded as the zero-width 'T' or 'F' tag.
	Bool bool
	// Null is encoded as the zero-width 'N' tag.
	Null struct{}
	// Array is encoded inline between '[' and ']'.
	Array []Argument
)

// True and False are the two Bool atoms.
const (
	True  = Bool(true)
	False = Bool(false)
)

func (Int32) argument()   {}
func (Float32) argument() {}
func (Float64) argument() {}
func (String) argument()  {}
func (Blob) argument()    {}
func (Bool) argument()    {}
func (Null) argument()    {}
func (Array) argument()   {}

func (Int32) address()  {}
func (String) address() {}

// ToArgument converts a Go value into an Argument.
//
// Integers become Int32, floats become Float32, []byte becomes Blob, nil
// becomes Null and slices become Array. Named types whose underlying kind is
// a string or an integer (enumerations) are normalized by kind.
func ToArgument(v any) (Argument, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case *Message:
		if x == nil {
			return nil, fmt.Errorf("%w: nil *Message", ErrUnsupportedArgument)
		}
		return x, nil
	case *Bundle:
		if x == nil {
			return nil, fmt.Errorf("%w: nil *Bundle", ErrUnsupportedArgument)
		}
		return x, nil
	case Argument:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Blob(x), nil
	case float32:
		return Float32(x), nil
	case float64:
		return Float32(x), nil
	case []any:
		arr := make(Array, 0, len(x))
		for _, item := range x {
			a, err := ToArgument(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, a)
		}
		return arr, nil
	}
	return reflectArgument(reflect.ValueOf(v))
}

func reflectArgument(rv reflect.Value) (Argument, error) {
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d overflows int32", ErrMalformedInput, n)
		}
		return Int32(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d overflows int32", ErrMalformedInput, n)
		}
		return Int32(n), nil
	case reflect.Float32, reflect.Float64:
		return Float32(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return Blob(rv.Bytes()), nil
		}
		arr := make(Array, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			a, err := ToArgument(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			arr = append(arr, a)
		}
		return arr, nil
	}
	if !rv.IsValid() {
		return Null{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedArgument, rv.Type())
}

// ToAddress converts a Go value into an Address. Only strings and integers
// (including named string and integer types) are accepted.
func ToAddress(v any) (Address, error) {
	switch x := v.(type) {
	case Address:
		return x, nil
	case nil:
		return nil, ErrInvalidAddress
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		a, err := reflectArgument(rv)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return a.(Address), nil
	}
	return nil, fmt.Errorf("%w: got %T", ErrInvalidAddress, v)
}

// argumentsEqual compares two argument lists structurally. A nil list equals
// an empty one.
func argumentsEqual(a, b []Argument) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !argumentEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func argumentEqual(a, b Argument) bool {
	switch x := a.(type) {
	case Array:
		y, ok := b.(Array)
		return ok && argumentsEqual(x, y)
	case Blob:
		y, ok := b.(Blob)
		return ok && string(x) == string(y)
	case *Message:
		y, ok := b.(*Message)
		return ok && x.Equal(y)
	case *Bundle:
		y, ok := b.(*Bundle)
		return ok && x.Equal(y)
	case Float32:
		y, ok := b.(Float32)
		return ok && (x == y || (x != x && y != y))
	case Float64:
		y, ok := b.(Float64)
		return ok && (x == y || (x != x && y != y))
	}
	return a == b
}
