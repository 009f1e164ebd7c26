package osc

// TypeTag is the single character that announces how an argument is encoded.
type TypeTag byte

const (
	TypeInt32      TypeTag = 'i'
	TypeFloat32    TypeTag = 'f'
	TypeFloat64    TypeTag = 'd'
	TypeString     TypeTag = 's'
	TypeBlob       TypeTag = 'b'
	TypeTrue       TypeTag = 'T'
	TypeFalse      TypeTag = 'F'
	TypeNil        TypeTag = 'N'
	TypeArrayOpen  TypeTag = '['
	TypeArrayClose TypeTag = ']'
)
