package osc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToArgument(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Argument
	}{
		{"nil", nil, Null{}},
		{"int", 3, Int32(3)},
		{"uint16", uint16(7), Int32(7)},
		{"float64 narrows", 0.5, Float32(0.5)},
		{"float32", float32(1.5), Float32(1.5)},
		{"explicit double", Float64(0.1), Float64(0.1)},
		{"string", "hi", String("hi")},
		{"bytes", []byte{1}, Blob{1}},
		{"bool", false, False},
		{"int slice", []int{1, 2}, Array{Int32(1), Int32(2)}},
		{"mixed slice", []any{"a", nil}, Array{String("a"), Null{}}},
		{"fixed array", [2]string{"a", "b"}, Array{String("a"), String("b")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToArgument(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ToArgument(map[string]int{})
	assert.ErrorIs(t, err, ErrUnsupportedArgument)
	_, err = ToArgument(uint32(math.MaxUint32))
	assert.ErrorIs(t, err, ErrMalformedInput)
	var m *Message
	_, err = ToArgument(m)
	assert.ErrorIs(t, err, ErrUnsupportedArgument)
}

func TestToAddress(t *testing.T) {
	a, err := ToAddress("/s_new")
	require.NoError(t, err)
	assert.Equal(t, String("/s_new"), a)

	a, err = ToAddress(int16(9))
	require.NoError(t, err)
	assert.Equal(t, Int32(9), a)

	for _, bad := range []any{nil, 1.0, []byte("/x"), true} {
		_, err := ToAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, "%v", bad)
	}
}

func TestArgumentEqualNaN(t *testing.T) {
	nan := Float32(math.NaN())
	assert.True(t, argumentEqual(nan, nan))
	assert.False(t, argumentEqual(nan, Float32(0)))
	assert.False(t, argumentEqual(Float32(1), Float64(1)))
}
