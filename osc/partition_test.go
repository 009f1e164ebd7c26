package osc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sizedMessage returns an argument-less message encoding to exactly n bytes.
// n must be a multiple of 4 and at least 12.
func sizedMessage(n int) *Message {
	return MustMessage("/" + strings.Repeat("x", n-4-1-1))
}

func TestPartition(t *testing.T) {
	m40 := sizedMessage(40)
	raw, err := m40.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, 40)

	tests := []struct {
		name     string
		messages []*Message
		budget   int
		want     []int
	}{
		{"empty input", nil, 100, nil},
		{"fits in one", []*Message{m40, m40}, 16 + 44*2, []int{2}},
		{"splits at the budget", []*Message{m40, m40, m40}, 16 + 44*2, []int{2, 1}},
		{"one byte short", []*Message{m40, m40}, 16 + 44*2 - 1, []int{1, 1}},
		{"oversized message rides alone", []*Message{m40, sizedMessage(200), m40}, 100, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundles, err := Partition(tt.messages, At(5), tt.budget)
			require.NoError(t, err)
			var got []int
			var flattened []*Message
			for _, b := range bundles {
				got = append(got, len(b.Contents))
				assert.True(t, b.Timestamp.Equal(At(5)))
				raw, err := b.MarshalBinary()
				require.NoError(t, err)
				if len(b.Contents) > 1 {
					assert.LessOrEqual(t, len(raw), tt.budget)
				}
				flattened = append(flattened, b.Messages()...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.messages), len(flattened))
			for i := range flattened {
				assert.Same(t, tt.messages[i], flattened[i])
			}
		})
	}
}

func TestPartitionDefaultBudget(t *testing.T) {
	msgs := make([]*Message, 0, 300)
	for i := 0; i < 300; i++ {
		msgs = append(msgs, sizedMessage(40))
	}
	bundles, err := Partition(msgs, Immediately, 0)
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	// (8180-16)/44 = 185 messages fit the first bundle
	assert.Len(t, bundles[0].Contents, 185)
	assert.Len(t, bundles[1].Contents, 115)
}

func TestFormatDatagram(t *testing.T) {
	raw, err := MustMessage("/g_new", 0, 0).MarshalBinary()
	require.NoError(t, err)
	want := "size 20\n" +
		"   0   2f 67 5f 6e  65 77 00 00  2c 69 69 00  00 00 00 00   |/g_new..,ii.....|\n" +
		"  16   00 00 00 00                                          |....|"
	assert.Equal(t, want, FormatDatagram(raw))
	assert.Equal(t, "size 0", FormatDatagram(nil))
}
