package transport

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/langroup/limits"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		max       int
		wantCount int
		wantLast  int
	}{
		{"empty", 0, 100, 1, 0},
		{"one byte", 1, 100, 1, 1},
		{"exact fit", 100, 100, 1, 100},
		{"one over", 101, 100, 2, 1},
		{"three and a half", 350, 100, 4, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.size)
			frags, err := Split(payload, tt.max)
			require.NoError(t, err)
			require.Len(t, frags, tt.wantCount)
			assert.Len(t, frags[len(frags)-1], tt.wantLast)
			for _, f := range frags[:len(frags)-1] {
				assert.Len(t, f, tt.max)
			}
		})
	}
}

func TestSplitTooLarge(t *testing.T) {
	_, err := Split(make([]byte, 2*limits.MaxFragments+1), 2)
	assert.True(t, errors.Is(err, limits.ErrMessageTooLarge))

	_, err = Split([]byte("x"), 0)
	assert.True(t, errors.Is(err, limits.ErrInvalidPacketPayload))
}

// TestSplitFrameParseRoundTrip frames every fragment, parses it back, shuffles
// the fragments and reassembles them by index.
func TestSplitFrameParseRoundTrip(t *testing.T) {
	codec := NewCodec(3, "fragments")
	sender := uuid.New()
	rng := rand.New(rand.NewSource(1))

	for size := 0; size <= 600; size += 37 {
		payload := make([]byte, size)
		rng.Read(payload)

		frags, err := Split(payload, 64)
		require.NoError(t, err)

		parsed := make([]*Packet, 0, len(frags))
		for i, f := range frags {
			data, err := codec.Frame(&Packet{
				Kind:          KindData,
				Sender:        sender,
				Sequence:      uint64(i + 1),
				MessageID:     uint64(size),
				FragmentIndex: uint16(i),
				FragmentCount: uint16(len(frags)),
				Payload:       f,
			})
			require.NoError(t, err)

			p, err := codec.Parse(data)
			require.NoError(t, err)
			parsed = append(parsed, p)
		}

		rng.Shuffle(len(parsed), func(i, j int) { parsed[i], parsed[j] = parsed[j], parsed[i] })

		ordered := make([][]byte, len(parsed))
		for _, p := range parsed {
			ordered[p.FragmentIndex] = p.Payload
		}
		assert.True(t, bytes.Equal(payload, bytes.Join(ordered, nil)), "size %d", size)
	}
}
