package safeconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMustIntToUint16(t *testing.T) {
	t.Parallel()

	t.Run("normal_value", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint16(42), MustIntToUint16(42))
	})

	t.Run("max", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint16(MaxUint16), MustIntToUint16(MaxUint16))
	})

	t.Run("overflow_panics", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "safeconv: int to uint16 out of bounds", func() {
			MustIntToUint16(MaxUint16 + 1)
		})
	})

	t.Run("negative_panics", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "safeconv: int to uint16 out of bounds", func() {
			MustIntToUint16(-1)
		})
	})
}

func TestMustIntToUint32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(7), MustIntToUint32(7))
	assert.PanicsWithValue(t, "safeconv: int to uint32 out of bounds", func() {
		MustIntToUint32(-3)
	})
}

func TestIntToUint16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int
		want uint16
		ok   bool
	}{
		{"zero", 0, 0, true},
		{"in_range", 65535, 65535, true},
		{"too_large", 65536, 0, false},
		{"negative", -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := IntToUint16(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
