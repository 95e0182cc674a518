package generation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityForTier(t *testing.T) {
	cases := []struct {
		tier string
		want int
	}{
		{"free", 1},
		{"basic", 3},
		{"standard", 5},
		{"pro", 9},
		{"premium", 9},
		{"enterprise", 9},
		{"bogus", 3},
		{"", 3},
	}

	for _, tc := range cases {
		t.Run(tc.tier, func(t *testing.T) {
			require.Equal(t, tc.want, PriorityForTier(tc.tier))
		})
	}
}

func TestEffectivePriorityCapsAtMax(t *testing.T) {
	require.Equal(t, 5, EffectivePriority("pro", 5))
	require.Equal(t, 1, EffectivePriority("free", 5))
	require.Equal(t, 9, EffectivePriority("enterprise", 0))
}
