package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBlockFinality(t *testing.T) {
	for _, s := range []string{"finalized", "safe", "latest"} {
		f, err := ParseBlockFinality(s)
		require.NoError(t, err)
		require.True(t, f.IsValid())
		require.Equal(t, s, f.String())
	}

	for _, s := range []string{"", "Finalized", "pending"} {
		_, err := ParseBlockFinality(s)
		require.ErrorContains(t, err, "invalid block finality")
	}
}

func TestHeaderAt(t *testing.T) {
	c := newTestClient(t, &fakeEth{head: 120, finalized: 90, safe: 100})

	tests := []struct {
		finality BlockFinality
		want     uint64
	}{
		{FinalityFinalized, 90},
		{FinalitySafe, 100},
		{FinalityLatest, 120},
	}
	for _, tt := range tests {
		t.Run(tt.finality.String(), func(t *testing.T) {
			h, err := HeaderAt(t.Context(), c, tt.finality)
			require.NoError(t, err)
			require.Equal(t, tt.want, h.Number.Uint64())
		})
	}

	_, err := HeaderAt(t.Context(), c, BlockFinality("pending"))
	require.Error(t, err)
}
