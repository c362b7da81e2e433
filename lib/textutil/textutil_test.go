package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "samplesize", NormalizeName(" Sample  size "))
	require.Equal(t, "libdems", NormalizeName("Lib Dems"))
	require.Equal(t, "con", NormalizeName("\tCon\n"))
}

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("Sample size", []string{"samplesize"}))
	require.True(t, MatchName("Conservative Party", []string{"con"}))
	require.False(t, MatchName("Labour", []string{"con", "libdem"}))
}

func TestCollapseWhitespace(t *testing.T) {
	require.Equal(t, "Find Out Now", CollapseWhitespace("  Find   Out\n Now "))
}
