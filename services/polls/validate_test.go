package polls

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ukpolls-backend/lib/timezone"
)

func TestValidateEmpty(t *testing.T) {
	result := Validate(context.Background(), nil, ValidateConfig{})
	require.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
}

func TestValidateCleanDataset(t *testing.T) {
	result := Validate(context.Background(), SamplePolls(), ValidateConfig{})
	require.True(t, result.IsValid)
	require.Empty(t, result.Errors)
	require.Empty(t, result.Warnings)
}

func TestValidateWarnings(t *testing.T) {
	records := []PollRecord{
		{
			Date: time.Date(2025, time.August, 28, 0, 0, 0, 0, timezone.Location),
			Pollster: "Tiny Research", SampleSize: 12,
			Shares: map[Party]float64{
				Conservative: 18, Labour: 22, LiberalDemocrat: 13,
				ReformUK: 28, Green: 9, SNP: 3, Others: 7,
			},
		},
		{
			Date: time.Date(2025, time.August, 27, 0, 0, 0, 0, timezone.Location),
			Pollster: "Odd Totals", SampleSize: 2000, Methodology: "Online",
			Shares: map[Party]float64{
				Conservative: 30, Labour: 30, LiberalDemocrat: 20,
				ReformUK: 20, Green: 10, SNP: 5, Others: 5,
			},
		},
	}

	result := Validate(context.Background(), records, ValidateConfig{})
	// warnings never block use
	require.True(t, result.IsValid)
	require.Empty(t, result.Errors)

	require.Len(t, result.Warnings, 3)
	require.Contains(t, result.Warnings[0], "sample size 12 outside plausible range")
	require.Contains(t, result.Warnings[1], "no methodology")
	require.Contains(t, result.Warnings[2], "shares total 120.0")
}
