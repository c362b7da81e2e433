package polls

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Validate checks a dataset for structural usability and data quality.
// An empty dataset is the only hard failure; everything else is a
// warning because a slightly odd poll is still worth showing.
func Validate(ctx context.Context, records []PollRecord, cfg ValidateConfig) ValidationResult {
	_, span := tracer.Start(ctx, "Validate")
	defer span.End()

	cfg = cfg.withDefaults()
	result := ValidationResult{IsValid: true}

	if len(records) == 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "dataset contains no polls")
		span.SetAttributes(attribute.Bool("valid", false))
		return result
	}

	// the normalizer guarantees shares upstream, but a dataset that
	// lost them entirely is unusable for aggregation
	sharesPresent := false
	for _, r := range records {
		if len(r.Shares) > 0 {
			sharesPresent = true
			break
		}
	}
	if !sharesPresent {
		result.IsValid = false
		result.Errors = append(result.Errors, "no record carries any party share")
		span.SetAttributes(attribute.Bool("valid", false))
		return result
	}

	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	for _, r := range records {
		label := fmt.Sprintf("%s %s", r.Pollster, r.Date.Format("2006-01-02"))

		if r.SampleSize == 0 {
			warn("%s: no sample size reported", label)
		} else if r.SampleSize < cfg.SampleMin || r.SampleSize > cfg.SampleMax {
			warn("%s: sample size %d outside plausible range [%d, %d]",
				label, r.SampleSize, cfg.SampleMin, cfg.SampleMax)
		}

		for _, party := range AllParties {
			share, ok := r.Shares[party]
			if !ok {
				continue
			}
			if share < 0 || share > 100 {
				warn("%s: %s share %.1f outside [0, 100]", label, party, share)
			}
		}

		if total := r.TotalShare(); total < cfg.TotalMin || total > cfg.TotalMax {
			warn("%s: shares total %.1f, expected [%.0f, %.0f]",
				label, total, cfg.TotalMin, cfg.TotalMax)
		}

		if r.Methodology == "" {
			warn("%s: no methodology recorded", label)
		}
	}

	span.SetAttributes(
		attribute.Bool("valid", result.IsValid),
		attribute.Int("warnings", len(result.Warnings)),
	)
	return result
}
