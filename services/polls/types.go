package polls

import (
	"math"
	"time"
)

type Party string

const (
	Conservative    Party = "Conservative"
	Labour          Party = "Labour"
	LiberalDemocrat Party = "Liberal Democrat"
	ReformUK        Party = "Reform UK"
	Green           Party = "Green"
	SNP             Party = "SNP"
	Others          Party = "Others"
)

// display order, Others always last
var AllParties = []Party{
	Conservative,
	Labour,
	LiberalDemocrat,
	ReformUK,
	Green,
	SNP,
	Others,
}

// the explicitly reported parties, excluding the derived Others share
var NamedParties = AllParties[:len(AllParties)-1]

// PollRecord is one published opinion poll, immutable once produced by
// the normalizer. Shares are percentages (0-100). SampleSize 0 means
// the source did not report one.
type PollRecord struct {
	// the day fieldwork ended, ranges collapse to their end date
	Date        time.Time         `json:"date"`
	Pollster    string            `json:"pollster"`
	SampleSize  int               `json:"sample_size"`
	Shares      map[Party]float64 `json:"party_shares"`
	Methodology string            `json:"methodology,omitempty"`
}

func (r PollRecord) HasSampleSize() bool {
	return r.SampleSize > 0
}

// MarginOfError is the 95% interval half-width in percentage points,
// using the conservative p=0.5 worst case. Zero when the sample size
// is unknown.
func (r PollRecord) MarginOfError() float64 {
	if r.SampleSize <= 0 {
		return 0
	}
	return 1.96 * math.Sqrt(0.25/float64(r.SampleSize)) * 100
}

func (r PollRecord) DaysSince(ref time.Time) int {
	return int(ref.Sub(r.Date).Hours() / 24)
}

// sum of every share in the record, including the derived Others
func (r PollRecord) TotalShare() float64 {
	total := 0.0
	for _, v := range r.Shares {
		total += v
	}
	return total
}

// ValidationResult is the verdict on a whole dataset. Only structural
// unusability flips IsValid; data-quality concerns are warnings and
// never block use.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// TrendPoint is one date on a rolling trend series.
type TrendPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Estimate is a latest-average share with its margin of error derived
// from the effective sample size behind it.
type Estimate struct {
	Value         float64 `json:"value"`
	MarginOfError float64 `json:"margin_of_error"`
}
