package polls

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"

	"ukpolls-backend/lib/coerce"
	"ukpolls-backend/lib/htmlutil"
	"ukpolls-backend/lib/textutil"
	"ukpolls-backend/lib/timezone"
)

// the source uses this placeholder in the Others column when the real
// value is "whatever is left over"
const othersPlaceholder = 9.99

// DroppedRow explains why a source row produced no record.
type DroppedRow struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// NormalizeResult pairs the usable records with an account of every
// row that was discarded, newest rows first as the source lists them.
type NormalizeResult struct {
	Records []PollRecord `json:"records"`
	Dropped []DroppedRow `json:"dropped,omitempty"`
}

// columnRoles is the resolved mapping from column index to meaning for
// one concrete table layout.
type columnRoles struct {
	date     int
	pollster int
	sample   int
	parties  map[int]Party
}

var (
	dateMatchers     = []string{"date", "fieldwork", "conducted"}
	pollsterMatchers = []string{"pollster", "polling"}
	sampleMatchers   = []string{"sample"}
)

// resolveColumns maps table headers onto semantic roles. Party labels
// match the configured column map exactly first, then fall back to
// fuzzy matching so small renames ("Green" -> "Greens") do not break
// the pipeline.
func resolveColumns(header []string, cfg NormalizeConfig) (columnRoles, error) {
	roles := columnRoles{date: -1, pollster: -1, sample: -1, parties: map[int]Party{}}

	normalized := map[string]Party{}
	for label, party := range cfg.Columns {
		normalized[textutil.NormalizeName(label)] = party
	}

	for i, label := range header {
		key := textutil.NormalizeName(label)
		if key == "" {
			continue
		}
		if party, ok := normalized[key]; ok {
			roles.parties[i] = party
			continue
		}
		if roles.date < 0 && textutil.MatchName(label, dateMatchers) {
			roles.date = i
			continue
		}
		if roles.pollster < 0 && textutil.MatchName(label, pollsterMatchers) {
			roles.pollster = i
			continue
		}
		if roles.sample < 0 && textutil.MatchName(label, sampleMatchers) {
			roles.sample = i
			continue
		}

		best, bestScore := Party(""), 0.0
		for candidate, party := range normalized {
			score := matchr.JaroWinkler(key, candidate, true)
			if score > bestScore {
				best, bestScore = party, score
			}
		}
		if bestScore >= cfg.FuzzyThreshold {
			roles.parties[i] = best
		}
	}

	if roles.date < 0 {
		return roles, fmt.Errorf("no fieldwork-date column in header %v", header)
	}
	if roles.pollster < 0 {
		return roles, fmt.Errorf("no pollster column in header %v", header)
	}
	if len(roles.parties) == 0 {
		return roles, fmt.Errorf("no party columns in header %v", header)
	}
	return roles, nil
}

var citationRegex = regexp.MustCompile(`\[[^\]]*\]`)

// CleanPollsterName strips wiki citation markers ("YouGov[12]",
// "Opinium[10][a]") and collapses the leftover whitespace.
func CleanPollsterName(name string) string {
	name = citationRegex.ReplaceAllString(name, "")
	return textutil.CollapseWhitespace(name)
}

// date cells look like "26-28 Aug", "30 Apr - 2 May" or
// "14-16 May 2024", with either hyphens or dashes
var dateRangeSplit = regexp.MustCompile(`[\x{2013}\x{2014}-]`)

var dateLayouts = []string{"2 Jan 2006", "2 January 2006", "Jan 2006", "January 2006"}
var yearlessLayouts = []string{"2 Jan", "2 January"}

// parseFieldworkDate resolves a fieldwork cell to the day fieldwork
// ended. Ranges collapse to their final segment. Cells without a year
// assume the current one, rolled back a year when that would place the
// poll implausibly far in the future.
func parseFieldworkDate(cell string, cfg NormalizeConfig) (time.Time, error) {
	parts := dateRangeSplit.Split(cell, -1)
	last := textutil.CollapseWhitespace(parts[len(parts)-1])
	if last == "" {
		return time.Time{}, fmt.Errorf("empty date cell %q", cell)
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, last, timezone.Location); err == nil {
			return t, nil
		}
	}

	for _, layout := range yearlessLayouts {
		t, err := time.ParseInLocation(layout, last, timezone.Location)
		if err != nil {
			continue
		}
		now := cfg.Now().In(timezone.Location)
		t = t.AddDate(now.Year(), 0, 0)
		if t.After(now.Add(cfg.FutureTolerance)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unparseable date cell %q", cell)
}

// Normalize turns a raw source table into clean poll records. Rows
// that are not polls (event separators, blank rows) or whose shares do
// not plausibly total 100 are dropped with a reason rather than
// silently vanishing.
func Normalize(ctx context.Context, table htmlutil.Table, cfg NormalizeConfig) (NormalizeResult, error) {
	_, span := tracer.Start(ctx, "Normalize")
	defer span.End()

	cfg = cfg.withDefaults()

	roles, err := resolveColumns(table.Header, cfg)
	if err != nil {
		span.RecordError(err)
		return NormalizeResult{}, err
	}

	var result NormalizeResult
	for i, row := range table.Rows {
		record, reason := normalizeRow(row, roles, cfg)
		if reason != "" {
			result.Dropped = append(result.Dropped, DroppedRow{RowIndex: i, Reason: reason})
			continue
		}
		result.Records = append(result.Records, record)
	}

	span.SetAttributes(
		attribute.Int("records", len(result.Records)),
		attribute.Int("dropped", len(result.Dropped)),
	)
	if len(result.Records) == 0 {
		err := fmt.Errorf("no usable poll rows in %d-row table", len(table.Rows))
		span.RecordError(err)
		return result, err
	}
	return result, nil
}

func normalizeRow(row []string, roles columnRoles, cfg NormalizeConfig) (PollRecord, string) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	pollster := CleanPollsterName(cell(roles.pollster))
	dateCell := cell(roles.date)
	if pollster == "" || dateCell == "" {
		// event separator rows ("2024 general election") span the table
		// and carry no pollster
		return PollRecord{}, "not a poll row"
	}

	date, err := parseFieldworkDate(dateCell, cfg)
	if err != nil {
		return PollRecord{}, err.Error()
	}

	shares := map[Party]float64{}
	namedTotal := 0.0
	othersReported := false
	for i, party := range roles.parties {
		v := coerce.ToFloat(cell(i))
		if party == Others {
			if v == othersPlaceholder {
				continue
			}
			othersReported = true
			shares[Others] = v
			continue
		}
		// same party under two labels keeps the first nonzero value
		if shares[party] == 0 {
			shares[party] = v
		}
	}
	for _, party := range NamedParties {
		namedTotal += shares[party]
	}
	if namedTotal == 0 {
		return PollRecord{}, "no party shares"
	}

	// a handful of rows report fractions of 1 instead of percentages
	if total := namedTotal + shares[Others]; total > 0 && total <= 3 {
		for party, v := range shares {
			shares[party] = v * 100
		}
		namedTotal *= 100
	}

	if !othersReported {
		others := 100 - namedTotal
		if others < 0 {
			others = 0
		}
		shares[Others] = others
	}

	total := 0.0
	for _, v := range shares {
		total += v
	}
	if total < cfg.TotalMin || total > cfg.TotalMax {
		return PollRecord{}, fmt.Sprintf("share total %.1f outside [%.0f, %.0f]", total, cfg.TotalMin, cfg.TotalMax)
	}

	return PollRecord{
		Date:       date,
		Pollster:   pollster,
		SampleSize: coerce.ToInt(cell(roles.sample)),
		Shares:     shares,
	}, ""
}

// LatestPolls returns the n most recent records, newest first. With
// allowRepeats false each pollster contributes at most one record, the
// way a polling average avoids double-counting a house.
func LatestPolls(records []PollRecord, n int, allowRepeats bool) []PollRecord {
	sorted := sortedByDateDesc(records)

	var out []PollRecord
	seen := map[string]bool{}
	for _, r := range sorted {
		if !allowRepeats {
			key := strings.ToLower(r.Pollster)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, r)
		if len(out) == n {
			break
		}
	}
	return out
}

func sortedByDateDesc(records []PollRecord) []PollRecord {
	sorted := make([]PollRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})
	return sorted
}
