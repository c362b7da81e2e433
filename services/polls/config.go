package polls

import (
	"time"

	"ukpolls-backend/lib/configutil"
)

// ColumnMap translates source column labels to party keys. Labels are
// matched after normalization, so "Lib Dems" and "lib dems" are the
// same column.
type ColumnMap map[string]Party

// column maps for the wiki pages of each election cycle; the source
// renames party columns between cycles (Brexit -> Reform, UKIP, ...)
var (
	NextElectionColumns = ColumnMap{
		"Con": Conservative, "Lab": Labour, "Lib": LiberalDemocrat, "LD": LiberalDemocrat,
		"Ref": ReformUK, "Grn": Green, "Nat": SNP, "SNP": SNP, "Oth": Others, "Others": Others,
	}
	Election2024Columns = ColumnMap{
		"Con": Conservative, "Lab": Labour, "Lib Dems": LiberalDemocrat,
		"Reform": ReformUK, "Green": Green, "SNP": SNP, "Others": Others,
	}
	Election2019Columns = ColumnMap{
		"Con": Conservative, "Lab": Labour, "Lib Dem": LiberalDemocrat,
		"Brexit": ReformUK, "Green": Green, "SNP": SNP, "Other": Others,
	}
	Election2017Columns = ColumnMap{
		"Con": Conservative, "Lab": Labour, "Lib Dem": LiberalDemocrat,
		"UKIP": ReformUK, "Green": Green, "SNP": SNP, "Others": Others,
	}
)

type NormalizeConfig struct {
	Columns ColumnMap
	// acceptance band for the share total, in percent
	TotalMin float64
	TotalMax float64
	// a missing-year date resolving further than this into the future
	// is rolled back a year
	FutureTolerance time.Duration
	// JaroWinkler floor for fuzzy column-label matching
	FuzzyThreshold float64
	// injectable clock for year inference
	Now func() time.Time
}

func (c NormalizeConfig) withDefaults() NormalizeConfig {
	if c.Columns == nil {
		c.Columns = NextElectionColumns
	}
	if c.TotalMin == 0 {
		c.TotalMin = 97
	}
	if c.TotalMax == 0 {
		c.TotalMax = 103
	}
	if c.FutureTolerance == 0 {
		c.FutureTolerance = 7 * 24 * time.Hour
	}
	if c.FuzzyThreshold == 0 {
		c.FuzzyThreshold = 0.92
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type ValidateConfig struct {
	TotalMin float64
	TotalMax float64
	// plausible respondent-count band, outside it is a warning
	SampleMin int
	SampleMax int
}

func (c ValidateConfig) withDefaults() ValidateConfig {
	if c.TotalMin == 0 {
		c.TotalMin = 97
	}
	if c.TotalMax == 0 {
		c.TotalMax = 103
	}
	if c.SampleMin == 0 {
		c.SampleMin = 100
	}
	if c.SampleMax == 0 {
		c.SampleMax = 50000
	}
	return c
}

// Config is the injectable surface of the poll service, readable from
// polls.json5 next to the binary.
type Config struct {
	SourceURL string `json:"source_url"`
	CachePath string `json:"cache_path"`
	// seconds, default one hour
	CacheTTL int `json:"cache_ttl"`
	// fetcher policy
	MaxAttempts    int `json:"max_attempts"`
	BackoffSeconds int `json:"backoff_seconds"`
	TimeoutSeconds int `json:"timeout_seconds"`
	// how many of the latest polls a default request returns
	LatestN              int  `json:"latest_n"`
	AllowRepeatPollsters bool `json:"allow_repeat_pollsters"`
	// normalization policy
	TotalMin            float64 `json:"total_min"`
	TotalMax            float64 `json:"total_max"`
	FutureToleranceDays int     `json:"future_tolerance_days"`
	// aggregation policy
	OutlierZScore float64 `json:"outlier_z_score"`
	TrendWindow   int     `json:"trend_window"`
}

const DefaultSourceURL = "https://en.wikipedia.org/wiki/Opinion_polling_for_the_next_United_Kingdom_general_election"

func (c Config) withDefaults() Config {
	if c.SourceURL == "" {
		c.SourceURL = DefaultSourceURL
	}
	if c.CachePath == "" {
		c.CachePath = "data/poll_cache.db"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 3600
	}
	if c.LatestN <= 0 {
		c.LatestN = 10
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 3
	}
	if c.OutlierZScore <= 0 {
		c.OutlierZScore = 2
	}
	return c
}

func (c Config) normalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		TotalMin:        c.TotalMin,
		TotalMax:        c.TotalMax,
		FutureTolerance: time.Duration(c.FutureToleranceDays) * 24 * time.Hour,
	}.withDefaults()
}

// LoadConfig searches up the filesystem for polls.json5, merging local
// overrides the same way every service config in this repo works.
func LoadConfig() (Config, error) {
	config, err := configutil.ReadRecursively[Config]("polls.json5")
	if err != nil {
		return Config{}, err
	}
	return config.withDefaults(), nil
}
