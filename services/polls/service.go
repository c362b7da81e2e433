// Package polls turns scraped opinion-poll tables into validated,
// filterable records and aggregates. The pipeline is fetch, normalize,
// validate, filter, aggregate; the service wires a TTL cache in front
// of the fetch so repeated requests do not hammer the source.
package polls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ukpolls-backend/lib/htmlutil"
	"ukpolls-backend/lib/pollcache"
	"ukpolls-backend/lib/wikitable"
)

var tracer = otel.Tracer("ukpolls.services.polls")

// ErrNoUsablePolls means neither the live source nor the bundled
// sample dataset yielded any polls.
var ErrNoUsablePolls = fmt.Errorf("no usable polls available")

// Fetcher retrieves the raw poll table from the live source.
type Fetcher interface {
	FetchTable(ctx context.Context, pageURL string) (htmlutil.Table, error)
}

type Service struct {
	cfg     Config
	fetcher Fetcher
	// nil disables caching entirely
	store *pollcache.Store
}

// NewService wires a service from explicit dependencies. store may be
// nil to run without a cache.
func NewService(cfg Config, fetcher Fetcher, store *pollcache.Store) *Service {
	return &Service{cfg: cfg.withDefaults(), fetcher: fetcher, store: store}
}

// NewDefaultService builds the production wiring: a retrying source
// client and a sqlite cache at the configured path. A cache that
// cannot be opened downgrades to uncached operation rather than
// failing startup.
func NewDefaultService(cfg Config) *Service {
	cfg = cfg.withDefaults()

	fetcher := wikitable.NewClient(wikitable.Options{
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: time.Duration(cfg.BackoffSeconds) * time.Second,
	})

	store, err := pollcache.Open(pollcache.Options{
		Path:       cfg.CachePath,
		DefaultTTL: time.Duration(cfg.CacheTTL) * time.Second,
	})
	if err != nil {
		slog.Warn("poll cache unavailable, running uncached",
			"path", cfg.CachePath, "err", err)
		store = nil
	}

	return NewService(cfg, fetcher, store)
}

func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Store exposes the underlying cache for maintenance commands. Nil
// when the service runs uncached.
func (s *Service) Store() *pollcache.Store {
	return s.store
}

func (s *Service) Config() Config {
	return s.cfg
}

type GetPollsRequest struct {
	// how many of the latest polls to return, default Config.LatestN
	N int
	// allow multiple polls from the same pollster
	AllowRepeatPollsters bool
	// bypass the cache and hit the source
	ForceRefresh bool
	Filter       FilterSpec
}

type GetPollsResult struct {
	Records []PollRecord `json:"records"`
	// where the records came from
	FromCache  bool `json:"from_cache"`
	FromSample bool `json:"from_sample"`
	// rows the normalizer discarded, empty on cache hits
	Dropped     []DroppedRow     `json:"dropped,omitempty"`
	Validation  ValidationResult `json:"validation"`
	FilterStats FilterStats      `json:"filter_stats"`
}

// cachedDataset is the cache payload: the selected records plus the
// normalization account, so a cache hit can still explain itself.
type cachedDataset struct {
	Records []PollRecord `json:"records"`
	Dropped []DroppedRow `json:"dropped,omitempty"`
}

// GetPolls returns the latest polls, consulting the cache first. On a
// miss it fetches and normalizes the live table and caches the result;
// fetch and normalization failures fall back to the bundled sample
// dataset and are never cached. Validation runs on the selected
// dataset before filtering, so a narrowing filter cannot mask the
// dataset's warnings or mark it invalid.
func (s *Service) GetPolls(ctx context.Context, req GetPollsRequest) (GetPollsResult, error) {
	ctx, span := tracer.Start(ctx, "GetPolls")
	defer span.End()

	if req.N <= 0 {
		req.N = s.cfg.LatestN
	}
	span.SetAttributes(
		attribute.Int("n", req.N),
		attribute.Bool("allow_repeats", req.AllowRepeatPollsters),
		attribute.Bool("force_refresh", req.ForceRefresh),
	)

	dataset, fromCache, err := s.loadDataset(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GetPollsResult{}, err
	}

	result := GetPollsResult{
		Records:    dataset.records,
		FromCache:  fromCache,
		FromSample: dataset.fromSample,
		Dropped:    dataset.dropped,
	}

	result.Validation = Validate(ctx, dataset.records, ValidateConfig{
		TotalMin: s.cfg.TotalMin,
		TotalMax: s.cfg.TotalMax,
	})
	if dataset.fromSample {
		result.Validation.Warnings = append(result.Validation.Warnings,
			"live source unavailable, serving bundled sample data")
	}
	result.Records, result.FilterStats = ApplyFilters(ctx, result.Records, req.Filter)

	span.SetAttributes(
		attribute.Bool("from_cache", result.FromCache),
		attribute.Bool("from_sample", result.FromSample),
		attribute.Int("records", len(result.Records)),
	)
	return result, nil
}

type dataset struct {
	records    []PollRecord
	dropped    []DroppedRow
	fromSample bool
}

func (s *Service) loadDataset(ctx context.Context, req GetPollsRequest) (dataset, bool, error) {
	cacheKey := ""
	if s.store != nil {
		key, err := pollcache.Key(s.cfg.SourceURL, map[string]any{
			"n":             req.N,
			"allow_repeats": req.AllowRepeatPollsters,
		})
		if err == nil {
			cacheKey = key
		}
	}

	if cacheKey != "" && !req.ForceRefresh {
		if cached, ok := s.cacheGet(ctx, cacheKey); ok {
			return dataset{records: cached.Records, dropped: cached.Dropped}, true, nil
		}
	}

	table, err := s.fetcher.FetchTable(ctx, s.cfg.SourceURL)
	if err != nil {
		slog.WarnContext(ctx, "live fetch failed, falling back to sample data",
			"url", s.cfg.SourceURL, "err", err)
		ds, err := s.sampleFallback(req, err)
		return ds, false, err
	}

	normalized, err := Normalize(ctx, table, s.cfg.normalizeConfig())
	if err != nil {
		// a reshaped source page is as much an outage as a dead one
		slog.WarnContext(ctx, "normalization failed, falling back to sample data",
			"url", s.cfg.SourceURL, "err", err)
		ds, err := s.sampleFallback(req, err)
		return ds, false, err
	}

	records := LatestPolls(normalized.Records, req.N, req.AllowRepeatPollsters)
	ds := dataset{records: records, dropped: normalized.Dropped}

	if cacheKey != "" {
		s.cacheSet(ctx, cacheKey, req, ds)
	}
	return ds, false, nil
}

func (s *Service) sampleFallback(req GetPollsRequest, cause error) (dataset, error) {
	records := LatestPolls(SamplePolls(), req.N, req.AllowRepeatPollsters)
	if len(records) == 0 {
		return dataset{}, fmt.Errorf("%w: %v", ErrNoUsablePolls, cause)
	}
	return dataset{records: records, fromSample: true}, nil
}

func (s *Service) cacheGet(ctx context.Context, key string) (cachedDataset, bool) {
	payload, ok, err := s.store.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "cache read failed", "err", err)
		return cachedDataset{}, false
	}
	if !ok {
		return cachedDataset{}, false
	}
	var cached cachedDataset
	if err := json.Unmarshal(payload, &cached); err != nil {
		slog.WarnContext(ctx, "cache payload undecodable, discarding", "err", err)
		if err := s.store.Invalidate(ctx, key); err != nil {
			slog.WarnContext(ctx, "cache invalidation failed", "err", err)
		}
		return cachedDataset{}, false
	}
	return cached, true
}

func (s *Service) cacheSet(ctx context.Context, key string, req GetPollsRequest, ds dataset) {
	payload, err := json.Marshal(cachedDataset{Records: ds.records, Dropped: ds.dropped})
	if err != nil {
		return
	}
	paramsJSON, _ := json.Marshal(map[string]any{
		"n":             req.N,
		"allow_repeats": req.AllowRepeatPollsters,
	})
	err = s.store.Set(ctx, pollcache.Entry{
		Key:        key,
		SourceURL:  s.cfg.SourceURL,
		ParamsJSON: string(paramsJSON),
		Payload:    payload,
	}, time.Duration(s.cfg.CacheTTL)*time.Second)
	if err != nil {
		// a read-only cache directory degrades to uncached operation
		if errors.Is(err, pollcache.ErrPermission) {
			slog.WarnContext(ctx, "cache is read-only, skipping write", "err", err)
			return
		}
		slog.WarnContext(ctx, "cache write failed", "err", err)
	}
}

// Trend is the rolling trend for one party over the latest polls
// matching req, oldest point first.
func (s *Service) Trend(ctx context.Context, req GetPollsRequest, party Party) ([]TrendPoint, error) {
	result, err := s.GetPolls(ctx, req)
	if err != nil {
		return nil, err
	}
	return RollingTrend(result.Records, party, s.cfg.TrendWindow), nil
}

// Estimates aggregates the latest polls matching req into one
// weighted estimate per party.
func (s *Service) Estimates(ctx context.Context, req GetPollsRequest) (map[Party]Estimate, error) {
	result, err := s.GetPolls(ctx, req)
	if err != nil {
		return nil, err
	}
	return LatestEstimates(result.Records), nil
}
