// Package pollcache is a file-backed TTL cache for fetched poll data.
// Entries are addressed by a deterministic fingerprint of the source
// url and request parameters, so independent process instances sharing
// the same store file agree on keys. The store self-heals on
// corruption and retries transient lock contention; only permission
// errors surface unconditionally.
package pollcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ukpolls-backend/lib/pollcache/db"
)

var tracer = otel.Tracer("ukpolls.lib.pollcache")

// surfaced distinctly so callers can choose to run uncached rather
// than fail the whole request
var ErrPermission = fmt.Errorf("cache store permission denied")

const (
	DefaultTTL       = time.Hour
	lockRetryLimit   = 5
	lockRetryBackoff = 50 * time.Millisecond
)

// Key fingerprints a cached operation. Params are serialized as
// canonical JSON (encoding/json sorts map keys) so the digest is
// stable across process restarts.
func Key(sourceURL string, params any) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cache params: %w", err)
	}
	sum := sha256.Sum256([]byte(sourceURL + ":" + string(paramsJSON)))
	return hex.EncodeToString(sum[:]), nil
}

type Options struct {
	Path       string
	DefaultTTL time.Duration
	// injectable clock, defaults to time.Now; expiry math is UTC
	Now func() time.Time
}

// store health progresses uninitialized -> healthy, with a
// corrupted -> rebuilding -> healthy transition triggered at open time
// or on a failed read
type storeState int

const (
	stateUninitialized storeState = iota
	stateHealthy
	stateCorrupted
)

type Store struct {
	sql   *sql.DB
	path  string
	ttl   time.Duration
	now   func() time.Time
	state storeState

	hits   int64
	misses int64
}

// Open opens (creating if necessary) the store file and verifies its
// schema. A corrupted file is discarded and recreated empty: a cold
// cache beats a failed request.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("cache store path is required")
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, classifyStoreErr(err)
	}

	s := &Store{
		path: opts.Path,
		ttl:  opts.DefaultTTL,
		now:  opts.Now,
	}
	if err := s.ensureHealthy(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.sql == nil {
		return nil
	}
	s.persistCounters(context.Background())
	return s.sql.Close()
}

func classifyStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "readonly database") {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}

func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "missing expected tables")
}

func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// retries fn around transient lock contention from concurrent process
// instances sharing the store file
func (s *Store) withLockRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < lockRetryLimit; attempt++ {
		err = fn()
		if !isLocked(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryBackoff << attempt):
		}
	}
	return err
}

func (s *Store) ensureHealthy(ctx context.Context) error {
	if s.state == stateHealthy {
		return nil
	}

	ctx, span := tracer.Start(ctx, "ensureHealthy")
	defer span.End()

	err := s.withLockRetry(ctx, func() error { return s.openAndVerify(ctx) })
	if err == nil {
		s.state = stateHealthy
		s.loadCounters(ctx)
		return nil
	}
	if classified := classifyStoreErr(err); errors.Is(classified, ErrPermission) {
		span.RecordError(classified)
		span.SetStatus(codes.Error, "store is not writable")
		return classified
	}
	if !isCorruption(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// corrupted -> rebuilding
	s.state = stateCorrupted
	slog.WarnContext(ctx, "cache store corrupted, rebuilding", "path", s.path, "err", err)
	span.AddEvent("rebuilding corrupted store")

	if s.sql != nil {
		s.sql.Close()
		s.sql = nil
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return classifyStoreErr(err)
		}
	}

	err = s.withLockRetry(ctx, func() error { return s.openAndVerify(ctx) })
	if err != nil {
		return classifyStoreErr(err)
	}
	s.state = stateHealthy
	s.loadCounters(ctx)
	return nil
}

// hit/miss counters persist in cache_metadata so the rate survives
// restarts; failures here never block a request
func (s *Store) loadCounters(ctx context.Context) {
	for key, dst := range map[string]*int64{"hits": &s.hits, "misses": &s.misses} {
		var raw string
		err := s.sql.QueryRowContext(ctx,
			`SELECT value FROM cache_metadata WHERE key = ?`, key,
		).Scan(&raw)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to load cache counter", "key", key, "err", err)
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			*dst = n
		}
	}
}

func (s *Store) persistCounters(ctx context.Context) {
	if s.sql == nil || s.state != stateHealthy {
		return
	}
	now := s.now().UTC().Unix()
	for key, val := range map[string]int64{"hits": s.hits, "misses": s.misses} {
		_, err := s.sql.ExecContext(ctx,
			`INSERT OR REPLACE INTO cache_metadata (key, value, updated_at) VALUES (?, ?, ?)`,
			key, strconv.FormatInt(val, 10), now,
		)
		if err != nil {
			slog.WarnContext(ctx, "failed to persist cache counter", "key", key, "err", err)
			return
		}
	}
}

func (s *Store) openAndVerify(ctx context.Context) error {
	if s.sql == nil {
		conn, err := sql.Open("sqlite", s.path)
		if err != nil {
			return err
		}
		s.sql = conn
	}
	if _, err := s.sql.ExecContext(ctx, db.Schema); err != nil {
		return err
	}
	// the schema exec passing is not enough: a file of garbage only
	// errors once a real read touches it
	var count int
	err := s.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('cache_entries', 'cache_metadata')`,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count != 2 {
		return fmt.Errorf("cache store is missing expected tables")
	}
	return nil
}

// Get returns the cached payload for key, or ok=false on a miss. An
// entry past its expiry is a miss and is deleted eagerly. Read
// failures caused by corruption trigger a rebuild and report a miss.
func (s *Store) Get(ctx context.Context, key string) (payload []byte, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", shortKey(key)))

	if err := s.ensureHealthy(ctx); err != nil {
		return nil, false, err
	}

	now := s.now().UTC().Unix()

	var expiresAt int64
	err = s.withLockRetry(ctx, func() error {
		return s.sql.QueryRowContext(ctx,
			`SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?`,
			key,
		).Scan(&payload, &expiresAt)
	})
	if err == sql.ErrNoRows {
		s.misses++
		span.AddEvent("miss")
		return nil, false, nil
	}
	if isCorruption(err) {
		s.state = stateCorrupted
		if healErr := s.ensureHealthy(ctx); healErr != nil {
			return nil, false, healErr
		}
		s.misses++
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache entry")
		return nil, false, classifyStoreErr(err)
	}

	if expiresAt <= now {
		s.misses++
		span.AddEvent("expired")
		// eager delete is best-effort, the entry is logically absent
		// either way
		_, delErr := s.sql.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		if delErr != nil {
			slog.WarnContext(ctx, "failed to delete expired cache entry", "err", delErr)
		}
		return nil, false, nil
	}

	s.hits++
	err = s.withLockRetry(ctx, func() error {
		_, err := s.sql.ExecContext(ctx,
			`UPDATE cache_entries SET access_count = access_count + 1, last_accessed = ? WHERE cache_key = ?`,
			now, key,
		)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to update cache access stats", "err", err)
	}

	span.AddEvent("hit", trace.WithAttributes(attribute.Int("payload_bytes", len(payload))))
	return payload, true, nil
}

type Entry struct {
	Key        string
	SourceURL  string
	ParamsJSON string
	Payload    []byte
}

// Set stores an entry with created_at = now and expires_at = now+ttl
// (the store default when ttl <= 0), replacing any previous entry for
// the key.
func (s *Store) Set(ctx context.Context, entry Entry, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "Set")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", shortKey(entry.Key)))

	if err := s.ensureHealthy(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now().UTC()
	err := s.withLockRetry(ctx, func() error {
		_, err := s.sql.ExecContext(ctx,
			`INSERT OR REPLACE INTO cache_entries
				(cache_key, payload, source_url, params_json, created_at, expires_at, access_count, last_accessed)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			entry.Key, entry.Payload, entry.SourceURL, entry.ParamsJSON,
			now.Unix(), now.Add(ttl).Unix(), now.Unix(),
		)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return classifyStoreErr(err)
	}

	span.SetAttributes(attribute.String("ttl", ttl.String()))
	return nil
}

// Invalidate removes a single entry.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	if err := s.ensureHealthy(ctx); err != nil {
		return err
	}
	return s.withLockRetry(ctx, func() error {
		_, err := s.sql.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		return classifyStoreErr(err)
	})
}

// InvalidateSource removes every entry cached for a source url.
func (s *Store) InvalidateSource(ctx context.Context, sourceURL string) (int64, error) {
	if err := s.ensureHealthy(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := s.withLockRetry(ctx, func() error {
		res, err := s.sql.ExecContext(ctx, `DELETE FROM cache_entries WHERE source_url = ?`, sourceURL)
		if err != nil {
			return classifyStoreErr(err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if err := s.ensureHealthy(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := s.withLockRetry(ctx, func() error {
		res, err := s.sql.ExecContext(ctx, `DELETE FROM cache_entries`)
		if err != nil {
			return classifyStoreErr(err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// CleanupExpired sweeps entries past their expiry. Callable on demand;
// nothing schedules it automatically.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "CleanupExpired")
	defer span.End()

	if err := s.ensureHealthy(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := s.withLockRetry(ctx, func() error {
		res, err := s.sql.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE expires_at <= ?`,
			s.now().UTC().Unix(),
		)
		if err != nil {
			return classifyStoreErr(err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	span.SetAttributes(attribute.Int64("removed", n))
	return n, err
}

type Stats struct {
	TotalEntries   int64
	ValidEntries   int64
	ExpiredEntries int64
	Hits           int64
	Misses         int64
	HitRate        float64
	SizeBytes      int64
	OldestEntry    time.Time
	NewestEntry    time.Time
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Stats")
	defer span.End()

	if err := s.ensureHealthy(ctx); err != nil {
		return Stats{}, err
	}

	now := s.now().UTC().Unix()
	stats := Stats{Hits: s.hits, Misses: s.misses}

	err := s.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&stats.TotalEntries)
	if err != nil {
		return Stats{}, classifyStoreErr(err)
	}
	err = s.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at <= ?`, now,
	).Scan(&stats.ExpiredEntries)
	if err != nil {
		return Stats{}, classifyStoreErr(err)
	}
	stats.ValidEntries = stats.TotalEntries - stats.ExpiredEntries

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	err = s.sql.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	).Scan(&stats.SizeBytes)
	if err != nil {
		return Stats{}, classifyStoreErr(err)
	}

	var oldest, newest sql.NullInt64
	err = s.sql.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM cache_entries`,
	).Scan(&oldest, &newest)
	if err != nil {
		return Stats{}, classifyStoreErr(err)
	}
	if oldest.Valid {
		stats.OldestEntry = time.Unix(oldest.Int64, 0).UTC()
	}
	if newest.Valid {
		stats.NewestEntry = time.Unix(newest.Int64, 0).UTC()
	}

	return stats, nil
}

type EntryInfo struct {
	Key          string
	SourceURL    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
	Expired      bool
}

// Entries lists every entry with its metadata, newest first.
func (s *Store) Entries(ctx context.Context) ([]EntryInfo, error) {
	if err := s.ensureHealthy(ctx); err != nil {
		return nil, err
	}

	now := s.now().UTC().Unix()
	rows, err := s.sql.QueryContext(ctx,
		`SELECT cache_key, source_url, created_at, expires_at, access_count, last_accessed
		 FROM cache_entries ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	defer rows.Close()

	var entries []EntryInfo
	for rows.Next() {
		var e EntryInfo
		var created, expires, accessed int64
		err = rows.Scan(&e.Key, &e.SourceURL, &created, &expires, &e.AccessCount, &accessed)
		if err != nil {
			return nil, classifyStoreErr(err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		e.ExpiresAt = time.Unix(expires, 0).UTC()
		e.LastAccessed = time.Unix(accessed, 0).UTC()
		e.Expired = expires <= now
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
