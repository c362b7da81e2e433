// Package wikitable retrieves opinion-poll tables from wiki pages.
// The source serves semi-structured HTML whose layout drifts over
// time, so selection works on a minimum-column heuristic rather than a
// fixed schema.
package wikitable

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ukpolls-backend/lib/htmlutil"
	"ukpolls-backend/lib/telemetry"
	"ukpolls-backend/lib/textutil"
)

var tracer = otel.Tracer("ukpolls.lib.wikitable")

// fetch failures after a successful connection that indicate the page
// cannot be used, not that the network flaked
var ErrInvalidContent = fmt.Errorf("page content is not a usable poll table")

// the source could not be fetched at all, after exhausting retries
// where the cause was transient
var ErrFetchFailed = fmt.Errorf("failed to fetch source page")

type Options struct {
	// per-attempt request timeout
	Timeout time.Duration
	// total attempt budget, transient failures retry until exhausted
	MaxAttempts int
	// backoff before retry n is BackoffBase * 2^n
	BackoffBase time.Duration
	// a 200 response shorter than this is an error placeholder page
	MinBodyBytes int
	// tables with fewer columns than this are ignored
	MinColumns int
	UserAgent   string
	// injectable for tests, defaults to time.Sleep
	Sleep func(time.Duration)
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = time.Second * 30
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second * 2
	}
	if o.MinBodyBytes <= 0 {
		o.MinBodyBytes = 100
	}
	if o.MinColumns <= 0 {
		o.MinColumns = 3
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

type Client struct {
	http *resty.Client
	opts Options
}

func NewClient(opts Options) *Client {
	opts = opts.withDefaults()

	client := resty.New()
	// the source 403s default client identifiers
	client.SetHeader("user-agent", opts.UserAgent)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "ukpolls.lib.wikitable.http")

	return &Client{
		http: client,
		opts: opts,
	}
}

func retryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// FetchTable retrieves pageURL and returns the first table that looks
// like a poll table: at least MinColumns columns, one of which names
// the Conservative party. Transient failures (transport errors, 429,
// 5xx) are retried with exponential backoff; anything else fails fast.
func (c *Client) FetchTable(ctx context.Context, pageURL string) (htmlutil.Table, error) {
	ctx, span := tracer.Start(ctx, "FetchTable")
	defer span.End()
	span.SetAttributes(attribute.String("url", pageURL))

	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		err = fmt.Errorf("%w: malformed url %q", ErrFetchFailed, pageURL)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return htmlutil.Table{}, err
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.opts.BackoffBase << (attempt - 1)
			span.AddEvent("backoff", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("wait", wait.String()),
			))
			c.opts.Sleep(wait)
		}

		res, err := c.http.R().SetContext(ctx).Get(pageURL)
		if err != nil {
			// transport errors (timeout, refused connection) are transient
			lastErr = err
			continue
		}

		status := res.StatusCode()
		if retryableStatus(status) {
			lastErr = fmt.Errorf("transient status %d", status)
			continue
		}
		if status != 200 {
			err = fmt.Errorf("%w: status %d", ErrFetchFailed, status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return htmlutil.Table{}, err
		}

		table, err := c.selectTable(ctx, res.Body())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return htmlutil.Table{}, err
		}
		return table, nil
	}

	err = fmt.Errorf("%w after %d attempts: %v", ErrFetchFailed, c.opts.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return htmlutil.Table{}, err
}

// exact normalized labels only. A substring match on "con" would also
// hit headers like "Dates conducted".
var conservativeLabels = map[string]bool{
	"con":           true,
	"con.":          true,
	"conservative":  true,
	"conservatives": true,
	"tory":          true,
	"tories":        true,
}

func (c *Client) selectTable(ctx context.Context, body []byte) (htmlutil.Table, error) {
	ctx, span := tracer.Start(ctx, "selectTable")
	defer span.End()

	if len(bytes.TrimSpace(body)) < c.opts.MinBodyBytes {
		return htmlutil.Table{}, fmt.Errorf("%w: response body too short (%d bytes)", ErrInvalidContent, len(body))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return htmlutil.Table{}, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	tables := htmlutil.ExtractTables(ctx, doc)
	if len(tables) == 0 {
		return htmlutil.Table{}, fmt.Errorf("%w: no tables found in page", ErrInvalidContent)
	}

	for _, table := range tables {
		if table.Columns() < c.opts.MinColumns || len(table.Rows) == 0 {
			continue
		}
		for _, label := range table.Header {
			if conservativeLabels[textutil.NormalizeName(label)] {
				span.SetAttributes(
					attribute.Int("columns", table.Columns()),
					attribute.Int("rows", len(table.Rows)),
				)
				return table, nil
			}
		}
	}

	return htmlutil.Table{}, fmt.Errorf(
		"%w: no table with >= %d columns names the Conservative party (%d tables seen)",
		ErrInvalidContent, c.opts.MinColumns, len(tables),
	)
}
