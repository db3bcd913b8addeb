// Package extract resolves user queries into playable tracks with yt-dlp.
//
// A query that parses as an http(s) URL is handed to yt-dlp as is; anything
// else becomes a single-result search ("ytsearch1:<query>" by default). The
// extractor asks yt-dlp for the JSON description of the best audio format
// without downloading anything and maps it onto a [music.Track], carrying the
// HTTP headers the stream URL requires.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/vnutour/tourbot/internal/music"
	"github.com/vnutour/tourbot/internal/observe"
)

// Compile-time interface assertion.
var _ music.Extractor = (*YTDLP)(nil)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultPath         = "yt-dlp"
	DefaultSearchPrefix = "ytsearch1"
	DefaultFormat       = "bestaudio/best"
	DefaultTimeout      = 30 * time.Second
)

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("extract: empty query")

	// ErrNoResults is returned when yt-dlp resolves the query to nothing
	// playable. It reflects the query, not the health of the backend.
	ErrNoResults = errors.New("extract: no playable result")
)

// Config tunes a [YTDLP] extractor.
type Config struct {
	// Path is the yt-dlp executable. Default: "yt-dlp".
	Path string

	// SearchPrefix selects the search backend for non-URL queries, for
	// example "ytsearch1" or "scsearch1". Default: "ytsearch1".
	SearchPrefix string

	// Format is the yt-dlp format selector. Default: "bestaudio/best".
	Format string

	// Timeout bounds one extraction, including time spent waiting for a
	// concurrency slot. Default: 30s.
	Timeout time.Duration

	// Slots bounds concurrent yt-dlp processes. Shared between extractors.
	// Nil means unbounded.
	Slots *semaphore.Weighted

	// Metrics records extraction latency. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// YTDLP is a [music.Extractor] backed by the yt-dlp executable.
type YTDLP struct {
	cfg Config

	// run executes yt-dlp against target and returns its stdout. Overridden
	// in tests.
	run func(ctx context.Context, target string) (string, error)
}

// New creates a YTDLP extractor, filling zero-valued config fields with defaults.
func New(cfg Config) *YTDLP {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = DefaultSearchPrefix
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	y := &YTDLP{cfg: cfg}
	y.run = y.runYTDLP
	return y
}

// Name identifies the extractor by its search backend.
func (y *YTDLP) Name() string {
	return "yt-dlp/" + y.cfg.SearchPrefix
}

// Extract implements [music.Extractor].
func (y *YTDLP) Extract(ctx context.Context, query, requesterID string) (music.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return music.Track{}, &music.ExtractionError{Query: query, Err: ErrEmptyQuery}
	}
	target := y.Target(query)

	ctx, span := observe.StartSpan(ctx, "extract.ytdlp",
		attribute.String("extract.backend", y.cfg.SearchPrefix),
		attribute.Bool("extract.is_url", target == query),
	)

	ctx, cancel := context.WithTimeout(ctx, y.cfg.Timeout)
	defer cancel()

	start := time.Now()
	t, err := y.extract(ctx, target, requesterID)
	observe.EndSpan(span, err)
	status := "ok"
	if err != nil {
		status = "error"
		err = &music.ExtractionError{Query: query, Err: err}
	}
	y.cfg.Metrics.RecordExtraction(ctx, status, time.Since(start))
	observe.Logger(ctx).Debug("extract: done",
		"backend", y.cfg.SearchPrefix, "status", status, "duration", time.Since(start))
	return t, err
}

// Target returns what yt-dlp is asked to resolve for query.
func (y *YTDLP) Target(query string) string {
	if IsURL(query) {
		return query
	}
	return y.cfg.SearchPrefix + ":" + query
}

func (y *YTDLP) extract(ctx context.Context, target, requesterID string) (music.Track, error) {
	if y.cfg.Slots != nil {
		if err := y.cfg.Slots.Acquire(ctx, 1); err != nil {
			return music.Track{}, fmt.Errorf("extract: wait for slot: %w", err)
		}
		defer y.cfg.Slots.Release(1)
	}

	out, err := y.run(ctx, target)
	if err != nil {
		return music.Track{}, err
	}

	var root info
	if err := json.Unmarshal([]byte(out), &root); err != nil {
		return music.Track{}, fmt.Errorf("extract: decode yt-dlp output: %w", err)
	}
	entry, ok := root.pick()
	if !ok {
		return music.Track{}, ErrNoResults
	}
	return entry.track(requesterID)
}

// runYTDLP invokes the yt-dlp executable.
func (y *YTDLP) runYTDLP(ctx context.Context, target string) (string, error) {
	res, err := ytdlp.New().
		SetExecutable(y.cfg.Path).
		Format(y.cfg.Format).
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, target)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", fmt.Errorf("yt-dlp: %w: %s", err, lastLine(res.Stderr))
		}
		return "", fmt.Errorf("yt-dlp: %w", err)
	}
	return res.Stdout, nil
}

// IsBackendFailure reports whether err says something about the health of
// the yt-dlp backend rather than about the query or the caller. It is meant
// as a circuit breaker failure classifier.
func IsBackendFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrNoResults):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// IsURL reports whether s is an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// ─── yt-dlp JSON ──────────────────────────────────────────────────────────────

// info is the subset of yt-dlp's info dict that tourbot uses.
type info struct {
	Title            string            `json:"title"`
	URL              string            `json:"url"`
	WebpageURL       string            `json:"webpage_url"`
	OriginalURL      string            `json:"original_url"`
	Duration         float64           `json:"duration"`
	HTTPHeaders      map[string]string `json:"http_headers"`
	Artist           string            `json:"artist"`
	Creator          string            `json:"creator"`
	Uploader         string            `json:"uploader"`
	Channel          string            `json:"channel"`
	Thumbnail        string            `json:"thumbnail"`
	ViewCount        int64             `json:"view_count"`
	RequestedFormats []format          `json:"requested_formats"`
	Entries          []info            `json:"entries"`
}

type format struct {
	URL         string            `json:"url"`
	ACodec      string            `json:"acodec"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// pick returns the info dict describing the playable item: the first search
// or playlist entry, or the root itself.
func (i info) pick() (info, bool) {
	if i.Entries != nil {
		if len(i.Entries) == 0 {
			return info{}, false
		}
		return i.Entries[0], true
	}
	return i, true
}

func (i info) track(requesterID string) (music.Track, error) {
	streamURL, headers := i.URL, i.HTTPHeaders
	if streamURL == "" {
		// Merged formats carry their URLs per format.
		for _, f := range i.RequestedFormats {
			if f.URL != "" && f.ACodec != "none" {
				streamURL, headers = f.URL, f.HTTPHeaders
				break
			}
		}
	}
	if streamURL == "" {
		return music.Track{}, ErrNoResults
	}

	title := i.Title
	if title == "" {
		title = "Unknown title"
	}
	pageURL := i.WebpageURL
	if pageURL == "" {
		pageURL = i.OriginalURL
	}

	t := music.Track{
		Title:       title,
		StreamURL:   streamURL,
		PageURL:     pageURL,
		Duration:    time.Duration(i.Duration * float64(time.Second)),
		RequestedBy: requesterID,
		Artist:      firstNonEmpty(i.Artist, i.Creator),
		Uploader:    firstNonEmpty(i.Uploader, i.Channel),
		Thumbnail:   i.Thumbnail,
		ViewCount:   i.ViewCount,
	}
	return t.WithHeaders(headers), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
