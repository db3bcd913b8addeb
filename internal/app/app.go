// Package app wires all tourbot subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the extraction chain,
// the session registry and the slash commands, Run serves the gateway and
// the health/metrics listener until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject fakes via functional options (WithExtractor,
// WithSourceFactory, etc.). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vnutour/tourbot/internal/config"
	"github.com/vnutour/tourbot/internal/discord"
	"github.com/vnutour/tourbot/internal/discord/commands"
	"github.com/vnutour/tourbot/internal/extract"
	"github.com/vnutour/tourbot/internal/health"
	"github.com/vnutour/tourbot/internal/music"
	"github.com/vnutour/tourbot/internal/observe"
	"github.com/vnutour/tourbot/internal/resilience"
	"github.com/vnutour/tourbot/pkg/audio"
)

// shutdownTimeout bounds the HTTP listener's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Gateway is the Discord side of the application. [*discord.Bot] implements it.
type Gateway interface {
	Router() *discord.CommandRouter
	Platform() audio.Platform
	Permissions() *discord.PermissionChecker
	Sender() discord.MessageSender
	VoiceChannelOf(guildID, userID string) (string, bool)
	Ready() bool
	Run(ctx context.Context) error
	Close() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	gateway Gateway

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	extractor music.Extractor
	backends  *resilience.ExtractorGroup
	sources   music.SourceFactory
	status    music.StatusSink
	registry  *music.Registry
	limiter   *discord.UserLimiter
	health    *health.Handler
	handler   http.Handler

	// addr is the bound listener address once Run has started serving.
	addrMu sync.Mutex
	addr   net.Addr

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level variable of the default logger so that
// config reloads can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithExtractor injects an extractor instead of the yt-dlp backend chain.
func WithExtractor(e music.Extractor) Option {
	return func(a *App) { a.extractor = e }
}

// WithSourceFactory injects a source factory instead of ffmpeg.
func WithSourceFactory(f music.SourceFactory) Option {
	return func(a *App) { a.sources = f }
}

// WithStatusSink injects a status sink instead of posting through the gateway.
func WithStatusSink(s music.StatusSink) Option {
	return func(a *App) { a.status = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated.
func New(cfg *config.Config, gw Gateway, opts ...Option) (*App, error) {
	if gw == nil {
		return nil, errors.New("app: gateway is required")
	}
	a := &App{cfg: cfg, gateway: gw}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
		a.logLevel.Set(cfg.Server.LogLevel.Slog())
	}

	// ── 1. Extraction ────────────────────────────────────────────────────
	if a.extractor == nil {
		a.backends = NewExtractor(cfg.Music, a.metrics)
		a.extractor = a.backends
	}

	// ── 2. Decode ────────────────────────────────────────────────────────
	if a.sources == nil {
		a.sources = NewSourceFactory(cfg.Music)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	if a.status == nil {
		a.status = discord.NewStatusPoster(gw.Sender())
	}
	a.registry = music.NewRegistry(music.SessionConfig{
		Factory:                a.sources,
		Status:                 a.status,
		Metrics:                a.metrics,
		DefaultVolume:          audio.PercentToVolume(cfg.Music.DefaultVolume),
		MaxConsecutiveFailures: cfg.Music.MaxConsecutiveFailures,
	})

	// ── 4. Commands ──────────────────────────────────────────────────────
	a.limiter = discord.NewUserLimiter(cfg.Music.PlayRatePerMinute, cfg.Music.PlayBurst)
	commands.NewMusicCommands(commands.MusicConfig{
		Registry:     a.registry,
		Extractor:    a.extractor,
		Platform:     gw.Platform(),
		Perms:        gw.Permissions(),
		Limiter:      a.limiter,
		VoiceChannel: gw.VoiceChannelOf,
	}).Register(gw.Router())

	// ── 5. Health and metrics ────────────────────────────────────────────
	a.health = health.New(a.checkers(), health.WithInfo(func() map[string]any {
		return map[string]any{"sessions": a.registry.Len()}
	}))
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	slog.Info("app: initialised",
		"search_backends", cfg.Music.SearchBackends,
		"volume_mode", cfg.Music.VolumeMode,
		"default_volume", cfg.Music.DefaultVolume,
	)
	return a, nil
}

// NewExtractor builds one yt-dlp extractor per configured search backend,
// tried in order behind per-backend circuit breakers. All of them share a
// single concurrency bound.
func NewExtractor(cfg config.MusicConfig, metrics *observe.Metrics) *resilience.ExtractorGroup {
	slots := semaphore.NewWeighted(int64(max(cfg.MaxConcurrentExtractions, 1)))
	fb := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
			HalfOpenMax:  cfg.Breaker.HalfOpenMax,
			IsFailure:    extract.IsBackendFailure,
		},
	}

	backends := cfg.SearchBackends
	if len(backends) == 0 {
		backends = []string{extract.DefaultSearchPrefix}
	}
	var group *resilience.ExtractorGroup
	for _, prefix := range backends {
		y := extract.New(extract.Config{
			Path:         cfg.YTDLPPath,
			SearchPrefix: prefix,
			Timeout:      cfg.ExtractTimeout,
			Slots:        slots,
			Metrics:      metrics,
		})
		if group == nil {
			group = resilience.NewExtractorGroup(y, y.Name(), fb)
			continue
		}
		group.AddFallback(y.Name(), y)
	}
	return group
}

// checkers returns the readiness checks for the configured subsystems.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		health.Binary("ffmpeg", a.cfg.Music.FFmpegPath),
		health.Ready("discord", a.gateway.Ready),
	}
	if a.backends != nil {
		checks = append(checks,
			health.Binary("yt-dlp", a.cfg.Music.YTDLPPath),
			health.Backends("extractors", a.backendStates),
		)
	}
	return checks
}

func (a *App) backendStates() map[string]string {
	states := a.backends.States()
	out := make(map[string]string, len(states))
	for name, st := range states {
		out[name] = st.String()
	}
	return out
}

// Registry returns the session registry.
func (a *App) Registry() *music.Registry { return a.registry }

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the HTTP listener is bound to, or nil before
// Run has started serving.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable settings of next. It is the
// callback handed to [config.NewWatcher].
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.DJRoleChanged {
		a.gateway.Permissions().SetRole(d.NewDJRoleID)
		slog.Info("app: DJ role changed", "role_id", d.NewDJRoleID)
	}
	if d.PlayRateChanged {
		a.limiter.SetLimit(d.NewPlayRate, d.NewPlayBurst)
		slog.Info("app: play rate changed", "per_minute", d.NewPlayRate, "burst", d.NewPlayBurst)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes require a restart", "fields", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the Discord gateway and the HTTP listener until ctx is
// cancelled or either fails. A cancelled ctx is not an error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.gateway.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("app: http listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every playback session, leaving all voice channels, and
// closes the gateway. It respects the context deadline: if ctx expires
// before the sessions have stopped, the gateway is closed anyway and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "sessions", a.registry.Len())

		done := make(chan error, 1)
		go func() { done <- a.registry.Shutdown() }()

		var errs []error
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("app: stop sessions: %w", err))
			}
		case <-ctx.Done():
			slog.Warn("app: shutdown deadline exceeded while stopping sessions")
			errs = append(errs, ctx.Err())
		}

		if err := a.gateway.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close gateway: %w", err))
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
