package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vnutour/tourbot/internal/app"
	"github.com/vnutour/tourbot/internal/config"
	"github.com/vnutour/tourbot/internal/discord"
	discordmock "github.com/vnutour/tourbot/internal/discord/mock"
	"github.com/vnutour/tourbot/internal/music"
	"github.com/vnutour/tourbot/internal/observe"
	"github.com/vnutour/tourbot/pkg/audio"
	audiomock "github.com/vnutour/tourbot/pkg/audio/mock"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// fakeGateway is an in-memory [app.Gateway].
type fakeGateway struct {
	router   *discord.CommandRouter
	platform *audiomock.Platform
	perms    *discord.PermissionChecker
	sender   *discordmock.MessageSender

	ready  atomic.Bool
	runErr error

	mu         sync.Mutex
	closeCalls int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	return &fakeGateway{
		router:   discord.NewCommandRouter(testMetrics(t)),
		platform: &audiomock.Platform{},
		perms:    discord.NewPermissionChecker(""),
		sender:   &discordmock.MessageSender{},
	}
}

func (g *fakeGateway) Router() *discord.CommandRouter          { return g.router }
func (g *fakeGateway) Platform() audio.Platform                { return g.platform }
func (g *fakeGateway) Permissions() *discord.PermissionChecker { return g.perms }
func (g *fakeGateway) Sender() discord.MessageSender           { return g.sender }
func (g *fakeGateway) Ready() bool                             { return g.ready.Load() }

func (g *fakeGateway) VoiceChannelOf(_, _ string) (string, bool) { return "voice-1", true }

func (g *fakeGateway) Run(ctx context.Context) error {
	if g.runErr != nil {
		return g.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeCalls++
	return nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testConfig returns a validated config whose executables resolve to the
// test binary, so binary readiness checks pass.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	cfg, err := config.Parse(strings.NewReader(`
server:
  listen_addr: "127.0.0.1:0"
discord:
  token: test-token
`), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Music.FFmpegPath = exe
	cfg.Music.YTDLPPath = exe
	return cfg
}

func fakeExtractor() music.Extractor {
	return music.ExtractorFunc(func(_ context.Context, query, requesterID string) (music.Track, error) {
		return music.Track{Title: query, StreamURL: "https://cdn.example/" + query, RequestedBy: requesterID}, nil
	})
}

func fakeSources() music.SourceFactory {
	return music.SourceFactoryFunc(func(_ music.Track, volume float64, seek time.Duration) (audio.Source, error) {
		return &audiomock.Source{Frames: 1000, Vol: volume, Seek: seek, Cap: audio.CapabilityLiveVolume}, nil
	})
}

func newTestApp(t *testing.T, cfg *config.Config, gw *fakeGateway, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithExtractor(fakeExtractor()),
		app.WithSourceFactory(fakeSources()),
	}, opts...)
	a, err := app.New(cfg, gw, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func playInteraction(query string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "guild-1",
		ChannelID: "text-1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "play",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "query", Type: discordgo.ApplicationCommandOptionString, Value: query},
			},
		},
	}}
}

// ─── New ──────────────────────────────────────────────────────────────────────

func TestNew_RequiresGateway(t *testing.T) {
	t.Parallel()

	if _, err := app.New(testConfig(t), nil); err == nil {
		t.Fatal("New(nil gateway) succeeded, want error")
	}
}

func TestNew_RegistersMusicCommands(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	newTestApp(t, testConfig(t), gw)

	var names []string
	for _, cmd := range gw.router.ApplicationCommands() {
		names = append(names, cmd.Name)
	}
	for _, want := range []string{"play", "skip", "stop", "leave", "queue", "volume", "pause", "resume", "nowplaying"} {
		if !slices.Contains(names, want) {
			t.Errorf("command %q not registered (have %v)", want, names)
		}
	}
}

func TestNew_PlayEndToEnd(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	a := newTestApp(t, testConfig(t), gw)

	resp := &discordmock.InteractionResponder{}
	gw.router.Handle(resp, playInteraction("song-a"))
	if got := resp.LastContent(); !strings.Contains(got, "Playing **song-a**") {
		t.Fatalf("reply = %q", got)
	}

	sess, ok := a.Registry().Get("guild-1")
	if !ok {
		t.Fatal("no session after /play")
	}
	if sess.State() != music.StatePlaying {
		t.Errorf("state = %v, want playing", sess.State())
	}

	// The now-playing status is posted to the invoking text channel.
	deadline := time.Now().Add(2 * time.Second)
	for gw.sender.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no status message posted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewExtractor_OneBackendPerSearchPrefix(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	g := app.NewExtractor(cfg.Music, testMetrics(t))
	want := []string{"yt-dlp/ytsearch1", "yt-dlp/scsearch1"}
	if got := g.Backends(); !slices.Equal(got, want) {
		t.Errorf("Backends = %v, want %v", got, want)
	}
	for name, st := range g.States() {
		if st.String() != "closed" {
			t.Errorf("backend %s state = %v, want closed", name, st)
		}
	}
}

func TestNewExtractor_EmptyBackendsUsesDefault(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Music.SearchBackends = nil
	if got := app.NewExtractor(cfg.Music, testMetrics(t)).Backends(); !slices.Equal(got, []string{"yt-dlp/ytsearch1"}) {
		t.Errorf("Backends = %v", got)
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	a := newTestApp(t, testConfig(t), gw)

	get := func() int {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}
	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("readyz before gateway ready = %d, want 503", code)
	}
	gw.ready.Store(true)
	if code := get(); code != http.StatusOK {
		t.Errorf("readyz when ready = %d, want 200", code)
	}
}

func TestHandler_HealthzAndMetrics(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t), newFakeGateway(t))
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

// ─── Config reload ────────────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	lv := new(slog.LevelVar)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, gw, app.WithLogLevel(lv))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Discord.DJRoleID = "role-dj"
	a.ApplyConfig(cfg, &next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	outsider := playInteraction("x")
	if gw.perms.IsDJ(outsider) {
		t.Error("DJ role not applied: member without the role is a DJ")
	}
}

func TestApplyConfig_PlayRate(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, gw)

	next := *cfg
	next.Music.PlayRatePerMinute = 1
	next.Music.PlayBurst = 1
	a.ApplyConfig(cfg, &next)

	first := &discordmock.InteractionResponder{}
	gw.router.Handle(first, playInteraction("a"))
	second := &discordmock.InteractionResponder{}
	gw.router.Handle(second, playInteraction("b"))
	if got := second.LastContent(); !strings.Contains(got, "too fast") {
		t.Errorf("second /play reply = %q, want rate-limit rejection", got)
	}
}

// ─── Run / Shutdown ───────────────────────────────────────────────────────────

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t), newFakeGateway(t))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_GatewayErrorStopsRun(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	gw.runErr = errors.New("register commands: 401")
	a := newTestApp(t, testConfig(t), gw)

	if err := a.Run(context.Background()); !errors.Is(err, gw.runErr) {
		t.Errorf("Run = %v, want gateway error", err)
	}
}

func TestShutdown_StopsSessionsAndClosesGateway(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(t)
	a := newTestApp(t, testConfig(t), gw)
	gw.router.Handle(&discordmock.InteractionResponder{}, playInteraction("song-a"))
	if a.Registry().Len() != 1 {
		t.Fatalf("registry len = %d, want 1", a.Registry().Len())
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if a.Registry().Len() != 0 {
		t.Errorf("registry len after shutdown = %d, want 0", a.Registry().Len())
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.closeCalls != 1 {
		t.Errorf("gateway closed %d times, want 1", gw.closeCalls)
	}
}

// ─── Sources ──────────────────────────────────────────────────────────────────

func TestSourceFactory_EmptyStreamURL(t *testing.T) {
	t.Parallel()

	f := app.NewSourceFactory(testConfig(t).Music)
	if _, err := f.NewSource(music.Track{Title: "x"}, 1, 0); err == nil {
		t.Error("NewSource with empty stream URL succeeded")
	}
	if f.Capability() != audio.CapabilityLiveVolume {
		t.Errorf("Capability = %v, want live (default pcm mode)", f.Capability())
	}
}
