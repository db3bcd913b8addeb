package music

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnutour/tourbot/internal/observe"
	"github.com/vnutour/tourbot/pkg/audio"
)

// DefaultMaxConsecutiveFailures is how many tracks in a row may fail before a
// session gives up, clears its queue and goes idle.
const DefaultMaxConsecutiveFailures = 3

// statusTimeout bounds a single status delivery.
const statusTimeout = 10 * time.Second

// statusBuffer is how many undelivered status messages a session holds before
// dropping new ones.
const statusBuffer = 32

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle: nothing is playing and the queue is empty.
	StateIdle State = iota

	// StateStarting: a track has been dequeued and its source is being built.
	StateStarting

	// StatePlaying: a source has been handed to the transport.
	StatePlaying

	// StateCompleting: the current track ended and its source is being released.
	StateCompleting

	// StateStopped is terminal. The session must be discarded.
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateCompleting:
		return "completing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SourceFactory builds the decode source for a track at the given volume,
// starting seek into the stream.
type SourceFactory interface {
	NewSource(t Track, volume float64, seek time.Duration) (audio.Source, error)
}

// SourceFactoryFunc adapts a function to [SourceFactory].
type SourceFactoryFunc func(t Track, volume float64, seek time.Duration) (audio.Source, error)

// NewSource implements [SourceFactory].
func (f SourceFactoryFunc) NewSource(t Track, volume float64, seek time.Duration) (audio.Source, error) {
	return f(t, volume, seek)
}

// SessionConfig holds the dependencies and tunables of a [Session].
type SessionConfig struct {
	// GuildID is the guild this session plays in.
	GuildID string

	// Factory builds decode sources. Required.
	Factory SourceFactory

	// Status receives user-facing notifications. Optional.
	Status StatusSink

	// Metrics records playback metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// DefaultVolume is the initial volume multiplier, clamped to [0, 2].
	// Zero selects 1.0.
	DefaultVolume float64

	// MaxConsecutiveFailures caps how many tracks in a row may fail before
	// the queue is abandoned. Zero selects [DefaultMaxConsecutiveFailures].
	MaxConsecutiveFailures int

	// Now returns the current time. Defaults to time.Now; overridden in tests.
	Now func() time.Time

	// OnStopped is called once, outside the session lock, after the session
	// reaches [StateStopped].
	OnStopped func(*Session)
}

// Snapshot is a point-in-time view of a [Session].
type Snapshot struct {
	ID            string
	GuildID       string
	State         State
	NowPlaying    *Track
	Queue         []Track
	Volume        float64
	Position      time.Duration
	Paused        bool
	OutputChannel string
	VoiceChannel  string
}

// Session is the playback engine for one guild. It owns the queue, the active
// decode source, and the voice transport, and advances through the queue as
// tracks complete.
//
// All methods are safe for concurrent use.
type Session struct {
	id          string
	guildID     string
	factory     SourceFactory
	status      StatusSink
	metrics     *observe.Metrics
	maxFailures int
	now         func() time.Time
	onStopped   func(*Session)
	log         *slog.Logger

	queue Queue

	mu            sync.Mutex
	state         State
	transport     audio.Transport
	outputChannel string
	nowPlaying    *Track
	source        audio.Source
	volume        float64
	startedAt     time.Time
	pausedAt      time.Time // zero unless paused
	failures      int

	// retired holds sources released under mu. They are cleaned up by
	// unlock, after mu is released, since ending a process can block.
	retired []audio.Source

	// gen identifies the current Play call. Completions carrying an older
	// generation are ignored.
	gen           uint64
	completion    bool
	completionErr error

	wake     chan struct{} // cap 1; kicks run after a completion is recorded
	statusCh chan statusMsg
	done     chan struct{}
}

type statusMsg struct {
	channelID string
	status    Status
}

// NewSession creates an idle session and starts its background goroutines,
// which exit when the session is stopped.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	vol := 1.0
	if cfg.DefaultVolume > 0 {
		vol = audio.ClampVolume(cfg.DefaultVolume)
	}

	id := uuid.NewString()
	s := &Session{
		id:          id,
		guildID:     cfg.GuildID,
		factory:     cfg.Factory,
		status:      cfg.Status,
		metrics:     cfg.Metrics,
		maxFailures: cfg.MaxConsecutiveFailures,
		now:         cfg.Now,
		onStopped:   cfg.OnStopped,
		log:         slog.With("guild_id", cfg.GuildID, "session_id", id),
		state:       StateIdle,
		volume:      vol,
		wake:        make(chan struct{}, 1),
		statusCh:    make(chan statusMsg, statusBuffer),
		done:        make(chan struct{}),
	}
	go s.run()
	go s.deliverStatus()
	return s
}

// ID returns the unique session identifier used in logs.
func (s *Session) ID() string { return s.id }

// GuildID returns the guild this session plays in.
func (s *Session) GuildID() string { return s.guildID }

// Done returns a channel that is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// ─── Voice and status wiring ──────────────────────────────────────────────────

// Attach binds the session to a voice transport. Re-attaching the same
// transport is a no-op. A different transport may only replace one that is
// no longer connected.
func (s *Session) Attach(t audio.Transport) error {
	s.mu.Lock()
	defer s.unlock()

	if s.state == StateStopped {
		return &StateError{Op: "attach", State: s.state}
	}
	if s.transport == t {
		return nil
	}
	if s.transport != nil && s.transport.IsConnected() {
		return &StateError{Op: "attach", State: s.state, Reason: "already connected to voice channel " + s.transport.ChannelID()}
	}
	if s.source != nil {
		// The previous connection died under a playing track. Drop the track;
		// its completion can no longer arrive.
		s.gen++
		s.completion = false
		s.retireLocked()
		s.state = StateIdle
	}

	s.transport = t
	if n, ok := t.(audio.DisconnectNotifier); ok {
		n.OnDisconnect(func() {
			s.log.Warn("music: voice connection lost, stopping session")
			if err := s.Stop(); err != nil {
				s.log.Debug("music: disconnect after drop", "err", err)
			}
		})
	}
	s.log.Info("music: attached to voice channel", "channel_id", t.ChannelID())

	if s.state == StateIdle && s.queue.Len() > 0 {
		s.startNextLocked()
	}
	return nil
}

// Transport returns the attached voice transport, or nil.
func (s *Session) Transport() audio.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SetOutputChannel sets the text channel that receives status messages.
func (s *Session) SetOutputChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputChannel = channelID
}

// ─── Queue operations ─────────────────────────────────────────────────────────

// Enqueue appends t to the queue. If the session is idle, playback of t
// starts before Enqueue returns. The returned position is 0 when t is now
// playing, otherwise its 1-based position in the queue.
func (s *Session) Enqueue(t Track) (int, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.state == StateStopped {
		return 0, &StateError{Op: "enqueue", State: s.state}
	}
	if s.transport == nil || !s.transport.IsConnected() {
		return 0, &StateError{Op: "enqueue", State: s.state, Reason: "not connected to a voice channel"}
	}

	ahead := s.queue.Len()
	s.queue.Enqueue(t)
	s.metrics.QueuedTracks.Add(context.Background(), 1)
	s.log.Info("music: track queued", "track", t.Title, "requested_by", t.RequestedBy)

	if s.state == StateIdle {
		s.startNextLocked()
		if s.state == StateStopped {
			return 0, &StateError{Op: "enqueue", State: s.state}
		}
		if ahead == 0 {
			// t was dequeued first: it is playing, or it failed to start and
			// the failure has already been reported.
			return 0, nil
		}
		return s.queue.Len(), nil
	}
	return ahead + 1, nil
}

// DequeueNext removes and returns the track that would play next.
func (s *Session) DequeueNext() (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.queue.DequeueFront()
	if ok {
		s.metrics.QueuedTracks.Add(context.Background(), -1)
	}
	return t, ok
}

// ClearQueue removes every queued track without touching the current one.
// It returns how many tracks were removed.
func (s *Session) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearQueueLocked()
}

func (s *Session) clearQueueLocked() int {
	n := s.queue.Clear()
	if n > 0 {
		s.metrics.QueuedTracks.Add(context.Background(), int64(-n))
	}
	return n
}

// QueueSnapshot returns a copy of the queued tracks in play order.
func (s *Session) QueueSnapshot() []Track {
	return s.queue.Snapshot()
}

// QueueDuration sums the known durations of the queued tracks.
func (s *Session) QueueDuration() time.Duration {
	return s.queue.TotalDuration()
}

// ─── Playback control ─────────────────────────────────────────────────────────

// Skip ends the current track immediately, without draining buffered audio,
// and advances to the next one. It returns the skipped track.
func (s *Session) Skip() (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying || s.nowPlaying == nil {
		return Track{}, &StateError{Op: "skip", State: s.state}
	}
	t := *s.nowPlaying
	s.transport.Stop()
	s.signalCompletionLocked(s.gen, nil)
	s.log.Info("music: track skipped", "track", t.Title)
	return t, nil
}

// Pause suspends the current track.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return &StateError{Op: "pause", State: s.state}
	}
	if !s.pausedAt.IsZero() {
		return &StateError{Op: "pause", State: s.state, Reason: "already paused"}
	}
	s.transport.Pause()
	s.pausedAt = s.now()
	return nil
}

// Resume continues a paused track.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return &StateError{Op: "resume", State: s.state}
	}
	if s.pausedAt.IsZero() {
		return &StateError{Op: "resume", State: s.state, Reason: "not paused"}
	}
	s.transport.Resume()
	s.startedAt = s.startedAt.Add(s.now().Sub(s.pausedAt))
	s.pausedAt = time.Time{}
	return nil
}

// Stop ends playback, clears the queue, releases the source, and leaves the
// voice channel. The session becomes [StateStopped] and must be discarded.
// Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}

	s.clearQueueLocked()
	s.gen++
	s.completion = false
	tr := s.transport
	if tr != nil {
		tr.Stop()
	}
	s.retireLocked()
	s.state = StateStopped
	close(s.done)
	onStopped := s.onStopped
	s.unlock()

	s.log.Info("music: session stopped")

	var err error
	if tr != nil {
		if dErr := tr.Disconnect(); dErr != nil {
			err = fmt.Errorf("music: leave voice channel: %w", dErr)
		}
	}
	if onStopped != nil {
		onStopped(s)
	}
	return err
}

// SetVolume sets the volume from a percentage (clamped to 0–200) and applies
// it to the current track. Live-volume sources change on the next frame;
// other sources are rebuilt at the current position. The applied multiplier
// is returned.
func (s *Session) SetVolume(percent int) (float64, error) {
	v := audio.PercentToVolume(percent)

	s.mu.Lock()
	defer s.unlock()

	if s.state == StateStopped {
		return s.volume, &StateError{Op: "set volume", State: s.state}
	}
	s.volume = v
	if s.source == nil {
		return v, nil
	}

	ctx := context.Background()
	if s.source.Capability() == audio.CapabilityLiveVolume {
		err := s.source.SetVolume(v)
		if err == nil {
			s.metrics.RecordVolumeChange(ctx, audio.CapabilityLiveVolume.String())
			return v, nil
		}
		if !errors.Is(err, audio.ErrVolumeUnsupported) {
			return v, fmt.Errorf("music: set volume: %w", err)
		}
	}

	// Rebuild the source at the current position. mu is released while the
	// replacement spawns.
	gen := s.gen
	t := *s.nowPlaying
	elapsed := s.positionLocked()
	s.mu.Unlock()
	src, err := s.factory.NewSource(t, v, elapsed)
	s.mu.Lock()
	if err != nil {
		s.log.Error("music: volume rebuild failed, keeping current source", "track", t.Title, "err", err)
		return v, fmt.Errorf("%w: rebuild for volume: %w", ErrProcessSpawn, err)
	}
	if gen != s.gen || s.state != StatePlaying || s.completion || s.volume != v {
		// The track ended, or a later volume change took over, meanwhile.
		s.retired = append(s.retired, src)
		if s.state == StateStopped {
			return v, &StateError{Op: "set volume", State: s.state}
		}
		return v, nil
	}
	s.retired = append(s.retired, s.source)
	s.source = src
	s.playLocked(src)

	if s.pausedAt.IsZero() {
		s.startedAt = s.now().Add(-elapsed)
	} else {
		s.startedAt = s.pausedAt.Add(-elapsed)
	}
	s.metrics.RecordVolumeChange(ctx, audio.CapabilityRebuild.String())
	s.log.Debug("music: source rebuilt for volume", "volume", v, "position", elapsed)
	return v, nil
}

// ─── Introspection ────────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Volume returns the session volume multiplier.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// NowPlaying returns the current track, if any.
func (s *Session) NowPlaying() (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil {
		return Track{}, false
	}
	return *s.nowPlaying, true
}

// Position returns how far into the current track playback is, excluding
// time spent paused. Zero when nothing is playing.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *Session) positionLocked() time.Duration {
	if s.nowPlaying == nil || s.startedAt.IsZero() {
		return 0
	}
	end := s.now()
	if !s.pausedAt.IsZero() {
		end = s.pausedAt
	}
	return max(end.Sub(s.startedAt), 0)
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.id,
		GuildID:       s.guildID,
		State:         s.state,
		Queue:         s.queue.Snapshot(),
		Volume:        s.volume,
		Position:      s.positionLocked(),
		Paused:        !s.pausedAt.IsZero(),
		OutputChannel: s.outputChannel,
	}
	if s.nowPlaying != nil {
		t := *s.nowPlaying
		snap.NowPlaying = &t
	}
	if s.transport != nil {
		snap.VoiceChannel = s.transport.ChannelID()
	}
	return snap
}

// ─── Internals ────────────────────────────────────────────────────────────────

// startNextLocked dequeues tracks until one starts playing or the queue is
// exhausted. Spawn failures count toward the consecutive-failure cap.
//
// It is called with mu held and returns with mu held, but releases mu while
// each source is spawned. The session stays in [StateStarting] meanwhile, so
// no other caller starts a track.
func (s *Session) startNextLocked() {
	ctx := context.Background()
	for {
		if s.transport == nil || !s.transport.IsConnected() {
			// Keep the queue; a later Attach resumes from it.
			s.state = StateIdle
			return
		}
		t, ok := s.queue.DequeueFront()
		if !ok {
			s.state = StateIdle
			s.postLocked(Status{Kind: StatusQueueEnded})
			return
		}
		s.metrics.QueuedTracks.Add(ctx, -1)
		s.state = StateStarting

		src, err := s.spawnLocked(t)
		if s.state != StateStarting {
			// Stopped while the source was being built.
			if src != nil {
				s.retired = append(s.retired, src)
			}
			return
		}
		if err == nil && !s.transport.IsConnected() {
			// The voice connection went away during the spawn.
			s.retired = append(s.retired, src)
			s.queue.PushFront(t)
			s.metrics.QueuedTracks.Add(ctx, 1)
			s.state = StateIdle
			return
		}
		if err != nil {
			err = fmt.Errorf("%w: %q: %w", ErrProcessSpawn, t.Title, err)
			s.log.Error("music: failed to start track", "track", t.Title, "err", err)
			s.metrics.RecordTrackFailure(ctx, "spawn")
			if s.recordFailureLocked(t, err) {
				return
			}
			continue
		}

		if !s.pausedAt.IsZero() || s.transport.IsPaused() {
			s.transport.Resume()
			s.pausedAt = time.Time{}
		}
		s.nowPlaying = &t
		s.source = src
		s.startedAt = s.now()
		s.playLocked(src)
		s.state = StatePlaying

		s.metrics.RecordTrackStarted(ctx)
		s.log.Info("music: now playing", "track", t.Title, "duration", t.DurationString())
		s.postLocked(Status{Kind: StatusNowPlaying, Track: t})
		return
	}
}

// spawnLocked builds the source for t with mu released. If the volume
// changes during the spawn and the source cannot follow it live, the source
// is discarded and built again. The caller must check s.state afterwards.
func (s *Session) spawnLocked(t Track) (audio.Source, error) {
	for {
		vol := s.volume
		s.mu.Unlock()
		src, err := s.factory.NewSource(t, vol, 0)
		s.mu.Lock()

		if err != nil || s.state != StateStarting || s.volume == vol {
			return src, err
		}
		if src.SetVolume(s.volume) == nil {
			return src, nil
		}
		s.retired = append(s.retired, src)
	}
}

// playLocked hands src to the transport under a fresh generation and starts
// a watcher for its completion.
func (s *Session) playLocked(src audio.Source) {
	s.gen++
	s.completion = false
	s.completionErr = nil
	gen := s.gen
	done := s.transport.Play(src)
	go s.watch(gen, done)
}

// watch waits for one Play completion and records it.
func (s *Session) watch(gen uint64, done <-chan error) {
	var err error
	select {
	case err = <-done:
	case <-s.done:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signalCompletionLocked(gen, err)
}

// signalCompletionLocked records that the playback identified by gen ended.
// Completions for older generations and repeated completions for the same
// generation are ignored.
func (s *Session) signalCompletionLocked(gen uint64, err error) {
	if gen != s.gen || s.state != StatePlaying || s.completion {
		return
	}
	s.completion = true
	s.completionErr = err
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the single consumer of completion signals.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.consumeCompletion()
		}
	}
}

// consumeCompletion retires the finished track and starts the next one.
func (s *Session) consumeCompletion() {
	s.mu.Lock()
	defer s.unlock()

	if !s.completion || s.state != StatePlaying {
		return
	}
	err := s.completionErr
	s.completion = false
	s.completionErr = nil
	s.state = StateCompleting

	t := *s.nowPlaying
	s.retireLocked()

	if !s.transport.IsConnected() {
		s.log.Warn("music: voice connection gone, pausing queue", "track", t.Title, "err", err)
		s.state = StateIdle
		return
	}

	if err != nil {
		kind := "playback"
		if errors.Is(err, audio.ErrEmptyStream) {
			kind = "empty"
		}
		err = fmt.Errorf("%w: %q: %w", ErrPlayback, t.Title, err)
		s.log.Warn("music: track ended with error", "track", t.Title, "err", err)
		s.metrics.RecordTrackFailure(context.Background(), kind)
		if s.recordFailureLocked(t, err) {
			return
		}
	} else {
		s.failures = 0
		s.log.Debug("music: track finished", "track", t.Title)
	}

	s.startNextLocked()
}

// recordFailureLocked counts a failed track. When the consecutive-failure cap
// is reached it abandons the queue, goes idle, and reports true.
func (s *Session) recordFailureLocked(t Track, err error) bool {
	s.failures++
	s.postLocked(Status{Kind: StatusTrackFailed, Track: t, Err: err})
	if s.failures < s.maxFailures {
		return false
	}
	dropped := s.clearQueueLocked()
	s.log.Error("music: too many consecutive failures, clearing queue",
		"failures", s.failures, "dropped", dropped)
	s.postLocked(Status{Kind: StatusFailureLimit, Err: err})
	s.failures = 0
	s.state = StateIdle
	return true
}

// retireLocked detaches the active source for cleanup by unlock and clears
// the now-playing state.
func (s *Session) retireLocked() {
	if s.source != nil {
		s.retired = append(s.retired, s.source)
	}
	s.source = nil
	s.nowPlaying = nil
	s.startedAt = time.Time{}
	s.pausedAt = time.Time{}
}

// unlock releases mu, then cleans up the sources retired while it was held.
func (s *Session) unlock() {
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()
	for _, src := range retired {
		src.Cleanup()
	}
}

// postLocked queues st for delivery to the output channel. Messages are
// delivered in order by deliverStatus; when the buffer is full they are dropped.
func (s *Session) postLocked(st Status) {
	if s.status == nil || s.outputChannel == "" {
		return
	}
	st.GuildID = s.guildID
	st.Volume = s.volume
	st.Queued = s.queue.Len()
	select {
	case s.statusCh <- statusMsg{channelID: s.outputChannel, status: st}:
	default:
		s.log.Warn("music: status buffer full, dropping message", "kind", st.Kind.String())
	}
}

// deliverStatus posts queued status messages until the session stops.
func (s *Session) deliverStatus() {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.statusCh:
			ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
			if err := s.status.Post(ctx, m.channelID, m.status); err != nil {
				s.log.Debug("music: status delivery failed", "kind", m.status.Kind.String(), "err", err)
			}
			cancel()
		}
	}
}
