package music

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

// Registry owns at most one [Session] per guild. Sessions are created on
// demand and evicted automatically when they stop.
//
// Registry is safe for concurrent use.
type Registry struct {
	template SessionConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Every session it creates is
// configured from template; GuildID and OnStopped are set by the registry.
func NewRegistry(template SessionConfig) *Registry {
	return &Registry{
		template: template,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for guildID, creating one if none
// exists. A stopped session still present in the map is replaced.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		if s.State() != StateStopped {
			return s
		}
		r.deleteLocked(s)
	}

	cfg := r.template
	cfg.GuildID = guildID
	cfg.OnStopped = r.evict
	s := NewSession(cfg)
	r.sessions[guildID] = s
	s.metrics.ActiveSessions.Add(context.Background(), 1)
	s.log.Debug("music: session created")
	return s
}

// Get returns the live session for guildID.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	if !ok || s.State() == StateStopped {
		return nil, false
	}
	return s, true
}

// Remove stops the session for guildID, if any. The stopped session evicts
// itself from the registry.
func (r *Registry) Remove(guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.Stop(); err != nil {
		return err
	}
	// Covers a session that was already stopped but not yet evicted.
	r.evict(s)
	return nil
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the held sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Collect(maps.Values(r.sessions))
}

// Shutdown stops every session. Errors from individual sessions are joined.
func (r *Registry) Shutdown() error {
	var errs []error
	for _, s := range r.Sessions() {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// evict removes s if it is still the session registered for its guild.
func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(s)
}

func (r *Registry) deleteLocked(s *Session) {
	if cur, ok := r.sessions[s.guildID]; ok && cur == s {
		delete(r.sessions, s.guildID)
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		s.log.Debug("music: session evicted")
	}
}
