package resilience

import (
	"context"
	"errors"

	"github.com/vnutour/tourbot/internal/music"
)

// Compile-time interface assertion.
var _ music.Extractor = (*ExtractorGroup)(nil)

// ExtractorGroup is a [music.Extractor] that tries its extractors in order,
// each behind its own circuit breaker.
type ExtractorGroup struct {
	group *FallbackGroup[music.Extractor]
}

// NewExtractorGroup creates an ExtractorGroup with primary tried first.
func NewExtractorGroup(primary music.Extractor, primaryName string, cfg FallbackConfig) *ExtractorGroup {
	return &ExtractorGroup{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an extractor tried after those already present.
func (g *ExtractorGroup) AddFallback(name string, e music.Extractor) {
	g.group.AddFallback(name, e)
}

// Backends returns the extractor names in order.
func (g *ExtractorGroup) Backends() []string { return g.group.Names() }

// States returns the breaker state of every extractor.
func (g *ExtractorGroup) States() map[string]State { return g.group.States() }

// Extract implements [music.Extractor]. A cancelled ctx aborts the chain
// instead of moving on to the next extractor. The returned error always
// matches [music.ErrExtraction].
func (g *ExtractorGroup) Extract(ctx context.Context, query, requesterID string) (music.Track, error) {
	t, err := ExecuteWithResult(g.group, func(e music.Extractor) (music.Track, error) {
		if err := ctx.Err(); err != nil {
			return music.Track{}, err
		}
		return e.Extract(ctx, query, requesterID)
	})
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, music.ErrExtraction) {
		err = &music.ExtractionError{Query: query, Err: err}
	}
	return music.Track{}, err
}
