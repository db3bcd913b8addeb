package music

import "context"

// Extractor resolves a user query (a URL or free-text search) into a playable
// [Track]. Implementations must be safe for concurrent use and must honour
// ctx cancellation. Errors match [ErrExtraction].
type Extractor interface {
	Extract(ctx context.Context, query, requesterID string) (Track, error)
}

// ExtractorFunc adapts a function to [Extractor].
type ExtractorFunc func(ctx context.Context, query, requesterID string) (Track, error)

// Extract implements [Extractor].
func (f ExtractorFunc) Extract(ctx context.Context, query, requesterID string) (Track, error) {
	return f(ctx, query, requesterID)
}
