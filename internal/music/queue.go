package music

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Queue is a strict FIFO of tracks. There is no deduplication and no
// priority. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []Track
}

// Enqueue appends t to the back of the queue.
func (q *Queue) Enqueue(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, t)
}

// DequeueFront removes and returns the track at the front of the queue.
// The second return value is false when the queue is empty.
func (q *Queue) DequeueFront() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Track{}, false
	}
	t := q.items[0]
	q.items[0] = Track{}
	q.items = q.items[1:]
	return t, true
}

// PushFront puts t back at the front of the queue, ahead of every other
// track. It is used to return a track that was dequeued but never played.
func (q *Queue) PushFront(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.Insert(q.items, 0, t)
}

// Clear removes every queued track and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Snapshot returns a copy of the queued tracks in play order.
func (q *Queue) Snapshot() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// TotalDuration sums the known durations of the queued tracks. Tracks with
// unknown duration contribute nothing.
func (q *Queue) TotalDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.SumBy(q.items, func(t Track) time.Duration { return max(t.Duration, 0) })
}
