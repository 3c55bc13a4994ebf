package workers

import (
	"sort"
	"sync"
	"time"
)

// OffsetTracker records, for a single TopicPartition, which offsets have
// been consumed (polled and enqueued) and which have been processed
// (reported success, skip, or fallback-ack by a RecordStatusObserver), and
// derives the highest safe-to-commit offset.
//
// processed is always a subset of consumed. The tracker keeps no committed
// watermark of its own: NextCommit trims every offset it reports as
// committable, so consumed only holds offsets not yet handed out for commit.
type OffsetTracker struct {
	mu sync.Mutex

	consumed  map[int64]time.Time // offset -> enqueue time, for the watchdog
	processed map[int64]struct{}
	maxSeen   int64 // highest offset ever added to consumed; -1 if none
}

// NewOffsetTracker returns a tracker for a freshly assigned partition.
func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{
		consumed:  make(map[int64]time.Time),
		processed: make(map[int64]struct{}),
		maxSeen:   -1,
	}
}

// AddConsumed records that offset has been polled and enqueued. offset must
// be strictly greater than every offset previously added; violation raises
// InternalInvariantViolation, since the consumer observing out-of-order
// offsets would silently corrupt the commit watermark.
func (t *OffsetTracker) AddConsumed(offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset <= t.maxSeen {
		return &InternalInvariantViolation{Reason: "offset not strictly increasing in AddConsumed"}
	}
	t.consumed[offset] = time.Now()
	t.maxSeen = offset
	return nil
}

// AddProcessed records that offset has completed processing. offset must
// already be in consumed and must not already be in processed.
func (t *OffsetTracker) AddProcessed(offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.consumed[offset]; !ok {
		return &ObserverMisuse{Reason: "offset not consumed"}
	}
	if _, ok := t.processed[offset]; ok {
		return &ObserverMisuse{Reason: "offset already processed"}
	}
	t.processed[offset] = struct{}{}
	return nil
}

// NextCommit returns the highest offset o such that every consumed offset
// up to and including o is also processed, and trims both sets of entries
// <= o; the offset to commit is o+1. ok is false if no offset is committable.
func (t *OffsetTracker) NextCommit() (offset int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.consumed) == 0 {
		return 0, false
	}

	keys := make([]int64, 0, len(t.consumed))
	for k := range t.consumed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	highest := int64(-1)
	found := false
	for _, k := range keys {
		if _, ok := t.processed[k]; !ok {
			break
		}
		highest = k
		found = true
	}
	if !found {
		return 0, false
	}

	for _, k := range keys {
		if k > highest {
			break
		}
		delete(t.consumed, k)
		delete(t.processed, k)
	}
	return highest, true
}

// OldestInflightAgeMs returns how long, in milliseconds, the oldest
// consumed-but-not-processed record has been in flight. It returns -1 if
// nothing is in flight. This drives the processing-timeout watchdog.
func (t *OffsetTracker) OldestInflightAgeMs(now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest time.Time
	found := false
	for offset, ts := range t.consumed {
		if _, done := t.processed[offset]; done {
			continue
		}
		if !found || ts.Before(oldest) {
			oldest = ts
			found = true
		}
	}
	if !found {
		return -1
	}
	return now.Sub(oldest).Milliseconds()
}

// Empty reports whether there are no consumed-but-uncommitted offsets left;
// used on revocation to decide whether a final commit attempt is needed.
func (t *OffsetTracker) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.consumed) == 0
}
