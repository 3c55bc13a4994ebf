package workers

import (
	"sync"
	"time"
)

// subpartitionQueue is a bounded FIFO of records for a single Subpartition,
// owned exclusively by QueueManager.
type subpartitionQueue struct {
	records []Record
	bytes   int
	leased  bool // at most one worker may be mid-process() on this subpartition
}

func (q *subpartitionQueue) peek() (Record, bool) {
	if len(q.records) == 0 {
		return Record{}, false
	}
	return q.records[0], true
}

func (q *subpartitionQueue) pop() {
	if len(q.records) == 0 {
		return
	}
	q.bytes -= q.records[0].Size
	q.records = q.records[1:]
}

func (q *subpartitionQueue) push(r Record) {
	q.records = append(q.records, r)
	q.bytes += r.Size
}

// QueueManager holds all SubpartitionQueues, enforces per-subpartition and
// global byte budgets, and schedules runnable subpartitions to
// WorkerThreads in a starvation-free order. It is shared by one producer
// (the ConsumerThread, via Push) and N consumers (WorkerThreads, via
// PickRunnable), guarded by a single mutex plus a broadcast condition — the
// simplest of the two concurrency strategies sanctioned by the design
// (single-mutex-plus-condition over lock-per-queue).
type QueueManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	queues map[Subpartition]*subpartitionQueue
	order  []Subpartition // rotating scan order for starvation freedom
	cursor int

	tasks map[Subpartition]Task

	maxQueueBytes int64
	maxTotalBytes int64 // 0 means unlimited
	totalBytes    int64

	partitionPaused map[TopicPartition]bool
}

// NewQueueManager constructs a manager with the given per-subpartition and
// global byte budgets. maxTotalBytes of 0 means unlimited.
func NewQueueManager(maxQueueBytes, maxTotalBytes int64) *QueueManager {
	m := &QueueManager{
		queues:          make(map[Subpartition]*subpartitionQueue),
		tasks:           make(map[Subpartition]Task),
		maxQueueBytes:   maxQueueBytes,
		maxTotalBytes:   maxTotalBytes,
		partitionPaused: make(map[TopicPartition]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetTask registers the Task instance that governs scheduling decisions for
// sub. It must be called before records for sub are pushed.
func (m *QueueManager) SetTask(sub Subpartition, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[sub] = task
}

// Push appends a record to sub's queue, creating the queue on first use,
// and wakes any worker waiting in PickRunnable.
func (m *QueueManager) Push(sub Subpartition, r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[sub]
	if !ok {
		q = &subpartitionQueue{}
		m.queues[sub] = q
		m.order = append(m.order, sub)
	}
	q.push(r)
	m.totalBytes += int64(r.Size)
	m.cond.Broadcast()
}

// DropPartition removes every subpartition queue belonging to p, e.g. on
// rebalance revocation. It returns the records that were still queued, so
// callers can decide whether to report them as dropped.
func (m *QueueManager) DropPartition(p TopicPartition) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []Record
	newOrder := m.order[:0]
	for _, sub := range m.order {
		if sub.TopicPartition != p {
			newOrder = append(newOrder, sub)
			continue
		}
		if q, ok := m.queues[sub]; ok {
			dropped = append(dropped, q.records...)
			m.totalBytes -= int64(q.bytes)
			delete(m.queues, sub)
		}
		delete(m.tasks, sub)
	}
	m.order = newOrder
	if m.cursor >= len(m.order) {
		m.cursor = 0
	}
	delete(m.partitionPaused, p)
	return dropped
}

func (m *QueueManager) partitionBytesLocked(p TopicPartition) int64 {
	var sum int64
	for sub, q := range m.queues {
		if sub.TopicPartition == p {
			sum += int64(q.bytes)
		}
	}
	return sum
}

// ShouldPause reports whether partition p should be paused: true if any of
// its subpartitions exceeds maxQueueBytes, or the global budget is
// exceeded.
func (m *QueueManager) ShouldPause(p TopicPartition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxTotalBytes > 0 && m.totalBytes > m.maxTotalBytes {
		return true
	}
	for sub, q := range m.queues {
		if sub.TopicPartition == p && int64(q.bytes) > m.maxQueueBytes {
			return true
		}
	}
	return false
}

// ShouldResume reports whether a paused partition p may resume: only once
// every one of its subpartitions is strictly below its individual cap AND
// the global cap is no longer exceeded. Asymmetric with ShouldPause to
// prevent flapping at the boundary.
func (m *QueueManager) ShouldResume(p TopicPartition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxTotalBytes > 0 && m.totalBytes >= m.maxTotalBytes {
		return false
	}
	for sub, q := range m.queues {
		if sub.TopicPartition == p && int64(q.bytes) >= m.maxQueueBytes {
			return false
		}
	}
	return true
}

// MarkPaused / IsPaused track the consumer's last-known pause state per
// partition so the ConsumerThread doesn't re-issue redundant pause/resume
// calls to the LogClient.
func (m *QueueManager) MarkPaused(p TopicPartition, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitionPaused[p] = paused
}

func (m *QueueManager) IsPaused(p TopicPartition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partitionPaused[p]
}

// PickRunnable selects a non-empty, non-leased subpartition whose Task
// accepts its head record, leases it to the caller, and returns the
// subpartition and its head record. If nothing is runnable it waits up to
// sleep before returning ok=false. Selection uses a rotating cursor across
// all known subpartitions so that no accepting, non-empty subpartition is
// skipped indefinitely.
func (m *QueueManager) PickRunnable(sleep time.Duration) (Subpartition, Record, bool) {
	deadline := time.Now().Add(sleep)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if sub, rec, ok := m.scanLocked(); ok {
			return sub, rec, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Subpartition{}, Record{}, false
		}
		m.waitWithTimeoutLocked(remaining)
	}
}

// scanLocked must be called with mu held. It performs one rotation over
// m.order starting at m.cursor.
func (m *QueueManager) scanLocked() (Subpartition, Record, bool) {
	n := len(m.order)
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		sub := m.order[idx]
		q := m.queues[sub]
		if q == nil || q.leased {
			continue
		}
		rec, ok := q.peek()
		if !ok {
			continue
		}
		task := m.tasks[sub]
		if task == nil || !task.Accept(sub) {
			continue
		}
		q.leased = true
		m.cursor = (idx + 1) % n
		return sub, rec, true
	}
	return Subpartition{}, Record{}, false
}

// waitWithTimeoutLocked waits on the condition for at most d, re-acquiring
// mu before returning, without busy-polling the caller.
func (m *QueueManager) waitWithTimeoutLocked(d time.Duration) {
	woken := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		close(woken)
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	select {
	case <-woken:
	default:
		m.cond.Wait()
	}
}

// Complete pops the head record of sub (which must have been returned by a
// prior PickRunnable) and releases its lease, making the next record (if
// any) available for scheduling.
func (m *QueueManager) Complete(sub Subpartition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[sub]
	if !ok {
		return
	}
	if rec, ok := q.peek(); ok {
		m.totalBytes -= int64(rec.Size)
	}
	q.pop()
	q.leased = false
	m.cond.Broadcast()
}

// TotalBytes returns the current global byte total across all queues.
func (m *QueueManager) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes
}
