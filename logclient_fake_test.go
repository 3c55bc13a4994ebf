package workers

import (
	"sync"
	"time"
)

// fakeLogClient is a minimal, in-memory workers.LogClient used across this
// package's tests to drive consumerThread and Supervisor without a real
// broker, in the same spirit as the teacher's own unit tests stubbing out
// sarama.ConsumerGroup collaborators.
type fakeLogClient struct {
	mu sync.Mutex

	toPoll    []Record
	pollErr   error
	commitErr error
	retriable bool

	paused   map[TopicPartition]bool
	resumed  map[TopicPartition]bool
	commits  []map[TopicPartition]int64
	closed   bool
	listener RebalanceListener
}

func (c *fakeLogClient) Subscribe(topics []string, listener RebalanceListener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
	c.paused = make(map[TopicPartition]bool)
	c.resumed = make(map[TopicPartition]bool)
	return nil
}

func (c *fakeLogClient) Poll(timeout time.Duration) ([]Record, error) {
	c.mu.Lock()
	if c.pollErr != nil {
		c.mu.Unlock()
		return nil, c.pollErr
	}
	out := c.toPoll
	c.toPoll = nil
	c.mu.Unlock()

	if len(out) == 0 {
		// Mirrors a real LogClient blocking for up to timeout when nothing
		// is available, so the ConsumerThread's loop doesn't busy-spin.
		time.Sleep(timeout)
	}
	return out, nil
}

func (c *fakeLogClient) Pause(partitions []TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range partitions {
		c.paused[p] = true
	}
}

func (c *fakeLogClient) Resume(partitions []TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range partitions {
		c.resumed[p] = true
		delete(c.paused, p)
	}
}

func (c *fakeLogClient) Commit(offsets map[TopicPartition]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[TopicPartition]int64, len(offsets))
	for k, v := range offsets {
		cp[k] = v
	}
	c.commits = append(c.commits, cp)
	return c.commitErr
}

func (c *fakeLogClient) IsRetriableCommitError(err error) bool {
	return err != nil && c.retriable
}

func (c *fakeLogClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeLogClient) enqueue(r ...Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toPoll = append(c.toPoll, r...)
}

func (c *fakeLogClient) assign(partitions ...TopicPartition) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	listener.OnAssigned(partitions)
}

func (c *fakeLogClient) revoke(partitions ...TopicPartition) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	listener.OnRevoked(partitions)
}

func (c *fakeLogClient) lastCommit() (map[TopicPartition]int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.commits) == 0 {
		return nil, false
	}
	return c.commits[len(c.commits)-1], true
}
