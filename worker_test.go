package workers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTask completes every observer with OnSuccess immediately and
// records the offsets it was asked to process, to assert per-subpartition
// ordering (spec §8 P3).
type recordingTask struct {
	mu      sync.Mutex
	offsets []int64
}

func (t *recordingTask) Init(Subpartition, TaskConfig) error { return nil }
func (t *recordingTask) Accept(Subpartition) bool            { return true }
func (t *recordingTask) Process(r Record, o *RecordStatusObserver) {
	t.mu.Lock()
	t.offsets = append(t.offsets, r.Offset)
	t.mu.Unlock()
	o.OnSuccess()
}
func (t *recordingTask) Close(Subpartition) {}

// minimalSupervisorHarness builds just enough of Supervisor's fields to
// drive workerThread.process() directly, without Start()/goroutines.
func minimalSupervisorHarness(t *testing.T, cfg *Config) (*Supervisor, *recordingTask) {
	t.Helper()
	task := &recordingTask{}
	sup, err := NewSupervisor(cfg, &fakeLogClient{}, NewHashPartitioner(1), nil, func() Task { return task })
	require.NoError(t, err)
	return sup, task
}

func TestWorkerThread_ProcessesOneRecordPerIteration(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Worker.SleepInterval = 10 * time.Millisecond
	sup, task := minimalSupervisorHarness(t, cfg)

	p := tp("orders", 0)
	sub := Subpartition{TopicPartition: p, SubID: 0}
	sup.trackers[p] = NewOffsetTracker()
	require.NoError(t, sup.trackers[p].AddConsumed(1))
	require.NoError(t, sup.trackers[p].AddConsumed(2))
	sup.qm.SetTask(sub, task)
	sup.qm.Push(sub, Record{Partition: p, Offset: 1, Size: 10})
	sup.qm.Push(sub, Record{Partition: p, Offset: 2, Size: 10})

	w := newWorkerThread(sup, 0)
	require.NoError(t, w.process())
	require.NoError(t, w.process())

	assert.Equal(t, []int64{1, 2}, task.offsets, "offsets must be processed in the order observed")
	assert.Equal(t, int64(0), sup.qm.TotalBytes())
}

func TestWorkerThread_ProcessReturnsNilWhenNothingRunnable(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Worker.SleepInterval = 5 * time.Millisecond
	sup, _ := minimalSupervisorHarness(t, cfg)

	w := newWorkerThread(sup, 0)
	assert.NoError(t, w.process())
}
