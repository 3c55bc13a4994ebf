package workers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisorWithClient(t *testing.T, cfg *Config, client *fakeLogClient) (*Supervisor, *recordingTask) {
	t.Helper()
	task := &recordingTask{}
	sup, err := NewSupervisor(cfg, client, NewHashPartitioner(1), nil, func() Task { return task })
	require.NoError(t, err)
	require.NoError(t, sup.consumerInitForTest())
	return sup, task
}

// consumerInitForTest exposes consumerThread.init without starting the
// Supervisor's goroutines, so consumer logic can be driven synchronously.
func (s *Supervisor) consumerInitForTest() error {
	s.consumer = newConsumerThread(s)
	return s.consumer.init()
}

func TestConsumerThread_RoutesAndTracksConsumedOffsets(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	client := &fakeLogClient{}
	sup, _ := newTestSupervisorWithClient(t, cfg, client)

	p := tp("orders", 0)
	client.assign(p)
	client.enqueue(Record{Partition: p, Offset: 1, Size: 10}, Record{Partition: p, Offset: 2, Size: 10})

	require.NoError(t, sup.consumer.process())

	tr := sup.tracker(p)
	require.NotNil(t, tr)
	assert.Equal(t, int64(2), sup.qm.TotalBytes())
	age := tr.OldestInflightAgeMs(time.Now())
	assert.GreaterOrEqual(t, age, int64(0), "both offsets are consumed but not yet processed")
}

func TestConsumerThread_PausesAndResumesOnBackpressure(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Consumer.PollTimeout = time.Millisecond
	cfg.Queue.MaxSizeBytes = 100
	client := &fakeLogClient{}
	sup, _ := newTestSupervisorWithClient(t, cfg, client)

	p := tp("orders", 0)
	client.assign(p)
	client.enqueue(Record{Partition: p, Offset: 1, Size: 200})

	require.NoError(t, sup.consumer.process())
	assert.True(t, client.paused[p])

	sub := Subpartition{TopicPartition: p, SubID: 0}
	_, _, ok := sup.qm.PickRunnable(time.Millisecond)
	require.True(t, ok)
	sup.qm.Complete(sub)

	client.toPoll = nil
	require.NoError(t, sup.consumer.process())
	assert.True(t, client.resumed[p])
}

func TestConsumerThread_CommitsOnInterval(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Consumer.PollTimeout = time.Millisecond
	cfg.Consumer.CommitInterval = time.Nanosecond // effectively always due
	client := &fakeLogClient{}
	sup, _ := newTestSupervisorWithClient(t, cfg, client)

	p := tp("orders", 0)
	client.assign(p)
	client.enqueue(Record{Partition: p, Offset: 1, Size: 10})
	require.NoError(t, sup.consumer.process())

	sub := Subpartition{TopicPartition: p, SubID: 0}
	_, _, ok := sup.qm.PickRunnable(time.Millisecond)
	require.True(t, ok)
	observer := newRecordStatusObserver(sup, Record{Partition: p, Offset: 1})
	observer.OnSuccess()
	sup.qm.Complete(sub)

	client.toPoll = nil
	require.NoError(t, sup.consumer.process())

	commit, ok := client.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(2), commit[p])
}

func TestConsumerThread_CommitRetryExhaustionIsFatal(t *testing.T) {
	// spec §8 scenario 4.
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Consumer.PollTimeout = time.Millisecond
	cfg.Consumer.CommitInterval = time.Nanosecond
	cfg.Consumer.CommitRetries = 2
	client := &fakeLogClient{retriable: true}
	sup, _ := newTestSupervisorWithClient(t, cfg, client)

	p := tp("orders", 0)
	client.assign(p)
	client.enqueue(Record{Partition: p, Offset: 1, Size: 10})
	require.NoError(t, sup.consumer.process())

	observer := newRecordStatusObserver(sup, Record{Partition: p, Offset: 1})
	observer.OnSuccess()

	client.commitErr = assertionErr{"commit unavailable"}
	client.toPoll = nil
	err := sup.consumer.process()
	require.Error(t, err)
	var rf *RetriableCommitFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, 2, rf.Retries)
	assert.Len(t, client.commits, 3, "initial attempt plus 2 retries")
}

func TestConsumerThread_ProcessingTimeoutWatchdog(t *testing.T) {
	// spec §8 scenario 5.
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Consumer.PollTimeout = time.Millisecond
	cfg.Consumer.ProcessingTimeout = 1 * time.Millisecond
	client := &fakeLogClient{}
	sup, _ := newTestSupervisorWithClient(t, cfg, client)

	p := tp("orders", 0)
	client.assign(p)
	client.enqueue(Record{Partition: p, Offset: 1, Size: 10})
	require.NoError(t, sup.consumer.process())

	time.Sleep(5 * time.Millisecond)
	client.toPoll = nil
	err := sup.consumer.process()
	require.Error(t, err)
	var pt *ProcessingTimeout
	assert.ErrorAs(t, err, &pt)
}

func TestConsumerThread_RevocationCommitsAndDropsTrackers(t *testing.T) {
	// spec §8 scenario 6.
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	client := &fakeLogClient{}
	sup, _ := newTestSupervisorWithClient(t, cfg, client)

	p := tp("orders", 0)
	client.assign(p)
	client.enqueue(Record{Partition: p, Offset: 1, Size: 10})
	require.NoError(t, sup.consumer.process())

	observer := newRecordStatusObserver(sup, Record{Partition: p, Offset: 1})
	observer.OnSuccess()

	client.revoke(p)

	assert.Nil(t, sup.tracker(p))
	commit, ok := client.lastCommit()
	require.True(t, ok)
	assert.Equal(t, int64(2), commit[p])
}

// assertionErr is a plain string error for tests, avoiding a stdlib errors
// import collision with the errors.As assertions above.
type assertionErr struct{ s string }

func (e assertionErr) Error() string { return e.s }
