package workers

import (
	"fmt"
	"io/ioutil"
	"log"
	"time"
)

// Logger is used for all framework-level logging. It defaults to a discard
// logger; embedding applications assign their own the same way the
// teacher's example wires kafkaconsumer.Logger.
var Logger = log.New(ioutil.Discard, "", 0)

// TopicPartition identifies a single partition of a single topic. It is an
// immutable value.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
}

// Subpartition identifies an independently-ordered sub-stream of a
// TopicPartition, as produced by a Partitioner.
type Subpartition struct {
	TopicPartition TopicPartition
	SubID          int
}

func (s Subpartition) String() string {
	return fmt.Sprintf("%s#%d", s.TopicPartition, s.SubID)
}

// Record is a single log record delivered by the LogClient.
type Record struct {
	Partition TopicPartition
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte

	// Size is the serialized size of the record in bytes, used for queue
	// byte-budget accounting.
	Size int

	// EnqueuedAt is stamped by the ConsumerThread when the record is pushed
	// onto the QueueManager; it anchors the processing-timeout watchdog.
	EnqueuedAt time.Time
}

// RebalanceListener receives partition assignment notifications from a
// LogClient. OnAssigned and OnRevoked are both called on the thread driving
// the LogClient and must not block for long.
type RebalanceListener interface {
	OnAssigned(partitions []TopicPartition)
	OnRevoked(partitions []TopicPartition)
}

// LogClient is the abstract partitioned-log interface the ConsumerThread
// drives. Concrete implementations (saramaclient, zkconsumer) wrap a real
// broker client. enable.auto.commit is always forced off: an
// implementation must reject any configuration attempting to override it.
type LogClient interface {
	// Subscribe subscribes to topics and installs rebalance callbacks. It
	// must be called exactly once before the first Poll.
	Subscribe(topics []string, listener RebalanceListener) error

	// Poll blocks for up to timeout waiting for records, returning
	// whatever is available (possibly empty) when the bound expires.
	Poll(timeout time.Duration) ([]Record, error)

	// Pause suspends delivery of further records for the given partitions
	// until Resume is called for them.
	Pause(partitions []TopicPartition)

	// Resume lifts a previous Pause for the given partitions.
	Resume(partitions []TopicPartition)

	// Commit synchronously commits the given offsets (the next offset to
	// be read on resumption, i.e. last-processed + 1). It classifies
	// errors as retriable via IsRetriableCommitError.
	Commit(offsets map[TopicPartition]int64) error

	// IsRetriableCommitError reports whether an error returned from Commit
	// should be retried.
	IsRetriableCommitError(err error) bool

	// Close releases all resources held by the client.
	Close() error
}
