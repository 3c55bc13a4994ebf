package workers

// TaskConfig carries the worker.task.* passthrough configuration to a Task.
type TaskConfig map[string]string

// Task is user-supplied processing logic for one Subpartition. A Task
// instance is created on the first record routed to a Subpartition and
// closed when the owning partition is revoked; it is never shared across
// workers concurrently — the scheduler enforces at-most-one active worker
// per Subpartition.
type Task interface {
	// Init is called once before the first Process call for sub.
	Init(sub Subpartition, cfg TaskConfig) error

	// Accept is a cheap, pure predicate over the queue head and the
	// Task's own internal state. It is called under the scheduler lock by
	// QueueManager.PickRunnable and must not block or perform I/O.
	Accept(sub Subpartition) bool

	// Process handles a single record and must complete observer exactly
	// once, eventually, in offset order per subpartition. Process may
	// return before the observer is completed (asynchronous tasks).
	Process(record Record, observer *RecordStatusObserver)

	// Close releases any resources held for sub. Called once on
	// revocation.
	Close(sub Subpartition)
}

// Partitioner maps a record to a deterministic subpartition id in
// [0, maxSub).
type Partitioner interface {
	SubpartitionFor(record Record) int
}

// FailureSink is the optional sidecar that re-produces failed records to a
// fallback topic when record.processing.failure.action is FALLBACK_TOPIC.
type FailureSink interface {
	// Send hands the original record to the sink. ack is invoked exactly
	// once, either with a nil error on successful production or a non-nil
	// error if the sink could not deliver the record.
	Send(record Record, ack func(error))

	// Close releases resources held by the sink.
	Close() error
}
