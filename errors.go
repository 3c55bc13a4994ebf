package workers

import "fmt"

// ConfigurationError is raised at construction time when a Config fails
// validation. It prevents the Supervisor from starting.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("kafka-workers: configuration error: %s", e.Reason)
}

// ObserverMisuse is raised when a RecordStatusObserver is completed more
// than once, or completed for an offset the tracker does not recognize as
// consumed. It is logged through the Supervisor's error reporting as is: it
// is not wrapped in a UserProcessingError, is not routed through the
// FailureAction, and never triggers shutdown. It never corrupts the
// OffsetTracker.
type ObserverMisuse struct {
	Reason string
}

func (e *ObserverMisuse) Error() string {
	return fmt.Sprintf("kafka-workers: observer misuse: %s", e.Reason)
}

// UserProcessingError wraps any error a Task reports through
// RecordStatusObserver.OnFailure. It is routed through the configured
// FailureAction and is fatal only when that action is SHUTDOWN.
type UserProcessingError struct {
	Partition TopicPartition
	Offset    int64
	Cause     error
}

func (e *UserProcessingError) Error() string {
	return fmt.Sprintf("kafka-workers: processing failed for %s offset %d: %s", e.Partition, e.Offset, e.Cause)
}

func (e *UserProcessingError) Unwrap() error { return e.Cause }

// ProcessingTimeout is raised by the watchdog when a record has been
// in-flight (consumed but not processed) longer than
// consumer.processing.timeout.ms. It is always fatal.
type ProcessingTimeout struct {
	Partition TopicPartition
	AgeMs     int64
}

func (e *ProcessingTimeout) Error() string {
	return fmt.Sprintf("kafka-workers: processing timeout on %s, oldest in-flight record is %dms old", e.Partition, e.AgeMs)
}

// RetriableCommitFailure is raised when LogClient.Commit exhausts
// consumer.commit.retries on a retriable error. It is always fatal.
type RetriableCommitFailure struct {
	Cause   error
	Retries int
}

func (e *RetriableCommitFailure) Error() string {
	return fmt.Sprintf("kafka-workers: commit failed after %d retries: %s", e.Retries, e.Cause)
}

func (e *RetriableCommitFailure) Unwrap() error { return e.Cause }

// FatalLogClientError wraps any non-retriable error returned by the
// LogClient. It is always fatal.
type FatalLogClientError struct {
	Cause error
}

func (e *FatalLogClientError) Error() string {
	return fmt.Sprintf("kafka-workers: fatal log client error: %s", e.Cause)
}

func (e *FatalLogClientError) Unwrap() error { return e.Cause }

// InternalInvariantViolation is raised when internal bookkeeping detects a
// broken invariant (e.g. non-monotonic consumed offsets). It is always
// fatal and indicates a framework or LogClient bug.
type InternalInvariantViolation struct {
	Reason string
}

func (e *InternalInvariantViolation) Error() string {
	return fmt.Sprintf("kafka-workers: internal invariant violation: %s", e.Reason)
}

// AlreadyClosed is returned by Supervisor.Shutdown when called after the
// supervisor has already finished shutting down.
type AlreadyClosed struct{}

func (e *AlreadyClosed) Error() string {
	return "kafka-workers: supervisor already closed"
}
