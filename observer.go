package workers

import "sync/atomic"

// FailureAction selects what happens when a Task reports a processing
// failure via RecordStatusObserver.OnFailure.
type FailureAction int

const (
	// FailureActionShutdown requests supervisor shutdown with the failure
	// cause. This is the default.
	FailureActionShutdown FailureAction = iota
	// FailureActionFallbackTopic hands the record to the configured
	// FailureSink; the offset is marked processed once the sink acks.
	FailureActionFallbackTopic
	// FailureActionSkip marks the offset processed immediately, dropping
	// the record.
	FailureActionSkip
)

// observerHost is the subset of Supervisor that RecordStatusObserver needs,
// kept narrow so observer.go has no dependency on Supervisor's full surface.
type observerHost interface {
	tracker(p TopicPartition) *OffsetTracker
	failureAction() FailureAction
	failureSink() FailureSink
	reportUserError(err error)
	requestShutdown(cause error)
}

// RecordStatusObserver is handed to user Task code for exactly one record.
// onSuccess XOR onFailure must be called at most once; it is the only path
// by which records transition from consumed to processed.
type RecordStatusObserver struct {
	host      observerHost
	record    Record
	completed int32 // atomic
}

func newRecordStatusObserver(host observerHost, record Record) *RecordStatusObserver {
	return &RecordStatusObserver{host: host, record: record}
}

// OnSuccess reports that the record was processed successfully. Calling it
// a second time (after OnSuccess or OnFailure already ran) is reported as
// ObserverMisuse and does not alter the tracker.
func (o *RecordStatusObserver) OnSuccess() {
	if !atomic.CompareAndSwapInt32(&o.completed, 0, 1) {
		o.host.reportUserError(&ObserverMisuse{Reason: "observer completed more than once"})
		return
	}
	o.markProcessed()
}

// OnFailure reports that processing failed with cause. Behavior is
// dispatched on the configured FailureAction.
func (o *RecordStatusObserver) OnFailure(cause error) {
	if !atomic.CompareAndSwapInt32(&o.completed, 0, 1) {
		o.host.reportUserError(&ObserverMisuse{Reason: "observer completed more than once"})
		return
	}

	userErr := &UserProcessingError{Partition: o.record.Partition, Offset: o.record.Offset, Cause: cause}

	switch o.host.failureAction() {
	case FailureActionShutdown:
		o.host.requestShutdown(userErr)

	case FailureActionFallbackTopic:
		sink := o.host.failureSink()
		sink.Send(o.record, func(sinkErr error) {
			if sinkErr != nil {
				o.host.requestShutdown(sinkErr)
				return
			}
			o.markProcessed()
		})

	case FailureActionSkip:
		o.host.reportUserError(userErr)
		o.markProcessed()
	}
}

func (o *RecordStatusObserver) markProcessed() {
	tr := o.host.tracker(o.record.Partition)
	if tr == nil {
		return
	}
	if err := tr.AddProcessed(o.record.Offset); err != nil {
		o.host.reportUserError(err)
	}
}
