package workers

import (
	"sync"

	tomb "gopkg.in/tomb.v1"
)

// activity is the supervised-thread abstraction described in spec §4.6/§9:
// init runs once, process runs repeatedly until the activity is told to
// stop or returns an error, and close runs exactly once on every exit path.
// ConsumerThread and WorkerThread both implement it; Supervisor is the host
// that runs each one on its own goroutine and funnels any error into a
// single shared shutdown.
type activity interface {
	init() error
	// process runs one bounded unit of work. Any blocking it does must be
	// bounded by a configured timeout so that a pending stop request is
	// noticed promptly between calls.
	process() error
	close()
}

// Supervisor owns the configuration, LogClient, QueueManager, per-partition
// OffsetTrackers, FailureSink, ConsumerThread, and WorkerThreads, and
// drives their shared lifecycle. It is the only exported entry point.
type Supervisor struct {
	cfg    *Config
	client LogClient
	sink   FailureSink
	pt     Partitioner
	newTask func() Task

	qm *QueueManager

	trackMu  sync.Mutex
	trackers map[TopicPartition]*OffsetTracker
	tasks    map[Subpartition]Task

	consumer *consumerThread
	workers  []*workerThread

	tombMu sync.Mutex
	tombs  []*tomb.Tomb

	shutdownOnce sync.Once
	doneCh       chan struct{}
	causeMu      sync.Mutex
	cause        error
	started      bool
	closed       bool
}

// NewSupervisor validates cfg and constructs a Supervisor. It does not
// start any goroutines; call Start for that.
//
// newTask must return a fresh Task instance each time it is called — one
// per Subpartition, the way spec §3 requires ("created on first record for
// subpartition").
func NewSupervisor(cfg *Config, client LogClient, pt Partitioner, sink FailureSink, newTask func() Task) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RecordProcessing.FailureAction == FailureActionFallbackTopic && sink == nil {
		return nil, &ConfigurationError{Reason: "a FailureSink is required when record.processing.failure.action=FALLBACK_TOPIC"}
	}

	s := &Supervisor{
		cfg:      cfg,
		client:   client,
		sink:     sink,
		pt:       pt,
		newTask:  newTask,
		qm:       NewQueueManager(cfg.Queue.MaxSizeBytes, cfg.Queue.TotalMaxSizeBytes),
		trackers: make(map[TopicPartition]*OffsetTracker),
		tasks:    make(map[Subpartition]Task),
		doneCh:   make(chan struct{}),
	}
	return s, nil
}

// Start constructs the ConsumerThread and worker.threads.num WorkerThreads
// and starts them, then returns without waiting for them to finish.
func (s *Supervisor) Start() error {
	if s.started {
		return &ConfigurationError{Reason: "supervisor already started"}
	}
	s.started = true

	s.consumer = newConsumerThread(s)
	s.runActivity("consumer", s.consumer)

	for i := 0; i < s.cfg.Worker.NumThreads; i++ {
		w := newWorkerThread(s, i)
		s.workers = append(s.workers, w)
		s.runActivity("worker", w)
	}
	return nil
}

// runActivity starts act on its own goroutine, under its own tomb, and
// funnels any error it returns into Supervisor.shutdown.
func (s *Supervisor) runActivity(name string, act activity) {
	t := new(tomb.Tomb)
	s.tombMu.Lock()
	s.tombs = append(s.tombs, t)
	s.tombMu.Unlock()

	go func() {
		defer t.Done()

		if err := act.init(); err != nil {
			act.close()
			s.shutdown(err)
			return
		}
		defer act.close()

		for {
			select {
			case <-t.Dying():
				return
			default:
			}
			if err := act.process(); err != nil {
				s.shutdown(err)
				return
			}
			if s.isShuttingDown() {
				return
			}
		}
	}()
}

func (s *Supervisor) isShuttingDown() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}

// Shutdown is the external, cooperative shutdown entry point (§4.6): it
// requests every supervised thread to stop and waits for them to join in
// dependency order (workers first, consumer last). It is idempotent, and
// returns AlreadyClosed if called after a prior Shutdown has completed.
func (s *Supervisor) Shutdown() error {
	if s.closed {
		return &AlreadyClosed{}
	}
	s.shutdown(nil)
	s.join()
	s.closed = true
	return nil
}

// shutdown flips the shared shutdown flag exactly once, recording cause if
// this is the first caller (internal failure or external request); it
// kills every registered tomb so blocked activities notice on their next
// bounded wait.
func (s *Supervisor) shutdown(cause error) {
	s.shutdownOnce.Do(func() {
		s.causeMu.Lock()
		s.cause = cause
		s.causeMu.Unlock()
		close(s.doneCh)
	})

	if cause != nil {
		s.causeMu.Lock()
		if s.cause == nil {
			s.cause = cause
		}
		s.causeMu.Unlock()
	}

	s.tombMu.Lock()
	tombs := append([]*tomb.Tomb(nil), s.tombs...)
	s.tombMu.Unlock()
	for _, t := range tombs {
		t.Kill(cause)
	}
}

// join waits for workers to finish before the consumer, then closes the
// FailureSink and LogClient.
func (s *Supervisor) join() {
	s.tombMu.Lock()
	tombs := append([]*tomb.Tomb(nil), s.tombs...)
	s.tombMu.Unlock()

	// Workers were appended after the consumer in Start, so join in
	// reverse registration order to honor "workers first, consumer last".
	for i := len(tombs) - 1; i >= 0; i-- {
		_ = tombs[i].Wait()
	}

	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			Logger.Printf("failed to close failure sink: %s", err)
		}
	}
	if err := s.client.Close(); err != nil {
		Logger.Printf("failed to close log client: %s", err)
	}
}

// GetCause returns the first non-nil error that caused shutdown, or nil if
// no shutdown with a cause has happened. The cause is available as soon as
// it is recorded, before the supervisor has finished closing.
func (s *Supervisor) GetCause() error {
	s.causeMu.Lock()
	defer s.causeMu.Unlock()
	return s.cause
}

// Done returns a channel closed once shutdown has been requested
// (internally or externally), before threads have necessarily joined.
func (s *Supervisor) Done() <-chan struct{} {
	return s.doneCh
}

// --- observerHost implementation ---

func (s *Supervisor) tracker(p TopicPartition) *OffsetTracker {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.trackers[p]
}

func (s *Supervisor) failureAction() FailureAction {
	return s.cfg.RecordProcessing.FailureAction
}

func (s *Supervisor) failureSink() FailureSink {
	return s.sink
}

func (s *Supervisor) reportUserError(err error) {
	Logger.Printf("processing error: %s", err)
}

func (s *Supervisor) requestShutdown(cause error) {
	s.shutdown(cause)
}

// --- partition lifecycle, invoked by the ConsumerThread's RebalanceListener ---

func (s *Supervisor) onAssigned(partitions []TopicPartition) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	for _, p := range partitions {
		s.trackers[p] = NewOffsetTracker()
	}
}

func (s *Supervisor) onRevoked(partitions []TopicPartition) {
	for _, p := range partitions {
		dropped := s.qm.DropPartition(p)
		if len(dropped) > 0 {
			Logger.Printf("dropping %d queued record(s) for revoked partition %s", len(dropped), p)
		}

		s.trackMu.Lock()
		for sub, task := range s.tasks {
			if sub.TopicPartition == p {
				task.Close(sub)
				delete(s.tasks, sub)
			}
		}
		delete(s.trackers, p)
		s.trackMu.Unlock()
	}
}

// taskFor returns the Task for sub, creating and initializing it on first
// use (spec §3: "created on first record for subpartition").
func (s *Supervisor) taskFor(sub Subpartition) (Task, error) {
	s.trackMu.Lock()
	if t, ok := s.tasks[sub]; ok {
		s.trackMu.Unlock()
		return t, nil
	}
	s.trackMu.Unlock()

	t := s.newTask()
	if err := t.Init(sub, s.cfg.Worker.Task); err != nil {
		return nil, err
	}

	s.trackMu.Lock()
	s.tasks[sub] = t
	s.trackMu.Unlock()
	s.qm.SetTask(sub, t)
	return t, nil
}
