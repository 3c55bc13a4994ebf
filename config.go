package workers

import "time"

// ConsumerConfig groups the consumer.* configuration keys from spec §6.
type ConsumerConfig struct {
	// Topics is consumer.topics.
	Topics []string
	// PollTimeout is consumer.poll.timeout.ms. Default 1s.
	PollTimeout time.Duration
	// CommitInterval is consumer.commit.interval.ms. Default 10s.
	CommitInterval time.Duration
	// ProcessingTimeout is consumer.processing.timeout.ms. Default 5m.
	ProcessingTimeout time.Duration
	// CommitRetries is consumer.commit.retries. Default 3.
	CommitRetries int
	// Kafka is the consumer.kafka.* passthrough given to the LogClient.
	Kafka map[string]string
}

// WorkerConfig groups the worker.* configuration keys.
type WorkerConfig struct {
	// NumThreads is worker.threads.num. Default 1.
	NumThreads int
	// SleepInterval is worker.sleep.ms. Default 1s.
	SleepInterval time.Duration
	// Task is worker.task.* passthrough given to each Task.Init.
	Task TaskConfig
}

// QueueConfig groups the queue.* configuration keys.
type QueueConfig struct {
	// MaxSizeBytes is queue.max.size.bytes, the per-subpartition cap.
	// Default 256 MiB.
	MaxSizeBytes int64
	// TotalMaxSizeBytes is queue.total.max.size.bytes, the global cap.
	// Default 0 (unlimited).
	TotalMaxSizeBytes int64
}

// RecordProcessingConfig groups the record.processing.* configuration keys.
type RecordProcessingConfig struct {
	// FailureAction is record.processing.failure.action. Default Shutdown.
	FailureAction FailureAction
	// FallbackTopic is record.processing.fallback.topic. Required when
	// FailureAction is FailureActionFallbackTopic.
	FallbackTopic string
	// FallbackProducerKafka is
	// record.processing.fallback.producer.kafka.* passthrough.
	FallbackProducerKafka map[string]string
}

// Config is the full, validated configuration for a Supervisor.
type Config struct {
	Consumer         ConsumerConfig
	Worker           WorkerConfig
	Queue            QueueConfig
	RecordProcessing RecordProcessingConfig
}

// NewConfig returns a Config populated with the documented defaults, the
// way the teacher's kafkaconsumer.NewConfig does.
func NewConfig() *Config {
	return &Config{
		Consumer: ConsumerConfig{
			PollTimeout:       1000 * time.Millisecond,
			CommitInterval:    10000 * time.Millisecond,
			ProcessingTimeout: 300000 * time.Millisecond,
			CommitRetries:     3,
			Kafka:             map[string]string{},
		},
		Worker: WorkerConfig{
			NumThreads:    1,
			SleepInterval: 1000 * time.Millisecond,
			Task:          TaskConfig{},
		},
		Queue: QueueConfig{
			MaxSizeBytes:      256 * 1024 * 1024,
			TotalMaxSizeBytes: 0,
		},
		RecordProcessing: RecordProcessingConfig{
			FailureAction:         FailureActionShutdown,
			FallbackProducerKafka: map[string]string{},
		},
	}
}

// forcedLogClientOverrides lists consumer.kafka.* keys an implementation
// must reject, because the framework forces enable.auto.commit off.
var forcedLogClientOverrides = map[string]string{
	"enable.auto.commit": "false",
}

// Validate checks the Config for internal consistency and returns a
// *ConfigurationError describing the first problem found, or nil.
func (c *Config) Validate() error {
	if len(c.Consumer.Topics) == 0 {
		return &ConfigurationError{Reason: "consumer.topics is required"}
	}
	if c.Consumer.PollTimeout <= 0 {
		return &ConfigurationError{Reason: "consumer.poll.timeout.ms must be positive"}
	}
	if c.Consumer.CommitInterval <= 0 {
		return &ConfigurationError{Reason: "consumer.commit.interval.ms must be positive"}
	}
	if c.Consumer.ProcessingTimeout <= 0 {
		return &ConfigurationError{Reason: "consumer.processing.timeout.ms must be positive"}
	}
	if c.Consumer.CommitRetries < 0 {
		return &ConfigurationError{Reason: "consumer.commit.retries must be non-negative"}
	}
	if c.Worker.NumThreads <= 0 {
		return &ConfigurationError{Reason: "worker.threads.num must be positive"}
	}
	if c.Worker.SleepInterval <= 0 {
		return &ConfigurationError{Reason: "worker.sleep.ms must be positive"}
	}
	if c.Queue.MaxSizeBytes <= 0 {
		return &ConfigurationError{Reason: "queue.max.size.bytes must be positive"}
	}
	if c.Queue.TotalMaxSizeBytes < 0 {
		return &ConfigurationError{Reason: "queue.total.max.size.bytes must be non-negative"}
	}

	switch c.RecordProcessing.FailureAction {
	case FailureActionShutdown, FailureActionSkip:
		// no extra requirements
	case FailureActionFallbackTopic:
		if c.RecordProcessing.FallbackTopic == "" {
			return &ConfigurationError{Reason: "record.processing.fallback.topic is required when record.processing.failure.action=FALLBACK_TOPIC"}
		}
		if len(c.RecordProcessing.FallbackProducerKafka) == 0 {
			return &ConfigurationError{Reason: "record.processing.fallback.producer.kafka.* must be non-empty when record.processing.failure.action=FALLBACK_TOPIC"}
		}
	default:
		return &ConfigurationError{Reason: "record.processing.failure.action is not a recognized value"}
	}

	for key, forced := range forcedLogClientOverrides {
		if v, ok := c.Consumer.Kafka[key]; ok && v != forced {
			return &ConfigurationError{Reason: "consumer.kafka." + key + " cannot be overridden"}
		}
	}

	return nil
}
