package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_DefaultsAreValid(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRequiresTopics(t *testing.T) {
	cfg := NewConfig()
	err := cfg.Validate()
	require.Error(t, err)
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestConfig_ValidateFallbackTopicRequiresTopicAndProducerConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.RecordProcessing.FailureAction = FailureActionFallbackTopic

	err := cfg.Validate()
	require.Error(t, err)

	cfg.RecordProcessing.FallbackTopic = "dead"
	err = cfg.Validate()
	require.Error(t, err, "fallback producer config is still missing")

	cfg.RecordProcessing.FallbackProducerKafka = map[string]string{"client.id": "x"}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsAutoCommitOverride(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Consumer.Kafka = map[string]string{"enable.auto.commit": "true"}

	err := cfg.Validate()
	require.Error(t, err)
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestConfig_ValidateRejectsNonPositiveIntervals(t *testing.T) {
	cfg := NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Consumer.PollTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Worker.NumThreads = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Consumer.Topics = []string{"orders"}
	cfg.Queue.MaxSizeBytes = 0
	assert.Error(t, cfg.Validate())
}
