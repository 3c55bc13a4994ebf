package saramaclient

import (
	"fmt"

	"github.com/Shopify/sarama"

	workers "github.com/kafka-workers/kafka-workers"
)

// FallbackSink implements workers.FailureSink by synchronously re-producing
// failed records to a fallback topic via sarama.SyncProducer, the same
// producer flavor the teacher's companion production code in this pack
// (e.g. signalfx-sarama's async_producer, used here in its synchronous
// form for a simpler ack contract) builds on.
type FallbackSink struct {
	topic    string
	producer sarama.SyncProducer
}

// NewFallbackSink constructs a FallbackSink that produces to topic using
// brokers and the record.processing.fallback.producer.kafka.* passthrough
// options.
func NewFallbackSink(brokers []string, topic string, kafkaOpts map[string]string) (*FallbackSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	if v, ok := kafkaOpts["client.id"]; ok {
		cfg.ClientID = v
	}

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("saramaclient: failed to create fallback producer: %w", err)
	}
	return &FallbackSink{topic: topic, producer: producer}, nil
}

// Send implements workers.FailureSink.
func (s *FallbackSink) Send(record workers.Record, ack func(error)) {
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.ByteEncoder(record.Key),
		Value: sarama.ByteEncoder(record.Value),
	}
	for k, v := range record.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: v})
	}

	// sarama.SyncProducer.SendMessage blocks for the duration of the
	// produce; run it off the observer's calling goroutine so a slow
	// fallback topic cannot stall a worker thread or the scheduler lock.
	go func() {
		_, _, err := s.producer.SendMessage(msg)
		ack(err)
	}()
}

// Close implements workers.FailureSink.
func (s *FallbackSink) Close() error {
	return s.producer.Close()
}
