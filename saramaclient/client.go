// Package saramaclient implements workers.LogClient on top of
// github.com/Shopify/sarama's consumer-group API, the same client library
// the teacher (wvanbergen/kafka/kafkaconsumer) is built on, modernized from
// its Zookeeper-static-assignment model to sarama's own rebalance protocol.
package saramaclient

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	workers "github.com/kafka-workers/kafka-workers"
)

// Logger is used for client-level logging, defaulting to a discard logger
// the same way the teacher's kafkaconsumer.Logger does.
var Logger = log.New(ioutil.Discard, "", 0)

// Client adapts a sarama.ConsumerGroup to workers.LogClient.
type Client struct {
	groupID string
	topics  []string
	group   sarama.ConsumerGroup
	config  *sarama.Config

	records chan workers.Record

	mu        sync.Mutex
	session   sarama.ConsumerGroupSession
	listener  workers.RebalanceListener
	cancel    context.CancelFunc
	runErr    chan error
	runDoneWg sync.WaitGroup
}

// New constructs a Client from consumer.kafka.* style options. brokers and
// groupID are required; kafkaOpts mirrors the consumer.kafka.* passthrough
// table in spec §6. Of its keys, only "client.id" is applied (and
// "enable.auto.commit" checked, see below); all other keys are ignored.
//
// enable.auto.commit is always forced off: sarama's own Config.Consumer.Offsets.AutoCommit.Enable
// defaults to true, so New explicitly disables it and returns an error if
// kafkaOpts attempts to re-enable it.
func New(brokers []string, groupID string, topics []string, kafkaOpts map[string]string) (*Client, error) {
	if v, ok := kafkaOpts["enable.auto.commit"]; ok && v == "true" {
		return nil, &workers.ConfigurationError{Reason: "saramaclient: enable.auto.commit cannot be overridden"}
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	if v, ok := kafkaOpts["client.id"]; ok {
		cfg.ClientID = v
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("saramaclient: failed to create consumer group: %w", err)
	}

	return &Client{
		groupID: groupID,
		topics:  topics,
		group:   group,
		config:  cfg,
		records: make(chan workers.Record, 4096),
		runErr:  make(chan error, 1),
	}, nil
}

// Subscribe implements workers.LogClient.
func (c *Client) Subscribe(topics []string, listener workers.RebalanceListener) error {
	c.mu.Lock()
	c.listener = listener
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.errorPump(ctx)

	c.runDoneWg.Add(1)
	go c.consumeLoop(ctx, topics)
	return nil
}

func (c *Client) errorPump(ctx context.Context) {
	for {
		select {
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			Logger.Printf("consumer group error: %s", err)
		case <-ctx.Done():
			return
		}
	}
}

// consumeLoop repeatedly calls ConsumerGroup.Consume, which blocks for the
// duration of one generation and returns when the group rebalances or the
// context is cancelled; sarama re-invokes Setup/ConsumeClaim/Cleanup on the
// handler for every generation.
func (c *Client) consumeLoop(ctx context.Context, topics []string) {
	defer c.runDoneWg.Done()
	h := &groupHandler{client: c}
	for {
		if err := c.group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return
			}
			select {
			case c.runErr <- fmt.Errorf("saramaclient: consume error: %w", err):
			default:
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Poll implements workers.LogClient. It blocks for up to timeout waiting
// for at least one record, then drains whatever else is immediately
// available without blocking further.
func (c *Client) Poll(timeout time.Duration) ([]workers.Record, error) {
	select {
	case err := <-c.runErr:
		return nil, err
	default:
	}

	var out []workers.Record
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-c.records:
		out = append(out, r)
	case err := <-c.runErr:
		return nil, err
	case <-timer.C:
		return out, nil
	}

drain:
	for {
		select {
		case r := <-c.records:
			out = append(out, r)
		default:
			break drain
		}
	}
	return out, nil
}

// Pause implements workers.LogClient.
func (c *Client) Pause(partitions []workers.TopicPartition) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}
	session.Pause(toPartitionMap(partitions))
}

// Resume implements workers.LogClient.
func (c *Client) Resume(partitions []workers.TopicPartition) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}
	session.Resume(toPartitionMap(partitions))
}

// Commit implements workers.LogClient by marking every offset on the
// current session and forcing a synchronous commit.
func (c *Client) Commit(offsets map[workers.TopicPartition]int64) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return errRebalancing
	}
	for p, offset := range offsets {
		session.MarkOffset(p.Topic, p.Partition, offset, "")
	}
	session.Commit()
	return nil
}

// errRebalancing is returned by Commit when no consumer group session is
// currently active; it is retriable, since a rebalance is expected to
// complete shortly and Setup will install a fresh session.
var errRebalancing = errors.New("saramaclient: no active session (rebalance in progress)")

// IsRetriableCommitError implements workers.LogClient.
func (c *Client) IsRetriableCommitError(err error) bool {
	return errors.Is(err, errRebalancing)
}

// Close implements workers.LogClient.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.runDoneWg.Wait()
	return c.group.Close()
}

func toPartitionMap(partitions []workers.TopicPartition) map[string][]int32 {
	m := make(map[string][]int32)
	for _, p := range partitions {
		m[p.Topic] = append(m[p.Topic], p.Partition)
	}
	return m
}
