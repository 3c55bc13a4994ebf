// Package zkconsumer implements workers.LogClient using Zookeeper-based
// static partition claiming, adapted directly from the teacher package
// (wvanbergen/kafka/kafkaconsumer): instead of registering itself in a
// consumer group and waiting for a broker-driven rebalance, this client
// claims every partition of every subscribed topic for itself in
// Zookeeper via kazoo-go, exactly the way the teacher's partitionManager
// did, and feeds the results into the framework's LogClient.Poll contract
// instead of a flat message channel.
package zkconsumer

import (
	"errors"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/wvanbergen/kazoo-go"

	workers "github.com/kafka-workers/kafka-workers"
)

// Logger is used for client-level logging, defaulting to a discard logger,
// the same convention as the teacher's kafkaconsumer.Logger.
var Logger = log.New(ioutil.Discard, "", 0)

// Config configures a zkconsumer.Client. It mirrors the teacher's
// kafkaconsumer.Config fields that matter for static claiming.
type Config struct {
	// Zookeeper is a comma-separated Zookeeper connection string.
	Zookeeper string
	// Group is this consumer's group name, used as the Zookeeper znode
	// namespace for partition claims and committed offsets.
	Group string
	// InitialOffset is sarama.OffsetNewest or sarama.OffsetOldest, used
	// when no committed offset exists yet for a partition.
	InitialOffset int64
}

// Client is a workers.LogClient backed by kazoo-go partition claims and
// sarama partition consumers/offset managers.
type Client struct {
	cfg      Config
	kz       *kazoo.Kazoo
	group    *kazoo.Consumergroup
	instance *kazoo.ConsumergroupInstance
	consumer sarama.Consumer
	client   sarama.Client

	offsetMgr sarama.OffsetManager

	records chan workers.Record

	mu          sync.Mutex
	managers    map[workers.TopicPartition]*partitionManager
	listener    workers.RebalanceListener
}

// New connects to Zookeeper and the Kafka brokers it advertises, and
// prepares a Client for the given consumer group.
func New(cfg Config, brokers []string) (*Client, error) {
	kz, err := kazoo.NewKazoo(splitCSV(cfg.Zookeeper), nil)
	if err != nil {
		return nil, err
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, saramaCfg)
	if err != nil {
		kz.Close()
		return nil, err
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		kz.Close()
		return nil, err
	}

	offsetMgr, err := sarama.NewOffsetManagerFromClient(cfg.Group, client)
	if err != nil {
		consumer.Close()
		client.Close()
		kz.Close()
		return nil, err
	}

	group := kz.Consumergroup(cfg.Group)
	instance := group.NewInstance()

	return &Client{
		cfg:       cfg,
		kz:        kz,
		group:     group,
		instance:  instance,
		consumer:  consumer,
		client:    client,
		offsetMgr: offsetMgr,
		records:   make(chan workers.Record, 4096),
		managers:  make(map[workers.TopicPartition]*partitionManager),
	}, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Subscribe implements workers.LogClient by statically claiming every
// partition of every topic and starting one partitionManager per
// partition, the generalized form of the teacher's one-goroutine-per-claim
// model.
func (c *Client) Subscribe(topics []string, listener workers.RebalanceListener) error {
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()

	if err := c.instance.Register(topics); err != nil {
		return err
	}

	var assigned []workers.TopicPartition
	for _, topic := range topics {
		kzTopic := c.kz.Topic(topic)
		partitions, err := kzTopic.Partitions()
		if err != nil {
			return err
		}
		for _, p := range partitions {
			tp := workers.TopicPartition{Topic: topic, Partition: int32(p.ID)}
			pm := newPartitionManager(c, p)
			c.mu.Lock()
			c.managers[tp] = pm
			c.mu.Unlock()
			go pm.run()
			assigned = append(assigned, tp)
		}
	}

	if listener != nil && len(assigned) > 0 {
		listener.OnAssigned(assigned)
	}
	return nil
}

// Poll implements workers.LogClient.
func (c *Client) Poll(timeout time.Duration) ([]workers.Record, error) {
	var out []workers.Record
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-c.records:
		out = append(out, r)
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

// Pause implements workers.LogClient by pausing the underlying sarama
// PartitionConsumer for each partition, the way sarama.Consumer.Pause
// does at the whole-consumer level (§6 grep of Stars1233-sarama's
// consumer.go Pause/Resume).
func (c *Client) Pause(partitions []workers.TopicPartition) {
	for _, tp := range partitions {
		if pm := c.managerFor(tp); pm != nil {
			pm.pause()
		}
	}
}

// Resume implements workers.LogClient.
func (c *Client) Resume(partitions []workers.TopicPartition) {
	for _, tp := range partitions {
		if pm := c.managerFor(tp); pm != nil {
			pm.resume()
		}
	}
}

func (c *Client) managerFor(tp workers.TopicPartition) *partitionManager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.managers[tp]
}

// errNoManager is retriable: the partition may be mid-claim or mid-release.
var errNoManager = errors.New("zkconsumer: no partition manager for partition")

// Commit implements workers.LogClient by setting each partition's offset
// manager watermark, the same call the teacher's partitionManager.ack used.
func (c *Client) Commit(offsets map[workers.TopicPartition]int64) error {
	for tp, offset := range offsets {
		pm := c.managerFor(tp)
		if pm == nil {
			return errNoManager
		}
		pm.ack(offset)
	}
	return nil
}

// IsRetriableCommitError implements workers.LogClient.
func (c *Client) IsRetriableCommitError(err error) bool {
	return errors.Is(err, errNoManager)
}

// Close implements workers.LogClient.
func (c *Client) Close() error {
	c.mu.Lock()
	managers := make([]*partitionManager, 0, len(c.managers))
	for _, pm := range c.managers {
		managers = append(managers, pm)
	}
	c.mu.Unlock()

	for _, pm := range managers {
		if err := pm.close(); err != nil {
			Logger.Printf("error closing partition manager: %s", err)
		}
	}

	if err := c.offsetMgr.Close(); err != nil {
		Logger.Printf("error closing offset manager: %s", err)
	}
	if err := c.consumer.Close(); err != nil {
		Logger.Printf("error closing consumer: %s", err)
	}
	if err := c.client.Close(); err != nil {
		Logger.Printf("error closing client: %s", err)
	}
	if err := c.instance.Deregister(); err != nil {
		Logger.Printf("error deregistering instance: %s", err)
	}
	c.kz.Close()
	return nil
}
