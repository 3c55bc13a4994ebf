package zkconsumer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"
	"github.com/wvanbergen/kazoo-go"
	tomb "gopkg.in/tomb.v1"

	workers "github.com/kafka-workers/kafka-workers"
)

// partitionManager manages the consumption of a single partition and the
// watermark on its offset manager. It is a direct descendant of the
// teacher's partitionManager (wvanbergen/kafka/kafkaconsumer): the claim,
// retry, and offset-manager handling are unchanged in spirit, but it now
// emits workers.Record onto the Client's shared records channel instead of
// a flat *sarama.ConsumerMessage channel, and exposes pause/resume so the
// framework's backpressure can reach the underlying partition consumer.
type partitionManager struct {
	parent    *Client
	t         tomb.Tomb
	partition *kazoo.Partition

	offsetManager      sarama.PartitionOffsetManager
	partitionConsumer  sarama.PartitionConsumer
	lastConsumedOffset int64
	processingDone     chan struct{}
}

func newPartitionManager(parent *Client, partition *kazoo.Partition) *partitionManager {
	return &partitionManager{
		parent:         parent,
		partition:      partition,
		processingDone: make(chan struct{}),
	}
}

// run implements the main partition manager loop:
//  1. Claim the partition in Zookeeper.
//  2. Determine at what offset to start consuming.
//  3. Start a sarama partition consumer at the initial offset.
//  4. Forward messages to the Client's shared records channel.
func (pm *partitionManager) run() {
	defer pm.t.Done()

	if err := pm.claimPartition(); err != nil {
		pm.t.Kill(err)
		return
	}
	defer pm.releasePartition()

	offsetManager, err := pm.startPartitionOffsetManager()
	if err != nil {
		pm.t.Kill(err)
		return
	}
	pm.offsetManager = offsetManager
	defer offsetManager.Close()

	initialOffset, _ := offsetManager.NextOffset()
	if initialOffset < 0 {
		initialOffset = pm.parent.cfg.InitialOffset
	}
	defer pm.waitForProcessing()

	pc, err := pm.startPartitionConsumer(initialOffset)
	if err != nil {
		pm.t.Kill(err)
		return
	}
	pm.partitionConsumer = pc
	defer pm.closePartitionConsumer(pc)

	tp := workers.TopicPartition{Topic: pm.partition.Topic().Name, Partition: pm.partition.ID}

	for {
		select {
		case <-pm.t.Dying():
			return

		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			record := workers.Record{
				Partition: tp,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Size:      len(msg.Key) + len(msg.Value),
			}
			select {
			case pm.parent.records <- record:
				atomic.StoreInt64(&pm.lastConsumedOffset, msg.Offset)
			case <-pm.t.Dying():
				return
			}

		case err, ok := <-pc.Errors():
			if !ok {
				continue
			}
			Logger.Printf("%s error consuming: %s", pm.partition.Key(), err)
		}
	}
}

// startPartitionOffsetManager starts a PartitionOffsetManager for the
// partition, retrying any error. The only error value returned is
// tomb.ErrDying; any other error is non-recoverable.
func (pm *partitionManager) startPartitionOffsetManager() (sarama.PartitionOffsetManager, error) {
	for {
		offsetManager, err := pm.parent.offsetMgr.ManagePartition(pm.partition.Topic().Name, pm.partition.ID)
		if err != nil {
			Logger.Printf("Failed to start partition offset manager for %s: %s. Trying again in 1 second...", pm.partition.Key(), err)
			select {
			case <-pm.t.Dying():
				return nil, tomb.ErrDying
			case <-time.After(1 * time.Second):
				continue
			}
		}
		return offsetManager, nil
	}
}

// waitForProcessing waits for all messages consumed for this partition to
// be processed (acked via Commit), up to 30 seconds. This mirrors the
// teacher exactly; the framework's own watchdog (spec §4.4) is the primary
// defense against stuck processing, so this wait is a best-effort shutdown
// courtesy rather than the only timeout in the system.
func (pm *partitionManager) waitForProcessing() {
	lastProcessedOffset, _ := pm.offsetManager.NextOffset()
	lastConsumedOffset := atomic.LoadInt64(&pm.lastConsumedOffset)

	if lastConsumedOffset >= 0 && lastConsumedOffset >= lastProcessedOffset {
		select {
		case <-pm.processingDone:
		case <-time.After(30 * time.Second):
			Logger.Printf("TIMEOUT: offset %d still not processed for %s", lastConsumedOffset, pm.partition.Key())
		}
	}
}

func (pm *partitionManager) close() error {
	pm.t.Kill(nil)
	return pm.t.Wait()
}

// ack sets the offset (the next offset to read, i.e. last processed + 1) on
// the partition's offset manager and signals processing done if the last
// consumed offset is now processed during shutdown.
func (pm *partitionManager) ack(offset int64) {
	pm.offsetManager.MarkOffset(offset, "")

	if pm.t.Err() != tomb.ErrStillAlive && offset-1 == atomic.LoadInt64(&pm.lastConsumedOffset) {
		close(pm.processingDone)
	}
}

func (pm *partitionManager) pause() {
	if pm.partitionConsumer != nil {
		pm.partitionConsumer.Pause()
	}
}

func (pm *partitionManager) resume() {
	if pm.partitionConsumer != nil {
		pm.partitionConsumer.Resume()
	}
}

// claimPartition claims a partition in Zookeeper for this instance. If
// already claimed elsewhere, it waits for release. Only returns with a nil
// error, or tomb.ErrDying if interrupted.
func (pm *partitionManager) claimPartition() error {
	Logger.Printf("Trying to claim partition %s...", pm.partition.Key())

	for {
		owner, changed, err := pm.parent.group.WatchPartitionOwner(pm.partition.Topic().Name, pm.partition.ID)
		if err != nil {
			Logger.Printf("Failed to get partition owner for %s from Zookeeper: %s. Trying again in 1 second...", pm.partition.Key(), err)
			select {
			case <-time.After(1 * time.Second):
				continue
			case <-pm.t.Dying():
				return tomb.ErrDying
			}
		}

		if owner != nil {
			if owner.ID == pm.parent.instance.ID {
				return fmt.Errorf("this instance is already the owner of %s", pm.partition.Key())
			}
			Logger.Printf("Partition %s is currently claimed by instance %s. Waiting for release...", pm.partition.Key(), owner.ID)
			select {
			case <-changed:
				continue
			case <-pm.t.Dying():
				return tomb.ErrDying
			}
		}

		if err := pm.parent.instance.ClaimPartition(pm.partition.Topic().Name, pm.partition.ID); err != nil {
			Logger.Printf("Failed to claim ownership for %s: %s. Trying again...", pm.partition.Key(), err)
			continue
		}
		Logger.Printf("Claimed ownership for %s", pm.partition.Key())
		return nil
	}
}

// startPartitionConsumer starts a sarama partition consumer, retrying any
// error. Returns nil error once started, or tomb.ErrDying if interrupted.
func (pm *partitionManager) startPartitionConsumer(initialOffset int64) (sarama.PartitionConsumer, error) {
	for {
		pc, err := pm.parent.consumer.ConsumePartition(pm.partition.Topic().Name, pm.partition.ID, initialOffset)
		switch err {
		case nil:
			Logger.Printf("Started consumer for %s at offset %d.", pm.partition.Key(), initialOffset)
			return pc, nil

		case sarama.ErrOffsetOutOfRange:
			Logger.Printf("Offset %d is no longer available for %s. Trying again with the configured initial offset...", initialOffset, pm.partition.Key())
			initialOffset = pm.parent.cfg.InitialOffset
			continue

		default:
			Logger.Printf("Failed to start consuming partition for %s: %s. Trying again in 1 second...", pm.partition.Key(), err)
			select {
			case <-pm.t.Dying():
				return nil, tomb.ErrDying
			case <-time.After(1 * time.Second):
				continue
			}
		}
	}
}

func (pm *partitionManager) closePartitionConsumer(pc sarama.PartitionConsumer) {
	if err := pc.Close(); err != nil {
		Logger.Printf("Failed to close partition consumer for %s: %s", pm.partition.Key(), err)
	}
}

func (pm *partitionManager) releasePartition() {
	if err := pm.parent.instance.ReleasePartition(pm.partition.Topic().Name, pm.partition.ID); err != nil {
		Logger.Printf("FAILED to release partition %s: %s", pm.partition.Key(), err)
	} else {
		Logger.Printf("Released partition %s.", pm.partition.Key())
	}
}
