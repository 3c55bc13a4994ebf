package saramaclient

import (
	"github.com/Shopify/sarama"

	workers "github.com/kafka-workers/kafka-workers"
)

// groupHandler implements sarama.ConsumerGroupHandler, bridging sarama's
// callback-driven consumer group protocol to the poll-based
// workers.LogClient contract: Setup/Cleanup notify the framework's
// RebalanceListener, and ConsumeClaim feeds records into Client.records.
type groupHandler struct {
	client *Client
}

// Setup is called by sarama at the start of a new generation, once per
// partition set assignment. It installs the session for Pause/Resume/Commit
// and tells the framework which partitions were assigned.
func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.client.mu.Lock()
	h.client.session = session
	listener := h.client.listener
	h.client.mu.Unlock()

	if listener == nil {
		return nil
	}
	var assigned []workers.TopicPartition
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			assigned = append(assigned, workers.TopicPartition{Topic: topic, Partition: p})
		}
	}
	listener.OnAssigned(assigned)
	return nil
}

// Cleanup is called by sarama at the end of a generation, before the next
// Setup. It tells the framework the current partitions are being revoked.
func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.client.mu.Lock()
	h.client.session = nil
	listener := h.client.listener
	h.client.mu.Unlock()

	if listener == nil {
		return nil
	}
	var revoked []workers.TopicPartition
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			revoked = append(revoked, workers.TopicPartition{Topic: topic, Partition: p})
		}
	}
	listener.OnRevoked(revoked)
	return nil
}

// ConsumeClaim reads sarama messages for one claimed partition and forwards
// them as workers.Record onto the shared records channel until the claim's
// context is done (generation end) or the session ends.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.client.records <- toRecord(msg)
		case <-session.Context().Done():
			return nil
		}
	}
}

func toRecord(msg *sarama.ConsumerMessage) workers.Record {
	headers := make(map[string][]byte, len(msg.Headers))
	for _, hd := range msg.Headers {
		headers[string(hd.Key)] = hd.Value
	}
	return workers.Record{
		Partition: workers.TopicPartition{Topic: msg.Topic, Partition: msg.Partition},
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Size:      len(msg.Key) + len(msg.Value),
	}
}
