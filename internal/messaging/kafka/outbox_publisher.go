package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// NewDLQPublisher создаёт паблишер в Dead Letter Queue для сообщений из sourceTopic.
func NewDLQPublisher(producer *Producer, sourceTopic string) *OutboxTopicPublisher {
	if sourceTopic == "" {
		sourceTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:      producer,
		topic:         TopicDeadLetterQueue,
		originalTopic: sourceTopic,
	}
}

// Topic возвращает topic, в который публикуются сообщения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	now := time.Now().UTC()
	value, err := json.Marshal(OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
	}
	if p.originalTopic != "" {
		headers[HeaderOriginalTopic] = p.originalTopic
		headers[HeaderFailedAt] = now.Format(time.RFC3339Nano)
	}

	return p.producer.Publish(p.topic, key, value, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
