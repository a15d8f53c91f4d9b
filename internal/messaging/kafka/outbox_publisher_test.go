package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	result := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		result[string(header.Key)] = string(header.Value)
	}
	return result
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicOrderEvents, msg.Topic)

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var envelope OutboxEnvelope
		require.NoError(t, json.Unmarshal(value, &envelope))
		assert.Equal(t, "outbox-1", envelope.ID)
		assert.Equal(t, "order-123", envelope.AggregateID)
		assert.JSONEq(t, `{"order_id":"order-123","total":"30.00"}`, string(envelope.Payload))

		headers := headerMap(msg)
		assert.Equal(t, "OrderCreated", headers[HeaderEventType])
		assert.Equal(t, "order", headers[HeaderAggregateType])
		assert.NotContains(t, headers, HeaderOriginalTopic)
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), "")
	require.Equal(t, TopicOrderEvents, publisher.Topic())

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     "OrderCreated",
		Payload:       []byte(`{"order_id":"order-123","total":"30.00"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestDLQPublisher_AddsOriginHeaders(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicDeadLetterQueue, msg.Topic)
		headers := headerMap(msg)
		assert.Equal(t, TopicOrderEvents, headers[HeaderOriginalTopic])
		assert.NotEmpty(t, headers[HeaderFailedAt])
		return nil
	})

	publisher := NewDLQPublisher(NewProducerFromSync(mockProducer, nil), "")
	err := publisher.Publish(domain.OutboxMessage{ID: "outbox-2", EventType: "OrderCreated", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-3",
		AggregateType: "order",
		AggregateID:   "order-234",
		EventType:     "OrderCreated",
		Payload:       []byte(`{}`),
	})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.Error(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-4"}))
}
