package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishSetsKeyAndHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test"))

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "order-1", string(key))
		assert.Equal(t, TopicOrderEvents, msg.Topic)
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, HeaderEventType, string(msg.Headers[0].Key))
		assert.Equal(t, "OrderCreated", string(msg.Headers[0].Value))
		return nil
	})

	err := producer.Publish(TopicOrderEvents, "order-1", []byte(`{}`), map[string]string{HeaderEventType: "OrderCreated"})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var decoded map[string]string
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		assert.Equal(t, "order-1", decoded["order_id"])
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "order-1", map[string]string{"order_id": "order-1"})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "order-1", map[string]string{})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer, nil)

	err := producer.PublishEvent(TopicOrderEvents, "order-1", make(chan int))
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}
