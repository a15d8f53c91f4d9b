package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions []int32
	offsets    map[int32]offsetRange
	offsetErr  error
	closed     bool
}

func (c *stubOffsetClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if c.offsetErr != nil {
		return 0, c.offsetErr
	}
	if at == sarama.OffsetOldest {
		return c.offsets[partition].oldest, nil
	}
	return c.offsets[partition].newest, nil
}

func (c *stubOffsetClient) Partitions(string) ([]int32, error) { return c.partitions, nil }

func (c *stubOffsetClient) Close() error {
	c.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (c *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return c.messages }
func (c *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return c.errors }
func (c *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(msgs ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range msgs {
		pc.messages <- msg
	}
	close(pc.messages)
	return pc
}

type stubConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	partitions []int32
	closed     bool
}

func (s *stubConsumerSource) ConsumePartition(_ string, partition int32, _ int64) (partitionConsumer, error) {
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	s.partitions = append(s.partitions, partition)
	return s.consumers[partition], nil
}

func (s *stubConsumerSource) Close() error {
	s.closed = true
	return nil
}

type recordingTarget struct {
	topics []string
	events []domain.OutboxMessage
	err    error
}

func (t *recordingTarget) Publish(topic string, event domain.OutboxMessage) error {
	if t.err != nil {
		return t.err
	}
	t.topics = append(t.topics, topic)
	t.events = append(t.events, event)
	return nil
}

func (t *recordingTarget) Close() error { return nil }

func dlqMessage(t *testing.T, partition int32, offset int64, aggregateID string) *sarama.ConsumerMessage {
	t.Helper()

	record, err := json.Marshal(map[string]any{
		"outbox_id":      "outbox-" + aggregateID,
		"aggregate_type": "order",
		"aggregate_id":   aggregateID,
		"event_type":     "OrderCreated",
		"payload":        map[string]any{"order_id": aggregateID, "total": "10.00"},
		"publish_error":  "broker unavailable",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.OutboxEnvelope{
		ID:            "outbox-" + aggregateID,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     "OrderCreated",
		Payload:       record,
	})
	require.NoError(t, err)

	return &sarama.ConsumerMessage{
		Partition: partition,
		Offset:    offset,
		Value:     value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte("orders.custom")},
		},
	}
}

func testConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func TestReadConfig(t *testing.T) {
	env := func(key string) string {
		if key == "KAFKA_BROKERS" {
			return "kafka-1:9092, kafka-2:9092"
		}
		return ""
	}

	cfg, err := readConfig([]string{"-limit=5", "-execute"}, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, 5, cfg.limit)
	assert.True(t, cfg.execute)
}

func TestReadConfig_Validation(t *testing.T) {
	noEnv := func(string) string { return "" }
	tests := []struct {
		args []string
		want string
	}{
		{nil, "kafka brokers are required"},
		{[]string{"-brokers=b:9092", "-source-topic="}, "source-topic is required"},
		{[]string{"-brokers=b:9092", "-target-topic="}, "target-topic is required"},
		{[]string{"-brokers=b:9092", "-limit=0"}, "limit must be > 0"},
		{[]string{"-brokers=b:9092", "-idle-timeout=0s"}, "idle-timeout must be > 0"},
	}
	for _, tt := range tests {
		_, err := readConfig(tt.args, noEnv)
		require.Error(t, err)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestDecodeDLQMessage(t *testing.T) {
	event, err := decodeDLQMessage(dlqMessage(t, 0, 0, "order-1"))
	require.NoError(t, err)
	assert.Equal(t, "outbox-order-1", event.ID)
	assert.Equal(t, "order-1", event.AggregateID)
	assert.Equal(t, "OrderCreated", event.EventType)
	assert.JSONEq(t, `{"order_id":"order-1","total":"10.00"}`, string(event.Payload))

	_, err = decodeDLQMessage(&sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":{"outbox_id":"x"}}`)})
	assert.ErrorContains(t, err, "original event payload")

	_, err = decodeDLQMessage(&sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":"text"}`)})
	assert.Error(t, err)

	_, err = decodeDLQMessage(&sarama.ConsumerMessage{Value: []byte(`not json`)})
	assert.Error(t, err)
}

func TestOriginalTopic(t *testing.T) {
	assert.Equal(t, "orders.custom", originalTopic(dlqMessage(t, 0, 0, "o"), "fallback"))
	assert.Equal(t, "fallback", originalTopic(&sarama.ConsumerMessage{}, "fallback"))
}

func TestReplay_DryRunDoesNotPublish(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {0, 2}}}
	consumer := &stubConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(dlqMessage(t, 0, 0, "order-1"), dlqMessage(t, 0, 1, "order-2")),
	}}

	require.NoError(t, replay(context.Background(), testConfig(), client, consumer, nil))
	assert.Equal(t, []int32{0}, consumer.partitions)
}

func TestReplay_ExecutePublishesToOriginalTopic(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{1, 0}, offsets: map[int32]offsetRange{0: {0, 1}, 1: {5, 6}}}
	consumer := &stubConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(dlqMessage(t, 0, 0, "order-1")),
		1: closedPartitionConsumer(
			&sarama.ConsumerMessage{Partition: 1, Offset: 5, Value: []byte(`{"unexpected":true}`)},
		),
	}}
	target := &recordingTarget{}

	cfg := testConfig()
	cfg.execute = true
	require.NoError(t, replay(context.Background(), cfg, client, consumer, target))

	assert.Equal(t, []int32{0, 1}, consumer.partitions, "partitions are replayed in order")
	require.Len(t, target.events, 1)
	assert.Equal(t, "orders.custom", target.topics[0])
	assert.Equal(t, "order-1", target.events[0].AggregateID)
}

func TestReplay_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true
	require.Error(t, replay(context.Background(), cfg, &stubOffsetClient{}, &stubConsumerSource{}, nil))

	offsetFailure := &stubOffsetClient{partitions: []int32{0}, offsetErr: errors.New("offset")}
	require.Error(t, replay(context.Background(), testConfig(), offsetFailure, &stubConsumerSource{}, nil))

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {0, 1}}}
	require.Error(t, replay(context.Background(), testConfig(), client, &stubConsumerSource{consumeErr: errors.New("consume")}, nil))

	consumer := &stubConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(dlqMessage(t, 0, 0, "order-1"))}}
	err := replay(context.Background(), cfg, client, consumer, &recordingTarget{err: errors.New("send")})
	require.ErrorContains(t, err, "publish replay message")
}

func TestReplayPartition_IdleTimeoutAndCancel(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {0, 2}}}
	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	consumer := &stubConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}

	stats, err := replayPartition(context.Background(), testConfig(), client, consumer, nil, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = replayPartition(ctx, testConfig(), client, consumer, nil, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestProducerTarget_UsesOutboxFormat(t *testing.T) {
	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "orders.custom", msg.Topic)
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var envelope kafka.OutboxEnvelope
		require.NoError(t, json.Unmarshal(value, &envelope))
		assert.Equal(t, "order-1", envelope.AggregateID)
		assert.JSONEq(t, `{"order_id":"order-1"}`, string(envelope.Payload))
		return nil
	})

	target := producerTarget{producer: kafka.NewProducerFromSync(syncProducer, nil)}
	require.NoError(t, target.Publish("orders.custom", domain.OutboxMessage{
		ID:          "outbox-1",
		AggregateID: "order-1",
		EventType:   "OrderCreated",
		Payload:     []byte(`{"order_id":"order-1"}`),
	}))
	require.NoError(t, target.Close())
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayTarget, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), testConfig()), "deps failed")

	client := &stubOffsetClient{}
	consumer := &stubConsumerSource{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayTarget, error) {
		return client, consumer, nil, nil
	}
	require.NoError(t, run(context.Background(), testConfig()))
	assert.True(t, client.closed)
	assert.True(t, consumer.closed)
}
