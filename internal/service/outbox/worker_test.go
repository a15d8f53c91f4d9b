package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	base := []Option{
		WithMetrics(metrics.NewOutboxMetrics(prometheus.NewRegistry())),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	}
	return NewWorker(repo, publisher, append(base, opts...)...)
}

func enqueueOrderEvent(t *testing.T, repo domain.OutboxRepository, orderID string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "OrderCreated",
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewStore().Outbox()
	first := enqueueOrderEvent(t, repo, "order-1")
	second := enqueueOrderEvent(t, repo, "order-2")
	publisher := &stubPublisher{}

	sent := newTestWorker(repo, publisher).ProcessOnce(context.Background())

	assert.Equal(t, 2, sent)
	assert.Empty(t, repo.AllPending())
	assert.Equal(t, []string{first.ID, second.ID}, publisher.publishedIDs())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewStore().Outbox()
	msg := enqueueOrderEvent(t, repo, "order-2")
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlqPublisher := &stubPublisher{}

	sent := newTestWorker(repo, publisher, WithDLQPublisher(dlqPublisher)).ProcessOnce(context.Background())

	assert.Zero(t, sent)
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending(), "failed record must leave pending state")
	require.Equal(t, []string{msg.ID}, dlqPublisher.publishedIDs())
	assert.Contains(t, string(dlqPublisher.last().Payload), "publish failed")
	assert.Contains(t, string(dlqPublisher.last().Payload), `"order_id":"order-2"`)
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewStore().Outbox()
	enqueueOrderEvent(t, repo, "order-3")
	publisher := &stubPublisher{
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			nil,
		},
	}

	sent := newTestWorker(repo, publisher).ProcessOnce(context.Background())

	assert.Equal(t, 1, sent)
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_RespectsBatchSize(t *testing.T) {
	t.Parallel()

	repo := memory.NewStore().Outbox()
	for _, id := range []string{"order-a", "order-b", "order-c"} {
		enqueueOrderEvent(t, repo, id)
	}
	publisher := &stubPublisher{}

	worker := newTestWorker(repo, publisher, WithBatchSize(2))

	assert.Equal(t, 2, worker.ProcessOnce(context.Background()))
	assert.Len(t, repo.AllPending(), 1)
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_CanceledContextKeepsPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewStore().Outbox()
	enqueueOrderEvent(t, repo, "order-4")
	publisher := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Zero(t, newTestWorker(repo, publisher).ProcessOnce(ctx))
	assert.Zero(t, publisher.calls())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))

	assert.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	assert.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	assert.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	repo := memory.NewStore().Outbox()
	enqueueOrderEvent(t, repo, "order-5")
	publisher := &stubPublisher{}

	worker := newTestWorker(repo, publisher, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(repo.AllPending()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(memory.NewStore().Outbox(), nil)
	worker.Run(context.Background())
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	published      []domain.OutboxMessage
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) publishedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.published))
	for _, msg := range s.published {
		ids = append(ids, msg.ID)
	}
	return ids
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.published) == 0 {
		return domain.OutboxMessage{}
	}
	return s.published[len(s.published)-1]
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)
