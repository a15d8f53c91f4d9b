package app

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
)

// backgroundWorkers запускает фоновые воркеры и ждёт их остановки.
type backgroundWorkers struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startWorkers(ctx context.Context, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) *backgroundWorkers {
	ctx, cancel := context.WithCancel(ctx)
	workers := &backgroundWorkers{cancel: cancel}

	if producer != nil && deps.outbox != nil {
		worker := outbox.NewWorker(
			deps.outbox,
			kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, cfg.KafkaTopic)),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workers.run(ctx, worker.Run)
		logger.WithField("topic", cfg.KafkaTopic).Info("outbox worker started")
	}

	if deps.idempotency != nil && !deps.idempotencyExpires {
		cleanup := idempotency.NewCleanupWorker(
			deps.idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		workers.run(ctx, cleanup.Run)
	}

	return workers
}

func (w *backgroundWorkers) run(ctx context.Context, fn func(context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn(ctx)
	}()
}

// stop отменяет воркеры и ждёт их завершения не дольше timeout.
func (w *backgroundWorkers) stop(timeout time.Duration, logger *log.Entry) {
	if w == nil {
		return
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("background workers did not stop in time")
	}
}
