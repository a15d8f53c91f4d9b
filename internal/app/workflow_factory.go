package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/service/ordering"
)

// newWorkflow собирает сценарий создания заказа.
// В атомарном режиме событие OrderCreated пишется в outbox внутри единицы работы;
// в последовательном режиме событие пишется отдельно и только при наличии Kafka.
func newWorkflow(deps *runtimeDependencies, cfg Config, orderMetrics *metrics.OrderMetrics, publishEvents bool, logger *log.Entry) *ordering.Workflow {
	opts := []ordering.Option{
		ordering.WithLogger(logger.WithField("layer", "ordering")),
		ordering.WithMetrics(orderMetrics),
	}

	if cfg.AtomicCheckout && deps.uow != nil {
		opts = append(opts, ordering.WithUnitOfWork(deps.uow))
	} else if publishEvents && deps.outbox != nil {
		opts = append(opts, ordering.WithOutbox(deps.outbox))
	}

	workflow := ordering.NewWorkflow(deps.customers, deps.products, deps.orders, opts...)
	logger.WithField("atomic", workflow.Atomic()).Info("order workflow initialized")
	return workflow
}
