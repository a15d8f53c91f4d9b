package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// EventTypeOrderCreated: тип события outbox, которое пишется после создания заказа.
const EventTypeOrderCreated = "OrderCreated"

// AggregateTypeOrder: тип агрегата для событий заказа в outbox.
const AggregateTypeOrder = "order"

// Workflow выполняет создание заказа: клиент → товары → проверка остатков →
// позиции → сохранение → списание остатков.
type Workflow struct {
	customers domain.CustomerDirectory
	products  domain.ProductCatalog
	orders    domain.OrderStore

	uow     domain.UnitOfWork
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// Option настраивает Workflow.
type Option func(*Workflow)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// WithUnitOfWork включает атомарный режим: сохранение заказа, списание остатков
// и запись в outbox выполняются в одной единице работы.
func WithUnitOfWork(uow domain.UnitOfWork) Option {
	return func(w *Workflow) {
		w.uow = uow
	}
}

// WithOutbox задаёт outbox для события OrderCreated вне единицы работы.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(w *Workflow) {
		w.outbox = outbox
	}
}

// NewWorkflow создаёт сценарий создания заказа поверх трёх коллабораторов.
func NewWorkflow(
	customers domain.CustomerDirectory,
	products domain.ProductCatalog,
	orders domain.OrderStore,
	opts ...Option,
) *Workflow {
	w := &Workflow{
		customers: customers,
		products:  products,
		orders:    orders,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.New().WithField("component", "ordering")
	}
	return w
}

// Atomic сообщает, выполняются ли шаги записи в одной единице работы.
func (w *Workflow) Atomic() bool {
	return w.uow != nil
}

// CreateOrder создаёт заказ по запросу и возвращает сохранённый заказ.
// Ошибки: domain.ErrInvalidRequest, domain.ErrCustomerNotFound,
// domain.ErrProductNotFound, domain.ErrInsufficientStock либо ошибка
// коллаборатора, обёрнутая с именем шага.
func (w *Workflow) CreateOrder(ctx context.Context, req domain.OrderRequest) (order domain.Order, err error) {
	start := time.Now()
	logger := w.logger.WithField("customer_id", req.CustomerID)

	defer func() {
		if w.metrics != nil {
			w.metrics.RecordCreateDuration(time.Since(start))
		}
		if err != nil {
			w.recordRejected(err)
			return
		}
		if w.metrics != nil {
			w.metrics.RecordOrderCreated(len(order.Lines))
		}
	}()

	if err := w.timed(domain.OrderStepValidate, req.Validate); err != nil {
		logger.WithError(err).Debug("order request rejected")
		return domain.Order{}, err
	}

	var customer domain.Customer
	err = w.timed(domain.OrderStepCustomer, func() error {
		var lookupErr error
		customer, lookupErr = w.customers.FindByID(ctx, req.CustomerID)
		return lookupErr
	})
	if err != nil {
		logger.WithError(err).Warn("customer lookup failed")
		return domain.Order{}, fmt.Errorf("%s: %w", domain.OrderStepCustomer, err)
	}

	var catalog map[string]domain.Product
	err = w.timed(domain.OrderStepProducts, func() error {
		var lookupErr error
		catalog, lookupErr = w.lookupProducts(ctx, req)
		return lookupErr
	})
	if err != nil {
		logger.WithError(err).Warn("product lookup failed")
		return domain.Order{}, err
	}

	if err := checkStock(req, catalog); err != nil {
		logger.WithError(err).Info("order rejected: insufficient stock")
		return domain.Order{}, err
	}

	lines := w.buildLines(req, catalog, logger)
	decrements := req.StockDecrements()

	if w.uow != nil {
		order, err = w.commitAtomic(ctx, customer, lines, decrements)
	} else {
		order, err = w.commitPlain(ctx, customer, lines, decrements, logger)
	}
	if err != nil {
		return order, err
	}

	logger.WithFields(log.Fields{
		"order_id": order.ID,
		"lines":    len(order.Lines),
		"total":    order.Total().String(),
	}).Info("order created")
	return order, nil
}

// lookupProducts загружает уникальные товары запроса и индексирует их по идентификатору.
func (w *Workflow) lookupProducts(ctx context.Context, req domain.OrderRequest) (map[string]domain.Product, error) {
	ids := req.DistinctProductIDs()

	products, err := w.products.FindAllByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", domain.OrderStepProducts, err)
	}

	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}

	catalog := make(map[string]domain.Product, len(ids))
	for _, product := range products {
		if _, ok := requested[product.ID]; !ok {
			w.logger.WithField("product_id", product.ID).Debug("catalog returned unrequested product, ignored")
			continue
		}
		catalog[product.ID] = product
	}

	if len(catalog) != len(ids) {
		missing := make([]string, 0, len(ids)-len(catalog))
		for _, id := range ids {
			if _, ok := catalog[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, &domain.ProductNotFoundError{ProductIDs: missing}
	}

	return catalog, nil
}

// checkStock сравнивает суммарный спрос по каждому товару с его остатком.
// Сопоставление идёт по идентификатору; первым сообщается товар, раньше всех встретившийся в запросе.
func checkStock(req domain.OrderRequest, catalog map[string]domain.Product) error {
	demand := make(map[string]int64, len(catalog))
	for _, item := range req.Items {
		demand[item.ProductID] += int64(item.Quantity)
	}

	for _, id := range req.DistinctProductIDs() {
		product := catalog[id]
		if demand[id] > int64(product.AvailableQuantity) {
			return &domain.InsufficientStockError{
				ProductID: id,
				Requested: demand[id],
				Available: int64(product.AvailableQuantity),
			}
		}
	}
	return nil
}

// buildLines формирует по одной позиции на каждый запрошенный товар в порядке запроса.
func (w *Workflow) buildLines(req domain.OrderRequest, catalog map[string]domain.Product, logger *log.Entry) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		product := catalog[item.ProductID]
		if !product.Price.Valid {
			logger.WithField("product_id", product.ID).Warn("product has no price, using zero")
		}
		lines = append(lines, domain.OrderLine{
			ProductID: item.ProductID,
			UnitPrice: product.UnitPrice(),
			Quantity:  item.Quantity,
		})
	}
	return lines
}

// commitAtomic сохраняет заказ, списывает остатки и пишет событие в одной единице работы.
func (w *Workflow) commitAtomic(
	ctx context.Context,
	customer domain.Customer,
	lines []domain.OrderLine,
	decrements []domain.StockDecrement,
) (domain.Order, error) {
	var order domain.Order
	err := w.uow.Do(ctx, func(tx domain.TxRepositories) error {
		var err error
		if order, err = w.persist(ctx, tx.Orders(), customer, lines); err != nil {
			return err
		}
		if err := w.decrement(ctx, tx.Products(), decrements); err != nil {
			return err
		}
		return w.enqueueCreated(ctx, tx.Outbox(), order)
	})
	if err != nil {
		w.logger.WithError(err).WithField("customer_id", customer.ID).Warn("order creation rolled back")
		return domain.Order{}, err
	}
	return order, nil
}

// commitPlain выполняет шаги записи последовательно, без компенсации.
// Если списание не удалось, заказ остаётся сохранённым.
func (w *Workflow) commitPlain(
	ctx context.Context,
	customer domain.Customer,
	lines []domain.OrderLine,
	decrements []domain.StockDecrement,
	logger *log.Entry,
) (domain.Order, error) {
	order, err := w.persist(ctx, w.orders, customer, lines)
	if err != nil {
		logger.WithError(err).Error("order persistence failed")
		return domain.Order{}, err
	}

	if err := w.decrement(ctx, w.products, decrements); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Error("order persisted but stock decrement failed")
		if w.metrics != nil {
			w.metrics.RecordPartialApply()
		}
		return domain.Order{}, err
	}

	if w.outbox != nil {
		if err := w.enqueueCreated(ctx, w.outbox, order); err != nil {
			logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order event")
		}
	}
	return order, nil
}

func (w *Workflow) persist(ctx context.Context, store domain.OrderStore, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error) {
	var order domain.Order
	err := w.timed(domain.OrderStepPersist, func() error {
		var err error
		order, err = store.Create(ctx, customer, lines)
		return err
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%s: %w", domain.OrderStepPersist, err)
	}
	return order, nil
}

func (w *Workflow) decrement(ctx context.Context, catalog domain.ProductCatalog, decrements []domain.StockDecrement) error {
	err := w.timed(domain.OrderStepDecrement, func() error {
		return catalog.DecrementQuantities(ctx, decrements)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", domain.OrderStepDecrement, err)
	}
	return nil
}

// orderCreatedPayload: тело события OrderCreated.
type orderCreatedPayload struct {
	OrderID    string                 `json:"order_id"`
	CustomerID string                 `json:"customer_id"`
	Lines      []orderCreatedLineView `json:"lines"`
	Total      string                 `json:"total"`
	CreatedAt  time.Time              `json:"created_at"`
}

type orderCreatedLineView struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func (w *Workflow) enqueueCreated(ctx context.Context, outbox domain.OutboxRepository, order domain.Order) error {
	if outbox == nil {
		return nil
	}
	return w.timed(domain.OrderStepOutbox, func() error {
		payload := orderCreatedPayload{
			OrderID:    order.ID,
			CustomerID: order.Customer.ID,
			Lines:      make([]orderCreatedLineView, 0, len(order.Lines)),
			Total:      order.Total().StringFixed(2),
			CreatedAt:  order.CreatedAt,
		}
		for _, line := range order.Lines {
			payload.Lines = append(payload.Lines, orderCreatedLineView{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice.StringFixed(2),
			})
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal order event: %w", err)
		}
		if _, err := outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: AggregateTypeOrder,
			AggregateID:   order.ID,
			EventType:     EventTypeOrderCreated,
			Payload:       data,
		}); err != nil {
			return fmt.Errorf("%s: %w", domain.OrderStepOutbox, err)
		}
		if w.metrics != nil {
			w.metrics.RecordOutboxEvent()
		}
		return nil
	})
}

func (w *Workflow) timed(step domain.OrderStep, fn func() error) error {
	start := time.Now()
	err := fn()
	if w.metrics != nil {
		w.metrics.RecordStepDuration(string(step), time.Since(start))
	}
	return err
}

func (w *Workflow) recordRejected(err error) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordOrderRejected(RejectReason(err))
}

// RejectReason классифицирует ошибку создания заказа для метрик и транспорта.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return metrics.ReasonInvalidRequest
	case errors.Is(err, domain.ErrCustomerNotFound):
		return metrics.ReasonCustomerNotFound
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ReasonProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ReasonInsufficientStock
	default:
		return metrics.ReasonInternal
	}
}
