package domain

import (
	"context"
	"time"
)

// CustomerDirectory разрешает идентификатор клиента в запись справочника.
type CustomerDirectory interface {
	// FindByID возвращает клиента или ErrCustomerNotFound, если его нет.
	FindByID(ctx context.Context, id string) (Customer, error)
}

// ProductCatalog отдаёт товары и применяет списание остатков.
type ProductCatalog interface {
	// FindAllByID возвращает найденные товары. Порядок не гарантируется,
	// отсутствующие идентификаторы просто пропускаются.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// DecrementQuantities уменьшает остатки. Если хотя бы один остаток ушёл бы
	// в минус, ничего не меняется и возвращается *InsufficientStockError.
	DecrementQuantities(ctx context.Context, items []StockDecrement) error
}

// OrderStore сохраняет полностью сформированный заказ и назначает ему идентификатор.
type OrderStore interface {
	Create(ctx context.Context, customer Customer, lines []OrderLine) (Order, error)
}

// OrderQuery: сторона чтения для созданных заказов.
type OrderQuery interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; при limit <= 0 без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// TxRepositories: репозитории, привязанные к одной единице работы.
type TxRepositories interface {
	Orders() OrderStore
	Products() ProductCatalog
	Outbox() OutboxRepository
}

// UnitOfWork выполняет fn атомарно: либо применяются все изменения, либо ни одного.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx TxRepositories) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, status int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, status int) error
	// Release удаляет запись в статусе processing, чтобы повтор с тем же ключом выполнился заново.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OrderStep задаёт константы шагов создания заказа для метрик/логов.
type OrderStep string

const (
	OrderStepValidate  OrderStep = "validate"
	OrderStepCustomer  OrderStep = "customer_lookup"
	OrderStepProducts  OrderStep = "product_lookup"
	OrderStepPersist   OrderStep = "persist"
	OrderStepDecrement OrderStep = "decrement"
	OrderStepOutbox    OrderStep = "outbox"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
