package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Store: in-memory хранилище клиентов, товаров, заказов и outbox.
// Все репозитории работают с одним состоянием под общим мьютексом,
// поэтому Do может применять изменения атомарно.
type Store struct {
	mu sync.RWMutex
	st *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// accessor даёт репозиториям доступ к состоянию: под блокировкой хранилища
// либо напрямую к копии внутри единицы работы.
type accessor interface {
	read(fn func(st *state) error) error
	write(fn func(st *state) error) error
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// txAccessor работает с копией состояния; блокировку держит Do.
type txAccessor struct {
	st *state
}

func (a txAccessor) read(fn func(st *state) error) error  { return fn(a.st) }
func (a txAccessor) write(fn func(st *state) error) error { return fn(a.st) }

// Customers возвращает справочник клиентов.
func (s *Store) Customers() *CustomerRepository {
	return &CustomerRepository{acc: s}
}

// Products возвращает каталог товаров.
func (s *Store) Products() *ProductRepository {
	return &ProductRepository{acc: s}
}

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{acc: s}
}

// Outbox возвращает репозиторий transactional outbox.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{acc: s}
}

// Do выполняет fn над копией состояния и подменяет состояние копией, только если fn вернула nil.
// Единицы работы выполняются последовательно.
func (s *Store) Do(ctx context.Context, fn func(tx domain.TxRepositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	if err := fn(txRepositories{acc: txAccessor{st: draft}}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

type txRepositories struct {
	acc accessor
}

func (t txRepositories) Orders() domain.OrderStore { return &OrderRepository{acc: t.acc} }
func (t txRepositories) Products() domain.ProductCatalog { return &ProductRepository{acc: t.acc} }
func (t txRepositories) Outbox() domain.OutboxRepository { return &OutboxRepository{acc: t.acc} }

// PutCustomer добавляет или заменяет клиента.
func (s *Store) PutCustomer(customer domain.Customer) {
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_ = s.write(func(st *state) error {
		st.customers[customer.ID] = customer
		return nil
	})
}

// PutProduct добавляет или заменяет товар.
func (s *Store) PutProduct(product domain.Product) {
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	_ = s.write(func(st *state) error {
		st.products[product.ID] = product
		return nil
	})
}

// Product возвращает текущее состояние товара.
func (s *Store) Product(id string) (domain.Product, bool) {
	var (
		product domain.Product
		ok      bool
	)
	_ = s.read(func(st *state) error {
		product, ok = st.products[id]
		return nil
	})
	return product, ok
}

// state: данные хранилища.
type state struct {
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    map[string]outboxRecord
	outboxSeq int64
}

func newState() *state {
	return &state{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		outbox:    make(map[string]outboxRecord),
	}
}

// clone копирует состояние. Заказы и сообщения outbox не изменяются после
// записи, поэтому копируются только map.
func (st *state) clone() *state {
	dst := &state{
		customers: make(map[string]domain.Customer, len(st.customers)),
		products:  make(map[string]domain.Product, len(st.products)),
		orders:    make(map[string]domain.Order, len(st.orders)),
		outbox:    make(map[string]outboxRecord, len(st.outbox)),
		outboxSeq: st.outboxSeq,
	}
	for id, customer := range st.customers {
		dst.customers[id] = customer
	}
	for id, product := range st.products {
		dst.products[id] = product
	}
	for id, order := range st.orders {
		dst.orders[id] = order
	}
	for id, record := range st.outbox {
		dst.outbox[id] = record
	}
	return dst
}

var _ domain.UnitOfWork = (*Store)(nil)
