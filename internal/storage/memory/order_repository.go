package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderRepository: in-memory хранилище заказов.
type OrderRepository struct {
	acc accessor
}

// Create сохраняет заказ с новым идентификатором и возвращает его.
func (r *OrderRepository) Create(ctx context.Context, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		Customer:  customer,
		Lines:     make([]domain.OrderLine, len(lines)),
		CreatedAt: time.Now().UTC(),
	}
	for i, line := range lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		order.Lines[i] = line
	}

	err := r.acc.write(func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrOrderAlreadyExists
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err := r.acc.read(func(st *state) error {
		found, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = cloneOrder(found)
		return nil
	})
	return order, err
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []domain.Order
	_ = r.acc.read(func(st *state) error {
		result = make([]domain.Order, 0)
		for _, order := range st.orders {
			if order.Customer.ID != customerID {
				continue
			}
			result = append(result, cloneOrder(order))
		}
		return nil
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = append([]domain.OrderLine(nil), src.Lines...)
	return dst
}

var (
	_ domain.OrderStore = (*OrderRepository)(nil)
	_ domain.OrderQuery = (*OrderRepository)(nil)
)
