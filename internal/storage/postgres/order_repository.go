package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderRepository хранит заказы в таблицах orders и order_lines.
type OrderRepository struct {
	db dbtx
}

// Create вставляет заказ и его позиции в одной транзакции.
func (r *OrderRepository) Create(ctx context.Context, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order := domain.Order{
		ID:        uuid.NewString(),
		Customer:  customer,
		Lines:     make([]domain.OrderLine, len(lines)),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	for i, line := range lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		order.Lines[i] = line
	}

	err := inTx(ctx, r.db, func(q dbtx) error {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, created_at)
			VALUES ($1, $2, $3)
		`, order.ID, customer.ID, order.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, line := range order.Lines {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_lines (id, order_id, position, product_id, unit_price, quantity)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, line.ID, order.ID, i, line.ProductID, line.UnitPrice, line.Quantity); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

const selectOrderColumns = `
	SELECT o.id, o.created_at, c.id, c.name, c.email, c.created_at
	FROM orders o
	JOIN customers c ON c.id = o.customer_id
`

// Get возвращает заказ с позициями или ErrOrderNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var order domain.Order
	err := r.db.QueryRowContext(ctx, selectOrderColumns+`WHERE o.id = $1`, id).Scan(
		&order.ID, &order.CreatedAt,
		&order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadLines(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]

	return order, nil
}

// ListByCustomer возвращает заказы клиента, новые первыми; при limit <= 0 без ограничения.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := selectOrderColumns + `
		WHERE o.customer_id = $1
		ORDER BY o.created_at DESC, o.id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID, &order.CreatedAt,
			&order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}

	return orders, nil
}

// loadLines загружает позиции нескольких заказов одним запросом.
func (r *OrderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, unit_price, quantity
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ID, &line.ProductID, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return result, nil
}

var (
	_ domain.OrderStore = (*OrderRepository)(nil)
	_ domain.OrderQuery = (*OrderRepository)(nil)
)
