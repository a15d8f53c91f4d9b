package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// ProductRepository: каталог товаров в таблице products.
type ProductRepository struct {
	db dbtx
}

// FindAllByID возвращает найденные товары одним запросом. Отсутствующие идентификаторы пропускаются.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, available_quantity, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.Price,
			&product.AvailableQuantity,
			&product.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

// DecrementQuantities условно списывает остатки в одной транзакции.
// Строки обновляются в порядке идентификаторов, чтобы конкурентные заказы брали блокировки одинаково.
func (r *ProductRepository) DecrementQuantities(ctx context.Context, items []domain.StockDecrement) error {
	demand := make(map[string]int64, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return domain.ErrItemQtyInvalid
		}
		demand[item.ProductID] += int64(item.Quantity)
	}

	ids := make([]string, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(q dbtx) error {
		for _, id := range ids {
			res, err := q.ExecContext(ctx, `
				UPDATE products
				SET available_quantity = available_quantity - $1,
				    updated_at = $3
				WHERE id = $2
				  AND available_quantity >= $1
			`, demand[id], id, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("decrement product %s: %w", id, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected for product %s: %w", id, err)
			}
			if affected == 0 {
				return explainDecrementMiss(ctx, q, id, demand[id])
			}
		}
		return nil
	})
}

// explainDecrementMiss определяет, почему условное списание не затронуло строку.
func explainDecrementMiss(ctx context.Context, q dbtx, id string, requested int64) error {
	var available int64
	err := q.QueryRowContext(ctx, `SELECT available_quantity FROM products WHERE id = $1`, id).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ProductNotFoundError{ProductIDs: []string{id}}
		}
		return fmt.Errorf("select product %s quantity: %w", id, err)
	}
	return &domain.InsufficientStockError{ProductID: id, Requested: requested, Available: available}
}

// Upsert создаёт товар или обновляет имя, цену и остаток существующего.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, available_quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    available_quantity = EXCLUDED.available_quantity,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Price, product.AvailableQuantity, product.UpdatedAt); err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}

var _ domain.ProductCatalog = (*ProductRepository)(nil)
