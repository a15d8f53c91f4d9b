package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// ProductRepository: in-memory каталог товаров.
type ProductRepository struct {
	acc accessor
}

// FindAllByID возвращает найденные товары, отсортированные по идентификатору.
// Отсутствующие идентификаторы пропускаются.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []domain.Product
	err := r.acc.read(func(st *state) error {
		seen := make(map[string]struct{}, len(ids))
		result = make([]domain.Product, 0, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if product, ok := st.products[id]; ok {
				result = append(result, product)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DecrementQuantities списывает остатки. Сначала проверяются все позиции,
// затем изменения применяются целиком; при ошибке остатки не меняются.
func (r *ProductRepository) DecrementQuantities(ctx context.Context, items []domain.StockDecrement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.acc.write(func(st *state) error {
		demand := make(map[string]int64, len(items))
		order := make([]string, 0, len(items))
		for _, item := range items {
			if item.Quantity <= 0 {
				return domain.ErrItemQtyInvalid
			}
			if _, ok := demand[item.ProductID]; !ok {
				order = append(order, item.ProductID)
			}
			demand[item.ProductID] += int64(item.Quantity)
		}

		for _, id := range order {
			product, ok := st.products[id]
			if !ok {
				return &domain.ProductNotFoundError{ProductIDs: []string{id}}
			}
			if demand[id] > int64(product.AvailableQuantity) {
				return &domain.InsufficientStockError{
					ProductID: id,
					Requested: demand[id],
					Available: int64(product.AvailableQuantity),
				}
			}
		}

		now := time.Now().UTC()
		for _, id := range order {
			product := st.products[id]
			product.AvailableQuantity -= int32(demand[id])
			product.UpdatedAt = now
			st.products[id] = product
		}
		return nil
	})
}

var _ domain.ProductCatalog = (*ProductRepository)(nil)
