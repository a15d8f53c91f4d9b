package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Customer: запись справочника клиентов. Поток создания заказа её только читает.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Product: товар каталога с текущей ценой и доступным остатком.
type Product struct {
	ID   string
	Name string
	// Price может отсутствовать (Valid == false); в заказ тогда попадает нулевая цена.
	Price             decimal.NullDecimal
	AvailableQuantity int32
	UpdatedAt         time.Time
}

// UnitPrice возвращает цену товара или ноль, если цена не задана.
func (p Product) UnitPrice() decimal.Decimal {
	if !p.Price.Valid {
		return decimal.Zero
	}
	return p.Price.Decimal
}

// OrderLine: позиция заказа. Цена фиксируется в момент создания и больше не пересчитывается.
type OrderLine struct {
	ID        string
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int32
}

// Subtotal возвращает стоимость позиции: цена * количество.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

// Order агрегирует клиента и позиции сохранённого заказа.
type Order struct {
	ID        string
	Customer  Customer
	Lines     []OrderLine
	CreatedAt time.Time
}

// Total возвращает сумму заказа по всем позициям.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Customer.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if line.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// RequestedItem: одна запрошенная позиция: товар и количество.
type RequestedItem struct {
	ProductID string
	Quantity  int32
}

// OrderRequest: входные данные для создания заказа. Не сохраняется.
type OrderRequest struct {
	CustomerID string
	Items      []RequestedItem
}

// Validate проверяет форму запроса. Ошибка оборачивает ErrInvalidRequest.
func (r OrderRequest) Validate() error {
	var errs []error

	if r.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(r.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range r.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidRequest}, errs...)...)
}

// DistinctProductIDs возвращает уникальные идентификаторы товаров в порядке первого появления.
func (r OrderRequest) DistinctProductIDs() []string {
	seen := make(map[string]struct{}, len(r.Items))
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// StockDecrements переводит позиции запроса в пары {товар, количество} для списания остатка.
func (r OrderRequest) StockDecrements() []StockDecrement {
	result := make([]StockDecrement, 0, len(r.Items))
	for _, item := range r.Items {
		result = append(result, StockDecrement{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return result
}

// StockDecrement: списание остатка по одному товару.
type StockDecrement struct {
	ProductID string
	Quantity  int32
}
