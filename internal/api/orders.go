// Package api описывает JSON-представление заказов, общее для gRPC и HTTP.
package api

import (
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// CreateOrderRequest: тело запроса на создание заказа.
type CreateOrderRequest struct {
	CustomerID string          `json:"customer_id"`
	Items      []RequestedItem `json:"items"`
}

// RequestedItem: запрошенный товар и количество.
type RequestedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// ToDomain переводит запрос в доменный OrderRequest без проверок формы.
func (r CreateOrderRequest) ToDomain() domain.OrderRequest {
	items := make([]domain.RequestedItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.RequestedItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return domain.OrderRequest{CustomerID: r.CustomerID, Items: items}
}

// GetOrderRequest: запрос заказа по идентификатору.
type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

// ListOrdersRequest: запрос заказов клиента.
type ListOrdersRequest struct {
	CustomerID string `json:"customer_id"`
	PageSize   int    `json:"page_size,omitempty"`
}

// Customer: клиент в ответе.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// OrderLine: позиция заказа в ответе. Суммы передаются строками с двумя знаками.
type OrderLine struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

// Order: заказ в ответе.
type Order struct {
	ID        string      `json:"id"`
	Customer  Customer    `json:"customer"`
	Lines     []OrderLine `json:"lines"`
	Total     string      `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderResponse оборачивает один заказ.
type OrderResponse struct {
	Order Order `json:"order"`
}

// ListOrdersResponse: список заказов клиента.
type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

// ErrorResponse: тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// OrderFromDomain строит представление заказа.
func OrderFromDomain(order domain.Order) Order {
	lines := make([]OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderLine{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Subtotal:  line.Subtotal().StringFixed(2),
		})
	}

	return Order{
		ID: order.ID,
		Customer: Customer{
			ID:    order.Customer.ID,
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
		},
		Lines:     lines,
		Total:     order.Total().StringFixed(2),
		CreatedAt: order.CreatedAt.UTC(),
	}
}

// OrdersFromDomain строит представление списка заказов.
func OrdersFromDomain(orders []domain.Order) []Order {
	result := make([]Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, OrderFromDomain(order))
	}
	return result
}
