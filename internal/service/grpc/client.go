package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/orders/internal/api"
)

// OrderServiceClient: типизированный клиент orders.v1.OrderService.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиента поверх соединения.
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

// CreateOrder создаёт заказ. Ключ идемпотентности передаётся через metadata idempotency-key.
func (c *OrderServiceClient) CreateOrder(ctx context.Context, req api.CreateOrderRequest, opts ...grpc.CallOption) (api.Order, error) {
	var resp api.OrderResponse
	if err := c.invoke(ctx, MethodCreateOrder, req, &resp, opts...); err != nil {
		return api.Order{}, err
	}
	return resp.Order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (c *OrderServiceClient) GetOrder(ctx context.Context, orderID string, opts ...grpc.CallOption) (api.Order, error) {
	var resp api.OrderResponse
	if err := c.invoke(ctx, MethodGetOrder, api.GetOrderRequest{OrderID: orderID}, &resp, opts...); err != nil {
		return api.Order{}, err
	}
	return resp.Order, nil
}

// ListOrders возвращает заказы клиента.
func (c *OrderServiceClient) ListOrders(ctx context.Context, customerID string, pageSize int, opts ...grpc.CallOption) ([]api.Order, error) {
	var resp api.ListOrdersResponse
	req := api.ListOrdersRequest{CustomerID: customerID, PageSize: pageSize}
	if err := c.invoke(ctx, MethodListOrders, req, &resp, opts...); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	return decodeStruct(out, resp)
}
