package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/orders/internal/api"
	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderCreator создаёт заказ по запросу.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
}

// OrderService реализует gRPC API поверх сценария создания заказа и стороны чтения.
type OrderService struct {
	creator  OrderCreator
	query    domain.OrderQuery
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

const (
	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 1000
)

// NewOrderService конструирует сервис с зависимостями. idemRepo может быть nil.
func NewOrderService(
	creator OrderCreator,
	query domain.OrderQuery,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		creator:  creator,
		query:    query,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder создаёт заказ.
func (s *OrderService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	var in api.CreateOrderRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return s.withIdempotency(ctx, MethodCreateOrder, req, func(ctx context.Context) (*structpb.Struct, error) {
		order, err := s.creator.CreateOrder(ctx, in.ToDomain())
		if err != nil {
			return nil, s.toStatus(err, "failed to create order", log.Fields{"customer_id": in.CustomerID})
		}
		return s.encodeResponse(api.OrderResponse{Order: api.OrderFromDomain(order)})
	})
}

// GetOrder возвращает заказ по идентификатору.
func (s *OrderService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.GetOrderRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.query.Get(ctx, in.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "failed to load order", log.Fields{"order_id": in.OrderID})
	}

	return s.encodeResponse(api.OrderResponse{Order: api.OrderFromDomain(order)})
}

// ListOrders возвращает заказы клиента, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in api.ListOrdersRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.CustomerID == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}

	limit := in.PageSize
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}
	if limit > maxListOrdersLimit {
		limit = maxListOrdersLimit
	}

	orders, err := s.query.ListByCustomer(ctx, in.CustomerID, limit)
	if err != nil {
		return nil, s.toStatus(err, "failed to list orders", log.Fields{"customer_id": in.CustomerID})
	}

	return s.encodeResponse(api.ListOrdersResponse{Orders: api.OrdersFromDomain(orders)})
}

func (s *OrderService) encodeResponse(v any) (*structpb.Struct, error) {
	out, err := encodeStruct(v)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// toStatus переводит доменную ошибку в gRPC статус. Неизвестные ошибки
// логируются и отдаются клиенту как Internal с сообщением internalMsg.
func (s *OrderService) toStatus(err error, internalMsg string, fields log.Fields) error {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.WithError(err).WithFields(fields).Error(internalMsg)
		return status.Error(codes.Internal, internalMsg)
	}
}

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler один раз на idempotency-key. Повтор с тем же
// ключом и тем же запросом получает сохранённый ответ или ошибку; запрос без
// ключа выполняется каждый раз.
func (s *OrderService) withIdempotency(
	ctx context.Context,
	method string,
	req proto.Message,
	handler func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, ok := readIdempotencyKey(ctx)
	if !ok {
		return handler(ctx)
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return s.replayIdempotency(err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if cacheableFailure(runErr) {
			s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		} else {
			s.releaseIdempotencyKey(ctx, idemKey)
		}
		return nil, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}

	return resp, nil
}

func (s *OrderService) replayIdempotency(createErr error, record domain.IdempotencyRecord) (*structpb.Struct, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return nil, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := &structpb.Struct{}
			if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *OrderService) cacheIdempotencySuccess(ctx context.Context, key string, resp *structpb.Struct) error {
	if resp == nil {
		return s.idemRepo.MarkDone(ctx, key, nil, int(codes.OK))
	}

	data, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *OrderService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	// ctx запроса мог быть отменён; запись ошибки всё равно нужна для повторов.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.idemRepo.MarkFailed(storeCtx, key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

// cacheableFailure сообщает, что ошибка зависит только от запроса и состояния
// каталога, поэтому повтор с тем же ключом получит тот же ответ.
func cacheableFailure(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return true
	default:
		return false
	}
}

func (s *OrderService) releaseIdempotencyKey(ctx context.Context, key string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.idemRepo.Release(releaseCtx, key); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int64(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if record.ResponseCode > 0 {
		if code, ok := grpcCode(int64(record.ResponseCode)); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, bool) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), true
		}
	}
	return "", false
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

var _ OrderServiceServer = (*OrderService)(nil)
