package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultKeyPrefix = "orders:idempotency"
	defaultTTL       = 24 * time.Hour
	dialTimeout      = 5 * time.Second
)

// Open создаёт клиента Redis и проверяет доступность сервера.
func Open(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// IdempotencyRepository хранит ключи идемпотентности в Redis.
// Истечение ключей делает сам Redis по TTL, поэтому DeleteExpired ничего не удаляет.
type IdempotencyRepository struct {
	client *redis.Client
	prefix string
}

// NewIdempotencyRepository создаёт репозиторий; пустой prefix заменяется значением по умолчанию.
func NewIdempotencyRepository(client *redis.Client, prefix string) *IdempotencyRepository {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultKeyPrefix
	}
	return &IdempotencyRepository{client: client, prefix: prefix}
}

// storedRecord: JSON-представление записи в Redis.
type storedRecord struct {
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	ResponseCode int       `json:"response_code"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *IdempotencyRepository) redisKey(key string) string {
	return r.prefix + ":" + key
}

// CreateProcessing атомарно занимает ключ через SETNX с TTL до ttlAt.
// Занятый ключ возвращает существующую запись с ErrIdempotencyKeyAlreadyExists
// или ErrIdempotencyHashMismatch, если запрос отличается.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := encodeRecord(record)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	created, err := r.client.SetNX(ctx, r.redisKey(key), data, ttlFor(ttlAt, now)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if !created {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return record, nil
}

// Get читает запись по ключу; отсутствующий ключ даёт ErrIdempotencyKeyNotFound.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	return decodeRecord(key, raw)
}

// MarkDone сохраняет успешный ответ, оставляя исходный TTL.
func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, code int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, code)
}

// MarkFailed сохраняет ответ с ошибкой, оставляя исходный TTL.
func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, code int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, code)
}

// releaseScript удаляет ключ, только если запись всё ещё в статусе processing.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local record = cjson.decode(raw)
if record["status"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release освобождает ключ в статусе processing. Ключ в другом статусе не удаляется.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	if err := releaseScript.Run(ctx, r.client, []string{r.redisKey(key)}, string(domain.IdempotencyStatusProcessing)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired ничего не делает: ключи истекают по TTL.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, code int) error {
	record, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.ResponseCode = code
	record.UpdatedAt = time.Now().UTC()

	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	err = r.client.SetArgs(ctx, r.redisKey(record.Key), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	return nil
}

// ttlFor переводит абсолютный срок жизни в TTL Redis; истёкший срок даёт минимальный TTL.
func ttlFor(ttlAt, now time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func encodeRecord(record domain.IdempotencyRecord) ([]byte, error) {
	data, err := json.Marshal(storedRecord{
		RequestHash:  record.RequestHash,
		ResponseBody: record.ResponseBody,
		ResponseCode: record.ResponseCode,
		Status:       string(record.Status),
		TTLAt:        record.TTLAt,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode idempotency record: %w", err)
	}
	return data, nil
}

func decodeRecord(key string, raw []byte) (domain.IdempotencyRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}

	record := domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  stored.RequestHash,
		ResponseBody: stored.ResponseBody,
		ResponseCode: stored.ResponseCode,
		Status:       domain.IdempotencyStatus(stored.Status),
		TTLAt:        stored.TTLAt,
		CreatedAt:    stored.CreatedAt,
		UpdatedAt:    stored.UpdatedAt,
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", stored.Status, key)
	}
	return record, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
