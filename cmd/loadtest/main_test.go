package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/api"
)

type fakeClient struct {
	mu       sync.Mutex
	keys     map[string]bool
	stock    int
	getCalls int
}

func (f *fakeClient) CreateOrder(ctx context.Context, req api.CreateOrderRequest, _ ...grpc.CallOption) (api.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for _, key := range md.Get(idempotencyHeader) {
			f.keys[key] = true
		}
	}
	if f.stock <= 0 {
		return api.Order{}, status.Error(codes.FailedPrecondition, "insufficient stock")
	}
	f.stock--
	return api.Order{ID: "order", Customer: api.Customer{ID: req.CustomerID}}, nil
}

func (f *fakeClient) GetOrder(_ context.Context, orderID string, _ ...grpc.CallOption) (api.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return api.Order{ID: orderID}, nil
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-mode=create-get", "-products=product-1, ,product-2", "-total=10", "-qty=2"})
	require.NoError(t, err)
	assert.Equal(t, modeCreateGet, cfg.mode)
	assert.Equal(t, []string{"product-1", "product-2"}, cfg.products)
	assert.Equal(t, 10, cfg.total)
	assert.Equal(t, 2, cfg.quantity)
	assert.Equal(t, 5*time.Second, cfg.timeout)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := parseConfig([]string{"-mode=pay"})
	require.Error(t, err)

	_, err = parseConfig([]string{"-total=0", "-products=", "-qty=0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total must be > 0")
	assert.Contains(t, err.Error(), "at least one product is required")
	assert.Contains(t, err.Error(), "qty must be a positive int32")
}

func TestRun_CountsFailuresByCode(t *testing.T) {
	client := &fakeClient{keys: make(map[string]bool), stock: 7}
	cfg, err := parseConfig([]string{"-total=10", "-concurrency=3", "-mode=create-get"})
	require.NoError(t, err)

	result := run(cfg, []orderClient{client})

	assert.Equal(t, int64(10), result.Scenarios)
	assert.Equal(t, int64(3), result.Failed)
	assert.InDelta(t, 0.3, result.ErrorRate, 1e-9)
	assert.Equal(t, int64(3), result.Methods["CreateOrder"].Codes[codes.FailedPrecondition.String()])
	assert.Equal(t, 7, client.getCalls)
	assert.Len(t, client.keys, 10, "every scenario uses its own idempotency key")

	var out bytes.Buffer
	printReport(&out, result, cfg)
	assert.Contains(t, out.String(), "scenarios=10 failed=3")
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 4.0, percentile([]float64{4}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)

	summary := summarize([]float64{3, 1, 2})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 3.0, summary.Max)
	assert.Equal(t, 2.0, summary.Avg)
}

func TestWriteJSONReport_RejectsParentDir(t *testing.T) {
	require.Error(t, writeJSONReport("../report.json", report{}))
	require.Error(t, writeJSONReport(".", report{}))
}
