package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/api"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
)

const idempotencyHeader = "idempotency-key"

type loadMode string

const (
	modeCreate    loadMode = "create"
	modeCreateGet loadMode = "create-get"
)

type config struct {
	addr        string
	total       int
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	customerID  string
	products    []string
	quantity    int
	idempotent  bool
	outputPath  string
}

// orderClient покрывает вызовы, которые делает нагрузочный сценарий.
type orderClient interface {
	CreateOrder(ctx context.Context, req api.CreateOrderRequest, opts ...grpc.CallOption) (api.Order, error)
	GetOrder(ctx context.Context, orderID string, opts ...grpc.CallOption) (api.Order, error)
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	Scenarios       int64                   `json:"scenarios"`
	Failed          int64                   `json:"failed"`
	ErrorRate       float64                 `json:"error_rate"`
	RPS             float64                 `json:"rps"`
	Methods         map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector накапливает коды ответов и задержки по методам.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, err error) {
	code := status.Code(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	stats.calls++
	if code != codes.OK {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Failed:    stats.failed,
			Codes:     codesCopy,
			LatencyMs: summarize(stats.latencies),
		}
	}
	if scenario, ok := c.methods["scenario"]; ok {
		result.Scenarios = scenario.calls
		result.Failed = scenario.failed
		if scenario.calls > 0 {
			result.ErrorRate = float64(scenario.failed) / float64(scenario.calls)
		}
	}
	if elapsed > 0 {
		result.RPS = float64(result.Scenarios) / elapsed.Seconds()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg         config
		modeValue   string
		productsRaw string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 4, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-get")
	fs.StringVar(&cfg.customerID, "customer", "customer-1", "existing customer id")
	fs.StringVar(&productsRaw, "products", "product-1", "comma-separated existing product ids")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per product")
	fs.BoolVar(&cfg.idempotent, "idempotent", true, "send idempotency-key with CreateOrder")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	switch loadMode(strings.TrimSpace(modeValue)) {
	case modeCreate, modeCreateGet:
		cfg.mode = loadMode(strings.TrimSpace(modeValue))
	default:
		return cfg, fmt.Errorf("unsupported mode: %s", modeValue)
	}

	for _, product := range strings.Split(productsRaw, ",") {
		if product = strings.TrimSpace(product); product != "" {
			cfg.products = append(cfg.products, product)
		}
	}

	var errs []error
	if cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if cfg.connections <= 0 {
		errs = append(errs, errors.New("connections must be > 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if strings.TrimSpace(cfg.customerID) == "" {
		errs = append(errs, errors.New("customer is required"))
	}
	if len(cfg.products) == 0 {
		errs = append(errs, errors.New("at least one product is required"))
	}
	if cfg.quantity <= 0 || cfg.quantity > math.MaxInt32 {
		errs = append(errs, errors.New("qty must be a positive int32"))
	}
	return cfg, errors.Join(errs...)
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	clients := make([]orderClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}

	result := run(cfg, clients)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// run прогоняет cfg.total сценариев, распределяя воркеры по клиентам.
func run(cfg config, clients []orderClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(client orderClient) {
			defer wg.Done()
			for index := range jobs {
				runScenario(client, cfg, index, runID, col)
			}
		}(clients[workerID%len(clients)])
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return col.report(startedAt, time.Since(startedAt))
}

func runScenario(client orderClient, cfg config, index int, runID string, col *collector) {
	scenarioStart := time.Now()
	var scenarioErr error
	defer func() { col.record("scenario", time.Since(scenarioStart), scenarioErr) }()

	req := api.CreateOrderRequest{CustomerID: cfg.customerID}
	for _, product := range cfg.products {
		req.Items = append(req.Items, api.RequestedItem{ProductID: product, Quantity: int32(cfg.quantity)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	if cfg.idempotent {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, fmt.Sprintf("lt-%s-%d", runID, index))
	}

	start := time.Now()
	order, err := client.CreateOrder(ctx, req)
	col.record("CreateOrder", time.Since(start), err)
	if err != nil {
		scenarioErr = err
		return
	}
	if order.ID == "" {
		scenarioErr = status.Error(codes.Internal, "create response returned empty order id")
		return
	}
	if cfg.mode != modeCreateGet {
		return
	}

	start = time.Now()
	_, err = client.GetOrder(ctx, order.ID)
	col.record("GetOrder", time.Since(start), err)
	scenarioErr = err
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must point to a file inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаёт оператор через флаг -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintf(w, "mode=%s scenarios=%d failed=%d error_rate=%.4f duration=%.2fs rps=%.2f\n",
		cfg.mode, result.Scenarios, result.Failed, result.ErrorRate, result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d failed=%d p50=%.2fms p95=%.2fms p99=%.2fms codes=%v\n",
			name, stats.Calls, stats.Failed, stats.LatencyMs.P50, stats.LatencyMs.P95, stats.LatencyMs.P99, stats.Codes)
	}
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile считает перцентиль линейной интерполяцией по отсортированной выборке.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}
