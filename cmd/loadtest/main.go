// Команда loadtest гоняет сценарии саги против запущенных сервисов заказов и платежей.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/httpapi"
)

const (
	defaultQty          = 1
	defaultPollInterval = 50 * time.Millisecond
	transportCode       = "transport"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreatePay    loadMode = "create-pay"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	orderURL     string
	paymentURL   string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	timeout      time.Duration
	pollInterval time.Duration
	mode         loadMode
	cancelRate   int
	productID    uuid.UUID
	unitPrice    decimal.Decimal
	quantity     int
	outputPath   string
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
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	Outcomes          map[string]int64        `json:"outcomes"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu       sync.Mutex
	methods  map[string]*methodStats
	outcomes map[string]int64
}

func newCollector() *collector {
	return &collector{
		methods:  make(map[string]*methodStats),
		outcomes: make(map[string]int64),
	}
}

// outcome фиксирует итоговый статус заказа в сценарии.
func (c *collector) outcome(status domain.OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[string(status)]++
}

// record учитывает вызов; code содержит HTTP-статус или transportCode.
func (c *collector) record(method string, latency time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if isSuccessCode(code) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	codesCopy := make(map[string]int64, len(stats.codes))
	for code, count := range stats.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
		Outcomes:        make(map[string]int64, len(c.outcomes)),
	}
	for status, count := range c.outcomes {
		result.Outcomes[status] = count
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var (
		cfg           config
		modeValue     string
		productValue  string
		priceValue    string
		durationValue string
	)

	flag.StringVar(&cfg.orderURL, "order-url", "http://localhost:8081", "order service base URL")
	flag.StringVar(&cfg.paymentURL, "payment-url", "http://localhost:8083", "payment service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout; also bounds waiting for stock reservation")
	flag.DurationVar(&cfg.pollInterval, "poll-interval", defaultPollInterval, "order status poll interval in create-pay mode")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-pay | create-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create-pay mode (0..100)")
	flag.StringVar(&productValue, "product", "", "product UUID to order (required)")
	flag.StringVar(&priceValue, "unit-price", "10.00", "unit price sent with each order item")
	flag.IntVar(&cfg.quantity, "quantity", defaultQty, "quantity per order")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if strings.TrimSpace(productValue) == "" {
		return cfg, errors.New("product is required")
	}
	if cfg.productID, err = uuid.Parse(strings.TrimSpace(productValue)); err != nil {
		return cfg, fmt.Errorf("parse product: %w", err)
	}
	if cfg.unitPrice, err = decimal.NewFromString(strings.TrimSpace(priceValue)); err != nil {
		return cfg, fmt.Errorf("parse unit-price: %w", err)
	}

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.pollInterval <= 0 {
		return cfg, errors.New("poll-interval must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if !cfg.unitPrice.IsPositive() {
		return cfg, errors.New("unit-price must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.orderURL) == "" {
		return cfg, errors.New("order-url is required")
	}
	if cfg.mode == modeCreatePay && strings.TrimSpace(cfg.paymentURL) == "" {
		return cfg, errors.New("payment-url is required in create-pay mode")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreatePay:
		return modeCreatePay, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	transport := &http.Transport{MaxIdleConnsPerHost: cfg.concurrency}
	api := newHTTPSagaAPI(&http.Client{Transport: transport}, cfg.orderURL, cfg.paymentURL)
	defer transport.CloseIdleConnections()

	result := runLoad(api, cfg)

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(api sagaAPI, cfg config) report {
	startedAt := time.Now()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(api, cfg, id, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// sagaAPI описывает вызовы, из которых складываются сценарии нагрузки.
type sagaAPI interface {
	CreateOrder(ctx context.Context, req httpapi.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID int64, reason string) (domain.Order, error)
	CreatePayment(ctx context.Context, req httpapi.CreatePaymentRequest) (domain.Payment, error)
}

// statusError описывает ответ сервиса вне 2xx.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// responseCode сводит ошибку вызова к коду для отчёта.
func responseCode(err error, okCode int) string {
	if err == nil {
		return strconv.Itoa(okCode)
	}
	var se *statusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.code)
	}
	return transportCode
}

func isSuccessCode(code string) bool {
	n, err := strconv.Atoi(code)
	return err == nil && n >= 200 && n < 300
}

type httpSagaAPI struct {
	client     *http.Client
	orderURL   string
	paymentURL string
}

func newHTTPSagaAPI(client *http.Client, orderURL, paymentURL string) *httpSagaAPI {
	return &httpSagaAPI{
		client:     client,
		orderURL:   strings.TrimRight(orderURL, "/") + httpapi.BasePath,
		paymentURL: strings.TrimRight(paymentURL, "/") + httpapi.BasePath,
	}
}

func (a *httpSagaAPI) CreateOrder(ctx context.Context, req httpapi.CreateOrderRequest) (domain.Order, error) {
	var order domain.Order
	err := a.do(ctx, http.MethodPost, a.orderURL+"/orders", req, &order)
	return order, err
}

func (a *httpSagaAPI) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	var order domain.Order
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("%s/orders/%d", a.orderURL, orderID), nil, &order)
	return order, err
}

func (a *httpSagaAPI) CancelOrder(ctx context.Context, orderID int64, reason string) (domain.Order, error) {
	var order domain.Order
	err := a.do(ctx, http.MethodPut, fmt.Sprintf("%s/orders/%d/cancel", a.orderURL, orderID),
		httpapi.CancelOrderRequest{Reason: reason}, &order)
	return order, err
}

func (a *httpSagaAPI) CreatePayment(ctx context.Context, req httpapi.CreatePaymentRequest) (domain.Payment, error) {
	var payment domain.Payment
	err := a.do(ctx, http.MethodPost, a.paymentURL+"/payments", req, &payment)
	return payment, err
}

func (a *httpSagaAPI) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runScenario(api sagaAPI, cfg config, index int, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := strconv.Itoa(http.StatusOK)
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	order, err := callCreateOrder(api, cfg, col)
	if err != nil {
		scenarioCode = responseCode(err, 0)
		return err
	}
	if order.ID == 0 {
		scenarioCode = strconv.Itoa(http.StatusInternalServerError)
		return errors.New("create response returned empty order id")
	}

	switch {
	case cfg.mode == modeCreate:
		col.outcome(order.Status)
		return nil
	case cfg.mode == modeCreateCancel || shouldCancelScenario(index, cfg.cancelRate):
		cancelled, err := callCancelOrder(api, cfg.timeout, order.ID, col)
		if err != nil {
			scenarioCode = responseCode(err, 0)
			return err
		}
		col.outcome(cancelled.Status)
		return nil
	}

	settled, err := waitForReservation(api, cfg, order.ID, col)
	if err != nil {
		scenarioCode = responseCode(err, 0)
		return err
	}
	if settled.Status != domain.OrderStatusStockReserved {
		// Склад отказал: это штатный исход саги, а не ошибка нагрузки.
		col.outcome(settled.Status)
		return nil
	}

	if _, err := callCreatePayment(api, cfg.timeout, settled, col); err != nil {
		scenarioCode = responseCode(err, 0)
		return err
	}

	final, err := timedGetOrder(api, cfg.timeout, order.ID, col)
	if err != nil {
		scenarioCode = responseCode(err, 0)
		return err
	}
	col.outcome(final.Status)
	return nil
}

func callCreateOrder(api sagaAPI, cfg config, col *collector) (domain.Order, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	order, err := api.CreateOrder(ctx, httpapi.CreateOrderRequest{
		CustomerID: uuid.New(),
		Items: []httpapi.OrderItemRequest{{
			ProductID: cfg.productID,
			Quantity:  cfg.quantity,
			UnitPrice: cfg.unitPrice,
		}},
	})
	col.record("CreateOrder", time.Since(start), responseCode(err, http.StatusCreated))
	return order, err
}

func callCancelOrder(api sagaAPI, timeout time.Duration, orderID int64, col *collector) (domain.Order, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	order, err := api.CancelOrder(ctx, orderID, "load-cancel")
	col.record("CancelOrder", time.Since(start), responseCode(err, http.StatusOK))
	return order, err
}

func callCreatePayment(api sagaAPI, timeout time.Duration, order domain.Order, col *collector) (domain.Payment, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payment, err := api.CreatePayment(ctx, httpapi.CreatePaymentRequest{
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		PaymentMethod: "card",
	})
	col.record("CreatePayment", time.Since(start), responseCode(err, http.StatusCreated))
	return payment, err
}

func timedGetOrder(api sagaAPI, timeout time.Duration, orderID int64, col *collector) (domain.Order, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	order, err := api.GetOrder(ctx, orderID)
	col.record("GetOrder", time.Since(start), responseCode(err, http.StatusOK))
	return order, err
}

// waitForReservation опрашивает заказ, пока склад не обработает order-created.
func waitForReservation(api sagaAPI, cfg config, orderID int64, col *collector) (domain.Order, error) {
	deadline := time.Now().Add(cfg.timeout)
	for {
		order, err := timedGetOrder(api, cfg.timeout, orderID, col)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status != domain.OrderStatusStockPending {
			return order, nil
		}
		if time.Now().After(deadline) {
			return domain.Order{}, fmt.Errorf("order %d still %s after %s", orderID, order.Status, cfg.timeout)
		}
		time.Sleep(cfg.pollInterval)
	}
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	printOutcomes(result.Outcomes)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func printOutcomes(outcomes map[string]int64) {
	if len(outcomes) == 0 {
		return
	}
	statuses := make([]string, 0, len(outcomes))
	for status := range outcomes {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", status, outcomes[status]))
	}
	fmt.Printf("order outcomes: %s\n", strings.Join(parts, " "))
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
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

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
