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
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/sync/errgroup"
)

const (
	outcomePlaced       = "placed"
	outcomeInsufficient = "insufficient_stock"
	outcomeError        = "error"
)

// config описывает сценарий конкурентного списания одного товара.
type config struct {
	baseURL     string
	orders      int
	concurrency int
	stock       int64
	quantity    int64
	price       string
	timeout     time.Duration
	outputPath  string
}

// latencyStats — распределение задержек запросов в миллисекундах.
type latencyStats struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

type report struct {
	StartedAt       time.Time        `json:"started_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	ProductID       string           `json:"product_id"`
	InitialStock    int64            `json:"initial_stock"`
	FinalStock      int64            `json:"final_stock"`
	Requests        int64            `json:"requests"`
	Placed          int64            `json:"placed"`
	Insufficient    int64            `json:"insufficient_stock"`
	Errors          int64            `json:"errors"`
	Statuses        map[string]int64 `json:"statuses"`
	RPS             float64          `json:"rps"`
	LatencyMs       latencyStats     `json:"latency_ms"`
	Consistent      bool             `json:"consistent"`
}

// expectedStock возвращает остаток, который должен получиться при корректном списании.
func (r report) expectedStock(quantity int64) int64 {
	return r.InitialStock - r.Placed*quantity
}

type collector struct {
	mu        sync.Mutex
	outcomes  map[string]int64
	statuses  map[string]int64
	latencies []time.Duration
}

func newCollector() *collector {
	return &collector{
		outcomes: make(map[string]int64),
		statuses: make(map[string]int64),
	}
}

func (c *collector) record(outcome string, status int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[outcome]++
	if status > 0 {
		c.statuses[fmt.Sprintf("%d", status)]++
	}
	c.latencies = append(c.latencies, latency)
}

func (c *collector) fill(r *report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Placed = c.outcomes[outcomePlaced]
	r.Insufficient = c.outcomes[outcomeInsufficient]
	r.Errors = c.outcomes[outcomeError]
	r.Requests = r.Placed + r.Insufficient + r.Errors
	r.Statuses = make(map[string]int64, len(c.statuses))
	for code, n := range c.statuses {
		r.Statuses[code] = n
	}
	r.LatencyMs = summarizeLatencies(c.latencies)
}

func parseConfig(args []string) (config, error) {
	var cfg config

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "storefront base URL")
	fs.IntVar(&cfg.orders, "orders", 200, "number of orders to place")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent clients")
	fs.Int64Var(&cfg.stock, "stock", 100, "initial product stock")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.StringVar(&cfg.price, "price", "9.99", "product price")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.orders <= 0:
		return cfg, errors.New("orders must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.stock < 0:
		return cfg, errors.New("stock must be >= 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := saveReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if !result.Consistent || result.Errors > 0 {
		os.Exit(1)
	}
}

// run заводит клиента и товар, затем конкурентно оформляет заказы и сверяет итоговый остаток.
func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	c := &client{baseURL: cfg.baseURL, http: httpClient}

	customerID, err := c.createCustomer(ctx)
	if err != nil {
		return report{}, fmt.Errorf("create customer: %w", err)
	}
	productID, err := c.createProduct(ctx, cfg.price, cfg.stock)
	if err != nil {
		return report{}, fmt.Errorf("create product: %w", err)
	}

	col := newCollector()
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.orders; i++ {
		g.Go(func() error {
			start := time.Now()
			status, err := c.placeOrder(gctx, customerID, productID, cfg.quantity)
			col.record(classify(status, err), status, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	duration := time.Since(startedAt)

	finalStock, err := c.productQuantity(ctx, productID)
	if err != nil {
		return report{}, fmt.Errorf("read final stock: %w", err)
	}

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		ProductID:       productID,
		InitialStock:    cfg.stock,
		FinalStock:      finalStock,
	}
	col.fill(&result)
	if duration > 0 {
		result.RPS = float64(result.Requests) / duration.Seconds()
	}
	result.Consistent = finalStock >= 0 && finalStock == result.expectedStock(cfg.quantity)
	return result, nil
}

func classify(status int, err error) string {
	switch {
	case err != nil:
		return outcomeError
	case status == http.StatusCreated:
		return outcomePlaced
	case status == http.StatusConflict:
		return outcomeInsufficient
	default:
		return outcomeError
	}
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) createCustomer(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{
		"name":  gofakeit.Name(),
		"email": fmt.Sprintf("load-%d-%s", time.Now().UnixNano(), gofakeit.Email()),
	}
	if err := c.postExpect(ctx, "/customers", body, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *client) createProduct(ctx context.Context, price string, stock int64) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"name":     fmt.Sprintf("%s %d", gofakeit.ProductName(), time.Now().UnixNano()),
		"price":    price,
		"quantity": stock,
	}
	if err := c.postExpect(ctx, "/products", body, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *client) placeOrder(ctx context.Context, customerID, productID string, quantity int64) (int, error) {
	body := map[string]any{
		"customer_id": customerID,
		"products":    []map[string]any{{"id": productID, "quantity": quantity}},
	}
	resp, err := c.do(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *client) productQuantity(ctx context.Context, productID string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/products/"+productID, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Quantity int64 `json:"quantity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode product: %w", err)
	}
	return out.Quantity, nil
}

func (c *client) postExpect(ctx context.Context, path string, body any, want int, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// saveReport пишет отчёт в JSON. Путь должен оставаться внутри рабочего каталога.
func saveReport(path string, result report) error {
	if !filepath.IsLocal(path) {
		return fmt.Errorf("report path %q must be a file inside the working directory", path)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "orders=%d concurrency=%d quantity=%d placed=%d insufficient=%d errors=%d\n",
		result.Requests, cfg.concurrency, cfg.quantity, result.Placed, result.Insufficient, result.Errors)
	_, _ = fmt.Fprintf(w, "stock initial=%d final=%d expected=%d consistent=%t\n",
		result.InitialStock, result.FinalStock, result.expectedStock(cfg.quantity), result.Consistent)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	l := result.LatencyMs
	_, _ = fmt.Fprintf(w, "latency ms: min=%.2f mean=%.2f p50=%.2f p90=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Mean, l.P50, l.P90, l.P99, l.Max)

	codes := make([]string, 0, len(result.Statuses))
	for code := range result.Statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		_, _ = fmt.Fprintf(w, "status %s: %d\n", code, result.Statuses[code])
	}
}

// summarizeLatencies считает перцентили по методу nearest-rank.
func summarizeLatencies(samples []time.Duration) latencyStats {
	if len(samples) == 0 {
		return latencyStats{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	rank := func(q float64) float64 {
		i := int(math.Ceil(q*float64(len(sorted)))) - 1
		return ms(sorted[max(i, 0)])
	}

	return latencyStats{
		Min:  ms(sorted[0]),
		Mean: ms(total / time.Duration(len(sorted))),
		P50:  rank(0.50),
		P90:  rank(0.90),
		P99:  rank(0.99),
		Max:  ms(sorted[len(sorted)-1]),
	}
}
