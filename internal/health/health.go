// Package health отдаёт liveness/readiness и подробный health-отчёт по компонентам.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Status — состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// worst возвращает более тяжёлое из двух состояний.
func worst(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

const defaultCheckTimeout = 2 * time.Second

// Check описывает результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Version       string           `json:"version,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Checker проверяет один компонент. Check не должен блокироваться дольше ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

type namedChecker struct {
	name    string
	checker Checker
}

// Handler собирает проверки и отдаёт их результат по HTTP.
type Handler struct {
	version string
	timeout time.Duration
	started time.Time

	mu       sync.RWMutex
	checkers []namedChecker
}

func NewHandler(version string) *Handler {
	return &Handler{version: version, timeout: defaultCheckTimeout, started: time.Now()}
}

// RegisterChecker добавляет проверку; повторное имя заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := namedChecker{name: name, checker: checker}
	if i := slices.IndexFunc(h.checkers, func(c namedChecker) bool { return c.name == name }); i >= 0 {
		h.checkers[i] = entry
		return
	}
	h.checkers = append(h.checkers, entry)
}

// Run опрашивает все проверки параллельно, каждую со своим таймаутом.
// Итоговый статус равен худшему из полученных.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	checkers := slices.Clone(h.checkers)
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			results[i] = c.checker.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{
		Status:        StatusHealthy,
		Version:       h.version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
		Checks:        make(map[string]Check, len(checkers)),
	}
	for i, c := range checkers {
		resp.Checks[c.name] = results[i]
		resp.Status = worst(resp.Status, results[i].Status)
	}
	return resp
}

// ServeHTTP отдаёт полный отчёт; unhealthy превращается в 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler пропускает трафик и при degraded: backlog outbox не повод снимать под.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Run(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	writePlain(w, code, body)
}

// LivenessHandler отвечает 200, пока процесс способен обслуживать HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writePlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = fmt.Fprint(w, body)
}

// FuncChecker считает компонент unhealthy, если функция вернула ошибку.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	return timed(c.name, func(check *Check) {
		if err := c.fn(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		}
	})
}

// timed заполняет Name и DurationMs; fn меняет статус, если нашёл проблему.
func timed(name string, fn func(check *Check)) Check {
	started := time.Now()
	check := Check{Name: name, Status: StatusHealthy}
	fn(&check)
	check.DurationMs = time.Since(started).Milliseconds()
	return check
}

// Pinger — хранилище с проверкой соединения, например postgres.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewStorageChecker(p Pinger) *FuncChecker {
	return NewFuncChecker("storage", p.Ping)
}

// OutboxChecker помечает сервис degraded, когда backlog outbox слишком велик
// или слишком стар. Нулевые пороги отключают соответствующую проверку.
type OutboxChecker struct {
	repo       domain.OutboxReader
	maxPending int
	maxAge     time.Duration
	now        func() time.Time
}

func NewOutboxChecker(repo domain.OutboxReader, maxPending int, maxAge time.Duration) *OutboxChecker {
	return &OutboxChecker{repo: repo, maxPending: maxPending, maxAge: maxAge, now: time.Now}
}

func (c *OutboxChecker) Check(ctx context.Context) Check {
	return timed("outbox", func(check *Check) {
		stats, err := c.repo.Stats(ctx)
		if err != nil {
			check.Status, check.Message = StatusUnhealthy, err.Error()
			return
		}

		age := time.Duration(0)
		if !stats.OldestPendingAt.IsZero() {
			age = c.now().Sub(stats.OldestPendingAt)
		}
		switch {
		case c.maxPending > 0 && stats.PendingCount > c.maxPending:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d pending messages", stats.PendingCount)
		case c.maxAge > 0 && age > c.maxAge:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("oldest pending message is %s old", age.Round(time.Second))
		case stats.FailedCount > 0:
			check.Message = fmt.Sprintf("%d failed messages", stats.FailedCount)
		}
	})
}
