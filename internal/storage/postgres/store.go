// Package postgres хранит клиентов, товары, заказы и outbox магазина в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает одиночный запрос вне транзакции.
const opTimeout = 5 * time.Second

// ErrStoreNotInitialized возвращается методами nil-Store или Store без пула.
var ErrStoreNotInitialized = errors.New("postgres store is not initialized")

type poolConfig struct {
	pingTimeout     time.Duration
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
}

func defaultPoolConfig() poolConfig {
	return poolConfig{
		pingTimeout:     5 * time.Second,
		maxOpenConns:    25,
		maxIdleConns:    25,
		connMaxLifetime: 30 * time.Minute,
		connMaxIdleTime: 5 * time.Minute,
	}
}

// Option меняет параметры пула соединений.
type Option func(*poolConfig)

// WithMaxOpenConns ограничивает число открытых соединений; простаивающих не больше этого же числа.
func WithMaxOpenConns(n int) Option {
	return func(c *poolConfig) {
		c.maxOpenConns = n
		c.maxIdleConns = n
	}
}

// WithConnMaxLifetime задаёт время жизни соединения.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *poolConfig) { c.connMaxLifetime = d }
}

// WithPingTimeout задаёт таймаут проверки соединения в Open и Ping.
func WithPingTimeout(d time.Duration) Option {
	return func(c *poolConfig) { c.pingTimeout = d }
}

// Store держит пул соединений с PostgreSQL и реализует domain.Transactor.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Open создаёт пул через драйвер pgx и дожидается ответа базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg := defaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connMaxLifetime)
	db.SetConnMaxIdleTime(cfg.connMaxIdleTime)

	store := &Store{db: db, pingTimeout: cfg.pingTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул, например для prometheus DBStatsCollector.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Ping используется readiness-пробой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
