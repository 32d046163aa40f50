package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	applicationNameParam = "application_name"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// poolSize задаёт размер пула по сервису: склад держит строки под FOR UPDATE
// и конкурирует за соединения чаще остальных.
var poolSize = map[string]int{
	ServiceOrder:   20,
	ServiceStock:   30,
	ServicePayment: 10,
}

// Store владеет базой одного сервиса: её подключением и её набором миграций.
type Store struct {
	db      *sql.DB
	service string
}

// Open подключается к базе сервиса и проверяет её доступность. Сессии
// подписываются application_name вида shopsaga-<service>, если DSN не задаёт
// своё имя.
func Open(ctx context.Context, dsn, service string) (*Store, error) {
	if _, _, err := migrationTable(service); err != nil {
		return nil, err
	}
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := connConfig.RuntimeParams[applicationNameParam]; !ok {
		connConfig.RuntimeParams[applicationNameParam] = "shopsaga-" + service
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(poolSize[service])
	db.SetMaxIdleConns(poolSize[service])
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s postgres: %w", service, err)
	}

	return &Store{db: db, service: service}, nil
}

// NewStore оборачивает уже открытое подключение базы сервиса.
func NewStore(db *sql.DB, service string) *Store {
	return &Store{db: db, service: service}
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Service возвращает сервис, которому принадлежит база.
func (s *Store) Service() string {
	if s == nil {
		return ""
	}
	return s.service
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции сервиса, которому принадлежит база.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	return s.MigrateUp(ctx, s.service, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
