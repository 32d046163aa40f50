package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/shopsaga/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "SHOPSAGA_POSTGRES_DSN"
	allServices    = "all"
)

// migrator описывает операции над схемой, которые нужны команде.
type migrator interface {
	MigrateUp(ctx context.Context, service string, steps int) error
	MigrateDown(ctx context.Context, service string, steps int) error
	MigrationStatus(ctx context.Context, service string) (int64, int, error)
}

var _ migrator = (*postgres.Store)(nil)

func main() {
	var (
		direction string
		service   string
		steps     int
		dsn       string
	)

	_ = godotenv.Load()

	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flag.StringVar(&service, "service", allServices, "migration set: order|stock|payment|all")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.Parse()

	services, err := parseServices(service)
	if err != nil {
		fail("%v", err)
	}

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if dsn == "" {
		fail("%s (or -dsn) is required", envPostgresDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	for _, name := range services {
		if err := migrateService(ctx, dsn, name, direction, steps); err != nil {
			fail("%v", err)
		}
	}
}

// migrateService подключается к базе одного сервиса и применяет к ней команду.
func migrateService(ctx context.Context, dsn, service, direction string, steps int) error {
	store, err := postgres.Open(ctx, dsn, service)
	if err != nil {
		return fmt.Errorf("open %s postgres store: %w", service, err)
	}
	defer store.Close()

	return runMigration(ctx, store, direction, []string{service}, steps, os.Stdout)
}

// parseServices раскрывает "all" в порядок order, stock, payment.
func parseServices(raw string) ([]string, error) {
	switch name := strings.ToLower(strings.TrimSpace(raw)); name {
	case "", allServices:
		return []string{postgres.ServiceOrder, postgres.ServiceStock, postgres.ServicePayment}, nil
	case postgres.ServiceOrder, postgres.ServiceStock, postgres.ServicePayment:
		return []string{name}, nil
	default:
		return nil, fmt.Errorf("%w: %s (use order|stock|payment|all)", postgres.ErrUnknownService, raw)
	}
}

func runMigration(ctx context.Context, m migrator, direction string, services []string, steps int, out io.Writer) error {
	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}
	if len(services) == 0 {
		return errors.New("no migration services selected")
	}

	for _, service := range services {
		switch direction {
		case "up":
			if err := m.MigrateUp(ctx, service, steps); err != nil {
				return fmt.Errorf("migrate up %s failed: %w", service, err)
			}
		case "down":
			if err := m.MigrateDown(ctx, service, steps); err != nil {
				return fmt.Errorf("migrate down %s failed: %w", service, err)
			}
		}

		version, count, err := m.MigrationStatus(ctx, service)
		if err != nil {
			return fmt.Errorf("migration status %s failed: %w", service, err)
		}
		if direction == "status" {
			_, _ = fmt.Fprintf(out, "migration status %s: version=%d applied=%d\n", service, version, count)
		} else {
			_, _ = fmt.Fprintf(out, "migrate %s %s ok: version=%d applied=%d\n", direction, service, version, count)
		}
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
