package postgres

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsFromFS_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/order/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
		"sql/migrations/order/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_a;"),
		},
		"sql/migrations/order/0002_more.up.sql": {
			Data: []byte("CREATE TABLE test_b (id INT);"),
		},
		"sql/migrations/order/0002_more.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_b;"),
		},
		"sql/migrations/stock/0001_other.up.sql": {
			Data: []byte("CREATE TABLE test_c (id INT);"),
		},
		"sql/migrations/stock/0001_other.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_c;"),
		},
	}

	migrations, err := loadMigrationsFromFS(fsys, ServiceOrder)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrationsFromFS_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/payment/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
	}

	_, err := loadMigrationsFromFS(fsys, ServicePayment)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsFromFS_InvalidFilename(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/stock/not_a_migration.sql": {
			Data: []byte("SELECT 1;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys, ServiceStock)
	if err == nil {
		t.Fatal("expected error for invalid migration file name")
	}
}

func TestLoadMigrationsFromFS_EmptyFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/order/0001_init.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/order/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys, ServiceOrder)
	if err == nil {
		t.Fatal("expected error for empty migration file body")
	}
}

func TestLoadMigrationsFromFS_NoFilesForService(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/order/0001_init.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/migrations/order/0001_init.down.sql": {Data: []byte("SELECT 1;")},
	}

	if _, err := loadMigrationsFromFS(fsys, ServicePayment); err == nil {
		t.Fatal("expected error when service has no migrations")
	}
}

func TestEmbeddedMigrations_AllServices(t *testing.T) {
	t.Parallel()

	for _, service := range []string{ServiceOrder, ServiceStock, ServicePayment} {
		migrations, err := loadMigrationsFromFS(migrationsFS, service)
		if err != nil {
			t.Fatalf("%s: load embedded migrations: %v", service, err)
		}
		if len(migrations) == 0 || migrations[0].Version != 1 {
			t.Fatalf("%s: unexpected migrations: %+v", service, migrations)
		}
	}
}

func TestMigrationTable(t *testing.T) {
	t.Parallel()

	orderTable, orderKey, err := migrationTable(ServiceOrder)
	if err != nil {
		t.Fatalf("order table: %v", err)
	}
	stockTable, stockKey, err := migrationTable(ServiceStock)
	if err != nil {
		t.Fatalf("stock table: %v", err)
	}
	if orderTable != "schema_migrations_order" || stockTable != "schema_migrations_stock" {
		t.Fatalf("unexpected tables: %s %s", orderTable, stockTable)
	}
	if orderKey == stockKey {
		t.Fatalf("services must not share advisory lock key %d", orderKey)
	}

	if _, _, err := migrationTable("billing"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}
