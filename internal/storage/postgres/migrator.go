package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Наборы миграций по сервисам.
const (
	ServiceOrder   = "order"
	ServiceStock   = "stock"
	ServicePayment = "payment"
)

const (
	migrationsRoot   = "sql/migrations"
	migrationLockKey = int64(10824701)
)

var (
	//go:embed sql/migrations
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

	migrationServices = []string{ServiceOrder, ServiceStock, ServicePayment}
)

// ErrUnknownService — для сервиса нет набора миграций.
var ErrUnknownService = errors.New("unknown migration service")

// migrationTable возвращает имя таблицы версий сервиса и ключ advisory lock.
func migrationTable(service string) (string, int64, error) {
	for i, known := range migrationServices {
		if known == service {
			return "schema_migrations_" + service, migrationLockKey + int64(i), nil
		}
	}
	return "", 0, fmt.Errorf("%w: %q", ErrUnknownService, service)
}

func migrationTableDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, table)
}

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type migrationBuilder struct {
	version int64
	name    string
	upSQL   string
	downSQL string
}

// migrationConn держит соединение под advisory lock и таблица версий сервиса.
type migrationConn struct {
	conn  *sql.Conn
	table string
}

// MigrateUp применяет up-миграции сервиса.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, service string, steps int) error {
	return s.migrate(ctx, service, migrationUp, steps)
}

// MigrateDown откатывает миграции сервиса.
// steps<=0 интерпретируется как 1 шаг для безопасного поведения.
func (s *Store) MigrateDown(ctx context.Context, service string, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, service, migrationDown, steps)
}

// MigrationStatus возвращает текущую версию и количество применённых миграций сервиса.
func (s *Store) MigrationStatus(ctx context.Context, service string) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}
	table, _, err := migrationTable(service)
	if err != nil {
		return 0, 0, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL(table)); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.db.QueryRowContext(queryCtx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0), COUNT(*)
		FROM %s
	`, table)).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

func (s *Store) migrate(ctx context.Context, service string, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	table, lockKey, err := migrationTable(service)
	if err != nil {
		return err
	}

	migrations, err := loadMigrationsFromFS(migrationsFS, service)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL(table)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	mc := migrationConn{conn: conn, table: table}
	switch direction {
	case migrationUp:
		return mc.applyUp(ctx, migrations, steps)
	case migrationDown:
		return mc.applyDown(ctx, migrations, steps)
	default:
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}
}

func (mc migrationConn) applyUp(ctx context.Context, migrations []migration, steps int) error {
	applied, err := mc.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}

	appliedSteps := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := mc.applyOneUp(ctx, m); err != nil {
			return err
		}
		appliedSteps++
		if steps > 0 && appliedSteps >= steps {
			break
		}
	}

	return nil
}

func (mc migrationConn) applyDown(ctx context.Context, migrations []migration, steps int) error {
	versionMap := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		versionMap[m.Version] = m
	}

	versions, err := mc.loadAppliedVersionsDesc(ctx, steps)
	if err != nil {
		return err
	}

	for _, version := range versions {
		m, ok := versionMap[version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		if err := mc.applyOneDown(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

func (mc migrationConn) applyOneUp(ctx context.Context, m migration) error {
	tx, err := mc.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (up %d): %w", m.Version, err)
	}

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute up migration %d_%s: %w", m.Version, m.Name, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at)
		VALUES ($1, $2, NOW())
	`, mc.table), m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record up migration %d_%s: %w", m.Version, m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit up migration %d_%s: %w", m.Version, m.Name, err)
	}

	return nil
}

func (mc migrationConn) applyOneDown(ctx context.Context, m migration) error {
	tx, err := mc.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (down %d): %w", m.Version, err)
	}

	if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute down migration %d_%s: %w", m.Version, m.Name, err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, mc.table), m.Version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete migration record %d_%s: %w", m.Version, m.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit down migration %d_%s: %w", m.Version, m.Name, err)
	}

	return nil
}

func (mc migrationConn) loadAppliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := mc.conn.QueryContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, mc.table))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		result[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return result, nil
}

func (mc migrationConn) loadAppliedVersionsDesc(ctx context.Context, limit int) ([]int64, error) {
	rows, err := mc.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT version
		FROM %s
		ORDER BY version DESC
		LIMIT $1
	`, mc.table), limit)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations desc: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration desc: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations desc: %w", err)
	}

	return versions, nil
}

// loadMigrationsFromFS читает пары up/down из sql/migrations/<service>.
func loadMigrationsFromFS(fsys fs.FS, service string) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsRoot, service, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found for %s", service)
	}

	builders := make(map[int64]*migrationBuilder)
	for _, file := range files {
		base := path.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name := matches[2]
		direction := matches[3]

		bodyRaw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(bodyRaw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		builder, ok := builders[version]
		if !ok {
			builder = &migrationBuilder{version: version, name: name}
			builders[version] = builder
		} else if builder.name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, builder.name, name)
		}

		switch direction {
		case "up":
			if builder.upSQL != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			builder.upSQL = body
		case "down":
			if builder.downSQL != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			builder.downSQL = body
		default:
			return nil, fmt.Errorf("unsupported migration direction in file: %s", base)
		}
	}

	versions := make([]int64, 0, len(builders))
	for version := range builders {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	migrations := make([]migration, 0, len(versions))
	for _, version := range versions {
		b := builders[version]
		if b.upSQL == "" || b.downSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", b.version, b.name)
		}
		migrations = append(migrations, migration{
			Version: b.version,
			Name:    b.name,
			UpSQL:   b.upSQL,
			DownSQL: b.downSQL,
		})
	}

	return migrations, nil
}
