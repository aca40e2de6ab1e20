package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

const (
	migrationsDir = "sql/migrations"
	// Ключ pg_advisory_lock, сериализующий параллельные запуски мигратора.
	migrationLockKey = int64(0x5354_4f52)

	createSchemaMigrationsSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    BIGINT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

// 0003_create_orders.up.sql -> (3, create_orders, up)
var migrationFileRE = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

type migration struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

// migrationSet — миграции, упорядоченные по версии.
type migrationSet []migration

// forward возвращает неприменённые миграции по возрастанию версии.
// steps <= 0 означает все.
func (ms migrationSet) forward(applied map[int64]bool, steps int) []migration {
	var plan []migration
	for _, m := range ms {
		if steps > 0 && len(plan) == steps {
			break
		}
		if !applied[m.version] {
			plan = append(plan, m)
		}
	}
	return plan
}

// backward возвращает применённые миграции от последней к первой.
// Версия, которой нет среди файлов, откатить нельзя.
func (ms migrationSet) backward(applied map[int64]bool, steps int) ([]migration, error) {
	versions := make([]int64, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	slices.Reverse(versions)

	var plan []migration
	for _, v := range versions {
		if steps > 0 && len(plan) == steps {
			break
		}
		i, found := slices.BinarySearchFunc(ms, v, func(m migration, target int64) int {
			return cmp.Compare(m.version, target)
		})
		if !found {
			return nil, fmt.Errorf("applied migration %d has no files to roll back", v)
		}
		plan = append(plan, ms[i])
	}
	return plan, nil
}

// MigrationStatus сводит состояние схемы.
type MigrationStatus struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет до steps миграций; 0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.runMigrations(ctx, "up", func(set migrationSet, applied map[int64]bool) ([]migration, error) {
		return set.forward(applied, steps), nil
	})
}

// MigrateDown откатывает steps последних миграций, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)
	return s.runMigrations(ctx, "down", func(set migrationSet, applied map[int64]bool) ([]migration, error) {
		return set.backward(applied, steps)
	})
}

// MigrationStatus читает schema_migrations и сравнивает с встроенными файлами.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	if s == nil || s.db == nil {
		return MigrationStatus{}, ErrStoreNotInitialized
	}
	set, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return MigrationStatus{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSchemaMigrationsSQL); err != nil {
		return MigrationStatus{}, fmt.Errorf("create schema_migrations: %w", err)
	}
	var st MigrationStatus
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).
		Scan(&st.Version, &st.Applied)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("read schema_migrations: %w", err)
	}
	st.Pending = max(len(set)-st.Applied, 0)
	return st, nil
}

type planFunc func(set migrationSet, applied map[int64]bool) ([]migration, error)

// runMigrations держит advisory lock на выделенном соединении на всё время прогона.
func (s *Store) runMigrations(ctx context.Context, direction string, plan planFunc) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	set, err := loadMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrator connection: %w", err)
	}
	defer conn.Close()

	return withAdvisoryLock(ctx, conn, func() error {
		if _, err := conn.ExecContext(ctx, createSchemaMigrationsSQL); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		steps, err := plan(set, applied)
		if err != nil {
			return err
		}

		logger := log.WithFields(log.Fields{"component": "migrator", "direction": direction})
		for _, m := range steps {
			started := time.Now()
			if err := execMigration(ctx, conn, m, direction); err != nil {
				return err
			}
			logger.WithFields(log.Fields{
				"migration": m.String(),
				"took":      time.Since(started).Round(time.Millisecond).String(),
			}).Info("migration applied")
		}
		return nil
	})
}

func withAdvisoryLock(ctx context.Context, conn *sql.Conn, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()
	return fn()
}

// execMigration выполняет тело миграции и правку schema_migrations одной транзакцией.
func execMigration(ctx context.Context, conn *sql.Conn, m migration, direction string) (err error) {
	body, bookkeeping, args := m.up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.version, m.name}
	if direction == "down" {
		body, bookkeeping, args = m.down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", direction, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("%s %s: %w", direction, m, err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("%s %s: update schema_migrations: %w", direction, m, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s %s: commit: %w", direction, m, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadMigrations читает пары NNNN_name.{up,down}.sql из каталога migrationsDir.
func loadMigrations(fsys fs.FS) (migrationSet, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsDir, err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationFileRE.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("unexpected file %q in %s", entry.Name(), migrationsDir)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("version of %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("%s is empty", entry.Name())
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version, name: parts[2]}
			byVersion[version] = m
		}
		if m.name != parts[2] {
			return nil, fmt.Errorf("version %d has conflicting names %q and %q", version, m.name, parts[2])
		}
		slot := &m.up
		if parts[3] == "down" {
			slot = &m.down
		}
		if *slot != "" {
			return nil, fmt.Errorf("version %d has two %s files", version, parts[3])
		}
		*slot = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migrations found")
	}

	set := make(migrationSet, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("%s needs both up and down files", m)
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return set, nil
}
