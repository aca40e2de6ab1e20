// Команда migrate применяет и откатывает SQL-миграции схемы storefront.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const envPostgresDSN = "STOREFRONT_POSTGRES_DSN"

// migrator — часть postgres.Store, нужная командам.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationStatus, error)
}

var actions = map[string]func(ctx context.Context, m migrator, steps int) error{
	"up":     func(ctx context.Context, m migrator, steps int) error { return m.MigrateUp(ctx, steps) },
	"down":   func(ctx context.Context, m migrator, steps int) error { return m.MigrateDown(ctx, steps) },
	"status": func(context.Context, migrator, int) error { return nil },
}

type options struct {
	action  string
	steps   int
	dsn     string
	timeout time.Duration
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("migrate: invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		log.WithError(err).Fatal("migrate: open postgres")
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		_ = store.Close()
		log.WithError(err).WithField("action", opts.action).Fatal("migrate failed")
	}
}

// parseOptions принимает действие первым позиционным аргументом или флагом -direction.
// DSN без -dsn берётся из STOREFRONT_POSTGRES_DSN.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	opts := options{action: "up"}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.action, "direction", opts.action, "up, down or status")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	fs.StringVar(&opts.dsn, "dsn", "", "postgres DSN, defaults to $"+envPostgresDSN)
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		opts.action = rest[0]
	default:
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(rest[1:], " "))
	}

	var errs []error
	opts.action = strings.ToLower(strings.TrimSpace(opts.action))
	if _, ok := actions[opts.action]; !ok {
		names := make([]string, 0, len(actions))
		for name := range actions {
			names = append(names, name)
		}
		slices.Sort(names)
		errs = append(errs, fmt.Errorf("unknown action %q, want one of %s", opts.action, strings.Join(names, ", ")))
	}
	if opts.steps < 0 {
		errs = append(errs, errors.New("-steps must not be negative"))
	}
	if opts.timeout <= 0 {
		errs = append(errs, errors.New("-timeout must be positive"))
	}
	opts.dsn = cmp.Or(strings.TrimSpace(opts.dsn), strings.TrimSpace(getenv(envPostgresDSN)))
	if opts.dsn == "" {
		errs = append(errs, fmt.Errorf("postgres DSN is required: pass -dsn or set %s", envPostgresDSN))
	}
	if err := errors.Join(errs...); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run выполняет действие и печатает итоговое состояние схемы.
func run(ctx context.Context, m migrator, opts options, out io.Writer) error {
	if err := actions[opts.action](ctx, m, opts.steps); err != nil {
		return fmt.Errorf("%s: %w", opts.action, err)
	}

	st, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: schema version %d, %d applied, %d pending\n",
		opts.action, st.Version, st.Applied, st.Pending)
	return err
}
