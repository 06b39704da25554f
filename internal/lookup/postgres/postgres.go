// Package postgres loads lookup indexes from Postgres with pgx. It registers
// the "postgres" kind.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"tabsplit/internal/config"
	"tabsplit/internal/lookup"
)

// Config describes one query-backed index.
type Config struct {
	DSN    string // connection string for pgxpool
	Query  string // must select exactly two columns: key, value
	IntKey bool
}

// Load runs cfg.Query and collects its rows into a Map. Values of any column
// type are formatted with fmt.Sprint; NULL keys or values are skipped.
func Load(ctx context.Context, cfg Config) (lookup.Map, error) {
	if cfg.DSN == "" || cfg.Query == "" {
		return nil, fmt.Errorf("postgres: dsn and query are required")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	if n := len(rows.FieldDescriptions()); n != 2 {
		return nil, fmt.Errorf("postgres: query must select 2 columns, got %d", n)
	}

	m := lookup.Map{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: values: %w", err)
		}
		if vals[0] == nil || vals[1] == nil {
			continue
		}
		_ = m.Put(fmt.Sprint(vals[0]), fmt.Sprint(vals[1]), cfg.IntKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return m, nil
}

func init() {
	lookup.Register("postgres", func(ctx context.Context, opts config.Options) (lookup.Map, error) {
		return Load(ctx, Config{
			DSN:    opts.String("dsn", ""),
			Query:  opts.String("query", ""),
			IntKey: opts.Bool("int_key", false),
		})
	})
}
