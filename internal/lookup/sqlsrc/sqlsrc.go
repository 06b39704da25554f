// Package sqlsrc loads lookup indexes from a two-column SQL query through
// database/sql. It registers the "sqlite", "mssql" and "mysql" kinds.
package sqlsrc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tabsplit/internal/config"
	"tabsplit/internal/lookup"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// drivers maps lookup kinds to database/sql driver names.
var drivers = map[string]string{
	"sqlite": "sqlite",
	"mssql":  "sqlserver",
	"mysql":  "mysql",
}

// pingTimeout bounds the connection check done before querying.
const pingTimeout = 5 * time.Second

// Config describes one query-backed index.
type Config struct {
	Driver string // database/sql driver name
	DSN    string
	Query  string // must select exactly two columns: key, value
	IntKey bool
}

// Load runs cfg.Query and collects its rows into a Map. Rows with a NULL key
// or value are skipped, as are non-integer keys when IntKey is set.
func Load(ctx context.Context, cfg Config) (lookup.Map, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", cfg.Driver)
	}
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("%s: query must not be empty", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", cfg.Driver, err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", cfg.Driver, err)
	}

	rows, err := db.QueryContext(ctx, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", cfg.Driver, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: columns: %w", cfg.Driver, err)
	}
	if len(cols) != 2 {
		return nil, fmt.Errorf("%s: query must select 2 columns, got %d", cfg.Driver, len(cols))
	}

	m := lookup.Map{}
	for rows.Next() {
		var k, v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", cfg.Driver, err)
		}
		if !k.Valid || !v.Valid {
			continue
		}
		// A key that does not parse can never match a coerced field value.
		_ = m.Put(k.String, v.String, cfg.IntKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", cfg.Driver, err)
	}
	return m, nil
}

func init() {
	for kind, driver := range drivers {
		driver := driver
		lookup.Register(kind, func(ctx context.Context, opts config.Options) (lookup.Map, error) {
			return Load(ctx, Config{
				Driver: driver,
				DSN:    opts.String("dsn", ""),
				Query:  opts.String("query", ""),
				IntKey: opts.Bool("int_key", false),
			})
		})
	}
}
