package sqlsrc

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"tabsplit/internal/config"
	"tabsplit/internal/lookup"
)

// seedSQLite creates a sentences table in a fresh SQLite file and returns
// its DSN.
func seedSQLite(t *testing.T) string {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "lookup.db")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE sentences (id INTEGER, lang TEXT)`,
		`INSERT INTO sentences VALUES (1, 'eng'), (2, 'fra'), (3, NULL), (4, 'deu')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return dsn
}

func TestLoad_SQLite(t *testing.T) {
	t.Parallel()

	// Arrange
	dsn := seedSQLite(t)

	// Act
	m, err := Load(context.Background(), Config{
		Driver: "sqlite",
		DSN:    dsn,
		Query:  "SELECT id, lang FROM sentences",
		IntKey: true,
	})

	// Assert
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := lookup.Map{"1": "eng", "2": "fra", "4": "deu"}
	if !reflect.DeepEqual(m, want) {
		t.Fatalf("map = %#v, want %#v", m, want)
	}
}

func TestLoad_Registered(t *testing.T) {
	t.Parallel()

	dsn := seedSQLite(t)
	m, err := lookup.Load(context.Background(), config.Index{
		Kind: "sqlite",
		Options: config.Options{
			"dsn":   dsn,
			"query": "SELECT lang, id FROM sentences WHERE lang IS NOT NULL",
		},
	})
	if err != nil {
		t.Fatalf("lookup.Load: %v", err)
	}
	if v, ok := m.Lookup("fra"); !ok || v != "2" {
		t.Fatalf("Lookup(fra) = %q, %v", v, ok)
	}

	kinds := strings.Join(lookup.Kinds(), ",")
	for _, k := range []string{"mssql", "mysql", "sqlite"} {
		if !strings.Contains(kinds, k) {
			t.Fatalf("kind %q not registered: %s", k, kinds)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dsn := seedSQLite(t)
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty dsn", Config{Driver: "sqlite", Query: "SELECT 1, 2"}, "DSN must not be empty"},
		{"empty query", Config{Driver: "sqlite", DSN: dsn}, "query must not be empty"},
		{"wrong column count", Config{Driver: "sqlite", DSN: dsn, Query: "SELECT id FROM sentences"}, "must select 2 columns"},
		{"bad sql", Config{Driver: "sqlite", DSN: dsn, Query: "SELECT FROM"}, "query"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(context.Background(), c.cfg)
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("Load() error = %v, want containing %q", err, c.want)
			}
		})
	}
}
