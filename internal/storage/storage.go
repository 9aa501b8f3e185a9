package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavor of the backing store. The schema is kept
// portable between sqlite and postgres; the only divergence is placeholder
// syntax, handled by Rebind.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Rebind rewrites ?-style placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open connects to the configured store and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	var driverName string
	var dialect Dialect

	switch driver {
	case "sqlite3", "sqlite":
		driverName = "sqlite3"
		dialect = DialectSQLite
	case "postgres", "pgx":
		driverName = "pgx"
		dialect = DialectPostgres
	default:
		return nil, "", fmt.Errorf("unsupported storage driver: %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", err
	}

	return db, dialect, nil
}
