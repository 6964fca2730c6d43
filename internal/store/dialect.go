package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	// Database drivers for the supported store backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"
)

// dialect captures the DDL and insert-id differences between the supported
// backends. Query placeholders are written as '?' and rebound per driver via
// sqlx.Rebind.
type dialect struct {
	// name is the keygate driver name (config value).
	name string
	// driverName is the database/sql registration name.
	driverName string
	// identityPK is the primary key column clause for auto-assigned int64 ids.
	identityPK string
	// str is the bounded string type used for indexed/unique columns.
	str string
	// text is the unbounded string type for blobs like logged bodies.
	text string
	// timestamp is the column type for time.Time values.
	timestamp string
	// returning selects the insert-id strategy: "last" (LastInsertId),
	// "returning" (RETURNING id), "output" (OUTPUT INSERTED.id), or
	// "returning_into" (RETURNING id INTO :out).
	returning string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		identityPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
		str:        "TEXT",
		text:       "TEXT",
		timestamp:  "DATETIME",
		returning:  "last",
	},
	"postgres": {
		name:       "postgres",
		driverName: "pgx",
		identityPK: "BIGSERIAL PRIMARY KEY",
		str:        "VARCHAR(255)",
		text:       "TEXT",
		timestamp:  "TIMESTAMPTZ",
		returning:  "returning",
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		identityPK: "BIGINT AUTO_INCREMENT PRIMARY KEY",
		str:        "VARCHAR(255)",
		text:       "TEXT",
		timestamp:  "DATETIME(6)",
		returning:  "last",
	},
	"mssql": {
		name:       "mssql",
		driverName: "sqlserver",
		identityPK: "BIGINT IDENTITY(1,1) PRIMARY KEY",
		str:        "NVARCHAR(255)",
		text:       "NVARCHAR(MAX)",
		timestamp:  "DATETIME2",
		returning:  "output",
	},
	"oracle": {
		name:       "oracle",
		driverName: "oracle",
		identityPK: "NUMBER(19) GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
		str:        "VARCHAR2(255)",
		text:       "CLOB",
		timestamp:  "TIMESTAMP",
		returning:  "returning_into",
	},
}

func init() {
	// sqlx does not know the bindvar styles of every registered driver.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	sqlx.BindDriver("oracle", sqlx.NAMED)
}

// limitSelect caps a SELECT statement at n rows using the backend's syntax.
// n comes from validated code paths, never user input.
func (d dialect) limitSelect(q string, n int) string {
	switch d.name {
	case "mssql":
		return strings.Replace(q, "SELECT ", fmt.Sprintf("SELECT TOP (%d) ", n), 1)
	case "oracle":
		return fmt.Sprintf("%s FETCH FIRST %d ROWS ONLY", q, n)
	default:
		return fmt.Sprintf("%s LIMIT %d", q, n)
	}
}

// dialectFor resolves a configured driver name.
func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q (supported: %s)", driver, strings.Join(SupportedDrivers(), ", "))
	}
	return d, nil
}

// SupportedDrivers lists the configurable store backends.
func SupportedDrivers() []string {
	return []string{"sqlite", "postgres", "mysql", "mssql", "oracle"}
}

// isDuplicateErr reports whether a database error is a unique constraint
// violation. Matching on message text is the portable option across five
// drivers; the strings cover sqlite, postgres, mysql, mssql, and oracle.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "violation of unique") ||
		strings.Contains(msg, "ora-00001")
}

// isAlreadyExistsErr reports whether a DDL error means the object already
// exists, which the idempotent migration loop treats as a no-op.
func isAlreadyExistsErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already an object") ||
		strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "ora-00955")
}
