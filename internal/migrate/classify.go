package migrate

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Class is the outcome of a failed statement.
type Class int

const (
	// Failed is a genuine statement error, recorded and skipped.
	Failed Class = iota
	// AlreadyExists means the object the statement creates is already there.
	AlreadyExists
	// Connection means the database is unreachable and the run must stop.
	Connection
)

// Classifier maps driver errors to a Class using the driver's structured
// error codes.
type Classifier interface {
	Classify(err error) Class
}

// ClassifierFor returns the classifier for a gorm dialector name.
func ClassifierFor(dialect string) (Classifier, bool) {
	switch dialect {
	case "postgres", "pgx":
		return Postgres{}, true
	case "mysql":
		return MySQL{}, true
	case "sqlite", "sqlite3":
		return SQLite{}, true
	}
	return nil, false
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// postgres SQLSTATE codes for objects that already exist.
var pgAlreadyExists = map[string]bool{
	"42P07": true, // duplicate_table, also relations such as indexes
	"42701": true, // duplicate_column
	"42710": true, // duplicate_object, e.g. constraints
	"42P06": true, // duplicate_schema
	"42P04": true, // duplicate_database
	"42723": true, // duplicate_function
}

type Postgres struct{}

func (Postgres) Classify(err error) Class {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgAlreadyExists[pgErr.Code] {
			return AlreadyExists
		}
		// Class 08: connection exception.
		if strings.HasPrefix(pgErr.Code, "08") {
			return Connection
		}
		return Failed
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || isConnectionError(err) {
		return Connection
	}
	return Failed
}

// mysql server error numbers for objects that already exist.
var mysqlAlreadyExists = map[uint16]bool{
	1007: true, // ER_DB_CREATE_EXISTS
	1050: true, // ER_TABLE_EXISTS_ERROR
	1060: true, // ER_DUP_FIELDNAME
	1061: true, // ER_DUP_KEYNAME
	1826: true, // ER_FK_DUP_NAME
	3822: true, // ER_CHECK_CONSTRAINT_DUP_NAME
}

type MySQL struct{}

func (MySQL) Classify(err error) Class {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if mysqlAlreadyExists[myErr.Number] {
			return AlreadyExists
		}
		return Failed
	}
	if errors.Is(err, mysql.ErrInvalidConn) || isConnectionError(err) {
		return Connection
	}
	return Failed
}

// sqlite reports every schema conflict as the generic SQLITE_ERROR code, so
// within that code the fixed engine messages are the only discriminator.
var sqliteAlreadyExists = []string{
	"already exists",
	"duplicate column name",
}

type SQLite struct{}

func (SQLite) Classify(err error) Class {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrError:
			msg := liteErr.Error()
			for _, m := range sqliteAlreadyExists {
				if strings.Contains(msg, m) {
					return AlreadyExists
				}
			}
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return Connection
		}
		return Failed
	}
	if isConnectionError(err) {
		return Connection
	}
	return Failed
}
