package migrate

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifiers(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	testCases := []struct {
		name       string
		classifier Classifier
		err        error
		want       Class
	}{
		{"pg duplicate table", Postgres{}, &pgconn.PgError{Code: "42P07"}, AlreadyExists},
		{"pg duplicate column", Postgres{}, &pgconn.PgError{Code: "42701"}, AlreadyExists},
		{"pg duplicate constraint", Postgres{}, fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42710"}), AlreadyExists},
		{"pg syntax error", Postgres{}, &pgconn.PgError{Code: "42601"}, Failed},
		{"pg unique violation is data", Postgres{}, &pgconn.PgError{Code: "23505"}, Failed},
		{"pg admin shutdown class 08", Postgres{}, &pgconn.PgError{Code: "08006"}, Connection},
		{"pg dial", Postgres{}, dial, Connection},
		{"mysql table exists", MySQL{}, &mysql.MySQLError{Number: 1050}, AlreadyExists},
		{"mysql dup column", MySQL{}, &mysql.MySQLError{Number: 1060}, AlreadyExists},
		{"mysql dup key name", MySQL{}, &mysql.MySQLError{Number: 1061}, AlreadyExists},
		{"mysql dup fk", MySQL{}, &mysql.MySQLError{Number: 1826}, AlreadyExists},
		{"mysql dup entry is data", MySQL{}, &mysql.MySQLError{Number: 1062}, Failed},
		{"mysql parse error", MySQL{}, &mysql.MySQLError{Number: 1064}, Failed},
		{"mysql invalid conn", MySQL{}, mysql.ErrInvalidConn, Connection},
		{"mysql bad conn", MySQL{}, driver.ErrBadConn, Connection},
		{"sqlite plain error", SQLite{}, errors.New("table t already exists"), Failed},
		{"sqlite dial", SQLite{}, dial, Connection},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.classifier.Classify(tc.err))
		})
	}
}

func TestClassifierFor(t *testing.T) {
	for _, name := range []string{"postgres", "mysql", "sqlite"} {
		c, ok := ClassifierFor(name)
		assert.True(t, ok, name)
		assert.NotNil(t, c)
	}
	_, ok := ClassifierFor("clickhouse")
	assert.False(t, ok)
}
