package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anzacash/internal/database/dbtest"
	"anzacash/internal/migrate"
)

func sqliteRunner(t *testing.T) (*migrate.Runner, *sql.DB) {
	t.Helper()
	gdb := dbtest.OpenEmpty(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	return migrate.NewRunner(sqlDB, migrate.SQLite{}, time.Second), sqlDB
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	runner, _ := sqliteRunner(t)
	statements := []string{"CREATE TABLE t (id INT)", "CREATE TABLE t (id INT)"}

	for run := 1; run <= 2; run++ {
		summary, err := runner.Run(context.Background(), statements)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Completed, "run %d", run)
		assert.Empty(t, summary.Errors, "run %d", run)
	}
}

func TestRunCollectsStatementErrors(t *testing.T) {
	runner, sqlDB := sqliteRunner(t)
	statements := []string{
		"CREATE TABLE a (id INT)",
		"CREATE TABLE b (id INT)",
		"CREAT TABEL oops (",
		"ALTER TABLE a ADD COLUMN name TEXT",
		"CREATE INDEX idx_a_name ON a (name)",
	}

	summary, err := runner.Run(context.Background(), statements)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Completed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 3, summary.Errors[0].Ordinal)
	assert.Equal(t, "CREAT TABEL oops (", summary.Errors[0].Statement)
	assert.NotEmpty(t, summary.Errors[0].Error)

	// Later statements ran despite the failure.
	var n int
	require.NoError(t, sqlDB.QueryRow("SELECT count(*) FROM sqlite_master WHERE name = 'idx_a_name'").Scan(&n))
	assert.Equal(t, 1, n)

	// A second pass skips everything already applied and fails the same way.
	summary, err = runner.Run(context.Background(), statements)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 4, summary.Skipped)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 3, summary.Errors[0].Ordinal)
}

func TestRunFile(t *testing.T) {
	runner, _ := sqliteRunner(t)
	path := filepath.Join(t.TempDir(), "001_referral.sql")
	script := `
CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT);
-- guarded by the runner on re-runs
ALTER TABLE users ADD COLUMN sponsor_id INTEGER;
CREATE UNIQUE INDEX idx_users_username ON users (username);
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))

	for range 2 {
		summary, err := runner.RunFile(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Completed)
		assert.Empty(t, summary.Errors)
	}

	_, err := runner.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.sql"))
	assert.Error(t, err)
}

func TestRunAbortsOnConnectionLoss(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnError(&pgconn.PgError{Code: "42P07", Message: `relation "a" already exists`})
	mock.ExpectExec("CREATE TABLE b (id INT)").
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})

	runner := migrate.NewRunner(db, migrate.Postgres{}, time.Second)
	summary, err := runner.Run(context.Background(), []string{
		"CREATE TABLE a (id INT)",
		"CREATE TABLE a (id INT)",
		"CREATE TABLE b (id INT)",
		"CREATE TABLE c (id INT)",
	})

	var connErr *migrate.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Ordinal)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFailsWhenPingFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("no route to host"))

	runner := migrate.NewRunner(db, migrate.Postgres{}, time.Second)
	summary, err := runner.Run(context.Background(), []string{"CREATE TABLE a (id INT)"})

	var connErr *migrate.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Zero(t, connErr.Ordinal)
	assert.Zero(t, summary.Completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStatementTimeout(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SELECT pg_sleep(10)").WillDelayFor(time.Second).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))

	runner := migrate.NewRunner(db, migrate.Postgres{}, 50*time.Millisecond)
	summary, err := runner.Run(context.Background(), []string{"SELECT pg_sleep(10)", "CREATE TABLE a (id INT)"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 1, summary.Errors[0].Ordinal)
}

func TestVerify(t *testing.T) {
	gdb := dbtest.OpenEmpty(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	runner := migrate.NewRunner(sqlDB, migrate.SQLite{}, time.Second)
	_, err = runner.Run(context.Background(), []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, sponsor_id INTEGER)",
		"CREATE INDEX idx_users_sponsor_id ON users (sponsor_id)",
	})
	require.NoError(t, err)

	expectations, err := migrate.ParseExpectations("users, users.sponsor_id, users#idx_users_sponsor_id, users.level, payments")
	require.NoError(t, err)

	checks := migrate.Verify(gdb.Migrator(), expectations)
	require.Len(t, checks, 5)
	assert.True(t, checks[0].Present)
	assert.True(t, checks[1].Present)
	assert.True(t, checks[2].Present)

	missing := migrate.Missing(checks)
	require.Len(t, missing, 2)
	assert.Equal(t, "users.level", missing[0].String())
	assert.Equal(t, "payments", missing[1].String())
}

func TestParseExpectationsRejectsMalformed(t *testing.T) {
	for _, s := range []string{".col", "users.", "#idx", "users#"} {
		_, err := migrate.ParseExpectations(s)
		assert.Error(t, err, s)
	}
}
