package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anzacash/internal/config"
)

const script = `
CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL);
ALTER TABLE users ADD COLUMN sponsor_id INTEGER REFERENCES users(id);
CREATE INDEX idx_users_sponsor_id ON users (sponsor_id);
ALTER TABLE users ADD COLUMN level INTEGR DEFAULT ;
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBDriver:                  config.DriverSQLite,
		DBPath:                    filepath.Join(t.TempDir(), "anza.db"),
		ReferralMaxDepth:          10,
		MigrationStatementTimeout: 5 * time.Second,
	}
}

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "001_referral.sql")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))
	return path
}

func TestRunReportsAndReruns(t *testing.T) {
	cfg := testConfig(t)
	file := writeScript(t)
	expect := "users,users.sponsor_id,users#idx_users_sponsor_id,users.level"

	for range 2 {
		var out bytes.Buffer
		code := run(context.Background(), cfg, file, expect, true, false, &out)
		assert.Equal(t, 0, code)

		var rep report
		require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
		assert.Equal(t, 3, rep.Summary.Completed)
		require.Len(t, rep.Summary.Errors, 1)
		assert.Equal(t, 4, rep.Summary.Errors[0].Ordinal)
		assert.Equal(t, []string{"users.level"}, rep.Missing)
	}

	var out bytes.Buffer
	code := run(context.Background(), cfg, file, expect, false, true, &out)
	assert.Equal(t, exitStrict, code)
	assert.Contains(t, out.String(), "3 statements completed (3 already applied), 1 failed")
	assert.Contains(t, out.String(), "MISSING")
}

func TestRunFatal(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	code := run(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.sql"), "", false, false, &out)
	assert.Equal(t, exitFatal, code)

	code = run(context.Background(), cfg, writeScript(t), "users.", false, false, &out)
	assert.Equal(t, exitFatal, code)

	bad := testConfig(t)
	bad.DBDriver = "oracle"
	code = run(context.Background(), bad, writeScript(t), "", false, false, &out)
	assert.Equal(t, exitFatal, code)
}
