package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv points the CLI at a fresh SQLite database without a cloud client.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(dir, "expensia.db"))
	t.Setenv("GOOGLE_OAUTH_CLIENT_ID", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_SECRET", "")
	t.Setenv("GOOGLE_OAUTH_CLIENT_FILE", "")
	t.Setenv("AUTO_BACKUP_MODE", "inprocess")
	t.Setenv("AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExportImport(t *testing.T) {
	dir := testEnv(t)
	file := filepath.Join(dir, "export.json")

	out, err := run(t, "export", "-o", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported to")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"budgetSettings"`)

	_, err = run(t, "import", file)
	assert.ErrorIs(t, err, errNotConfirmed)

	out, err = run(t, "import", "--yes", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 0 expenses")
}

func TestImportRejectsInvalidFile(t *testing.T) {
	dir := testEnv(t)
	file := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"expenses":[]}`), 0600))

	_, err := run(t, "import", "-y", file)
	assert.Error(t, err)
}

func TestAutoBackupAndStatus(t *testing.T) {
	testEnv(t)

	_, err := run(t, "auto-backup", "maybe")
	assert.Error(t, err)

	out, err := run(t, "auto-backup", "on")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-backup on")

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-backup")
	assert.Contains(t, out, "on")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "not configured")
}

func TestCloudCommandsNeedClient(t *testing.T) {
	testEnv(t)

	for _, args := range [][]string{{"auth"}, {"signout"}, {"probe"}, {"backup"}, {"restore", "--yes"}} {
		_, err := run(t, args...)
		assert.ErrorIs(t, err, errCloudDisabled, args[0])
	}

	_, err := run(t, "restore")
	assert.ErrorIs(t, err, errNotConfirmed)
}
