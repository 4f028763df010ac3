package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "dev.yaml"), []byte(yaml), 0o644))
	for _, k := range []string{"ENV_NAME", "STORE_BACKEND", "SQLITE_PATH", "DATABASE_URL", "CACHE_BACKEND", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"], "serve subcommand missing")
	assert.True(t, names["migrate"], "migrate subcommand missing")
	assert.NotNil(t, root.PersistentFlags().Lookup("config-dir"))
}

// TestMigrate_SQLite verifies migrate creates the database file for the sqlite backend.
func TestMigrate_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "records.db")
	dir := writeConfig(t, "log:\n  level: ERROR\nstore:\n  backend: sqlite\n  sqlite:\n    path: "+dbPath+"\n")

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config-dir", dir})
	require.NoError(t, root.Execute())

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "sqlite database not created")
}

func TestMigrate_MemoryBackendHasNoSchema(t *testing.T) {
	dir := writeConfig(t, "log:\n  level: ERROR\nstore:\n  backend: memory\n")

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config-dir", dir})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errNoSchema), "error = %v", err)
}

func TestRootCmd_BadConfig(t *testing.T) {
	dir := writeConfig(t, "store:\n  backend: cassandra\n")

	var stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config-dir", dir})
	root.SetErr(&stderr)
	require.Error(t, root.Execute())
	assert.Contains(t, stderr.String(), "store.backend")
}
