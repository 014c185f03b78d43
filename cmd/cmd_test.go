package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/store"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return buf.String()
}

func writeSQLiteConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "jarvis.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	content := "store:\n  driver: sqlite\n  dsn: " + dbPath + "\n  poolSize: 1\n" +
		"gc:\n  minAge: 1h\n  maxAge: 168h\n  keepLatest: 0\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath, dbPath
}

func TestGCAndStatus(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)

	st, err := store.Open(store.DriverSQLite, dbPath, 1)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, st.InsertConversation(ctx, conversation.New(1, 7, "note", now.Add(-2*time.Hour))))
	require.NoError(t, st.InsertConversation(ctx, conversation.New(2, 7, "note", now.Add(-time.Minute))))
	require.NoError(t, st.Close())

	out := execute(t, "--config", cfgPath, "gc", "--dry-run")
	assert.Contains(t, out, "chat 7 conversation 1")
	assert.Contains(t, out, "2 scanned, 1 would be deleted")

	out = execute(t, "--config", cfgPath, "gc", "--dry-run=false")
	assert.Contains(t, out, "2 scanned, 1 deleted")

	out = execute(t, "--config", cfgPath, "status")
	assert.Contains(t, out, "Store: sqlite, conversations in sql")
	assert.Contains(t, out, "Telegram: no token")
	assert.Contains(t, out, "Stored conversations: 1")
}

func TestInitWritesConfigAndCommands(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfgPath := filepath.Join(dir, "config.json")

	out := execute(t, "--config", cfgPath, "init")
	assert.Contains(t, out, "Created config at "+cfgPath)
	assert.FileExists(t, cfgPath)
	assert.FileExists(t, filepath.Join(dir, "commands.yaml"))

	out = execute(t, "--config", cfgPath, "init")
	assert.Contains(t, out, "Config already exists")
}

func TestVersion(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "jarvis dev")
}
