package database

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tvrec/internal/config"
	"github.com/jmylchreest/tvrec/internal/models"
)

func memoryConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		LogLevel:        "silent",
	}
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_SQLite(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["max_open_connections"], "in-memory databases use one connection")
}

func TestNew_FileSQLite(t *testing.T) {
	cfg := memoryConfig()
	cfg.DSN = t.TempDir() + "/tvrec.db"
	db, err := New(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(context.Background()))
	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}

func TestNew_InvalidDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Driver = "oracle"
	db, err := New(cfg, nil)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDB_Migrate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	rec := &models.Recording{Key: "k1", Title: "News", Source: "star", Status: models.RecordingStatusPending}
	require.NoError(t, db.WithContext(ctx).Create(rec).Error)
	assert.False(t, rec.ID.IsZero(), "ulid assigned on create")
}

func TestDB_Close(t *testing.T) {
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("silent"))
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Warn, gormLogLevel("warn"))
	assert.Equal(t, logger.Warn, gormLogLevel("bogus"))
}

func TestGormLogger_LogsErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := memoryConfig()
	cfg.LogLevel = "error"

	db, err := New(cfg, log)
	require.NoError(t, err)
	defer db.Close()
	buf.Reset()

	assert.Error(t, db.Exec("SELECT * FROM missing_table").Error)
	assert.Contains(t, buf.String(), "database error")
	assert.Contains(t, buf.String(), "missing_table")
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := string(bytes.Repeat([]byte("x"), maxSQLLogLength+10))
	assert.Len(t, truncateSQL(long), maxSQLLogLength+len("... (truncated)"))
}
