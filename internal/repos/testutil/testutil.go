package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/types"
)

// DB opens a throwaway per-test database with the full schema migrated.
// A temp file rather than :memory:, so every pooled connection sees the
// same schema.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := "file:" + filepath.Join(tb.TempDir(), "test.db") + "?_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	err = gdb.AutoMigrate(
		&types.Turn{},
		&types.Credential{},
		&types.ProviderCallLog{},
	)
	if err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return gdb
}

// Logger returns a development logger for tests.
func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	log, err := logger.New("development")
	if err != nil {
		tb.Fatalf("init logger: %v", err)
	}
	return log
}
