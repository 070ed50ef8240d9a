// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/usermodel/internal/config"
	"github.com/usermodel/internal/database"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a fresh, migrated sqlite database that lives for the duration of the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := database.Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: dsn}, "release")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = gormlogger.Default.LogMode(gormlogger.Silent)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}
