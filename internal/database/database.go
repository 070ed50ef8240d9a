package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/usermodel/internal/config"
	"github.com/usermodel/internal/logger"
	"github.com/usermodel/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured store and configures the connection pool.
// TranslateError is enabled so unique violations surface as gorm.ErrDuplicatedKey on every driver.
func Open(cfg config.DatabaseConfig, mode string) (*gorm.DB, error) {
	gormLogger := gormlogger.Default.LogMode(gormlogger.Info)
	if mode == "release" {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	gormCfg := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverSQLite && isMemory(cfg.Path) {
		// every new connection to a private in-memory database is a different database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Useremail{},
		&models.UserRole{},
	)
}

// SeedRoles inserts the default roles when the roles table is empty
func SeedRoles(ctx context.Context, db *gorm.DB, log *logger.Logger) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Role{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	roles := []models.Role{
		{Name: models.RoleAdmin},
		{Name: models.RoleUser},
		{Name: models.RoleData},
	}
	if err := db.WithContext(ctx).Create(&roles).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// another instance seeded first
			return nil
		}
		return err
	}
	log.Info("seeded default roles", "count", len(roles))
	return nil
}

// Ping checks the store is reachable
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
