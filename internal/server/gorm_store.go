package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"camstream/internal/camera"
)

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// settingsRowID is the primary key of the single settings row.
const settingsRowID = 1

// settingsRecord is the database row holding the camera settings.
type settingsRecord struct {
	ID uint `gorm:"primaryKey;autoIncrement:false"`
	camera.Settings
	UpdatedAt time.Time
}

func (settingsRecord) TableName() string { return "camera_settings" }

// GormStore persists the settings in a SQL database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the settings table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&settingsRecord{}); err != nil {
		return nil, fmt.Errorf("migrating camera settings: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Load implements Store.
func (g *GormStore) Load(ctx context.Context) (camera.Settings, bool, error) {
	var rec settingsRecord
	err := g.db.WithContext(ctx).First(&rec, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return camera.Settings{}, false, nil
	}
	if err != nil {
		return camera.Settings{}, false, fmt.Errorf("loading camera settings: %w", err)
	}
	return rec.Settings, true, nil
}

// Save implements Store.
func (g *GormStore) Save(ctx context.Context, s camera.Settings) error {
	rec := settingsRecord{ID: settingsRowID, Settings: s, UpdatedAt: time.Now().UTC()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("saving camera settings: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// OpenStore returns the Store for driver. The memory driver ignores dsn.
func OpenStore(driver, dsn string, log *slog.Logger) (Store, error) {
	driver = strings.ToLower(driver)
	var dialector gorm.Dialector
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = "camstream.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?"
		} else {
			dsn += "&"
		}
		dialector = sqlite.Open(dsn + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if log != nil {
		log.Info("settings store opened", slog.String("driver", driver))
	}
	store, err := NewGormStore(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}
