package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/programandonocosmos/cashtools-api/interfaces"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// IdentityArchiveModel is the gorm model of a stored archive.
type IdentityArchiveModel struct {
	Name      string    `gorm:"type:varchar(255);primaryKey"`
	Content   []byte    `gorm:"type:blob;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name.
func (IdentityArchiveModel) TableName() string {
	return "identity_archives"
}

// SQLBackend implements a storage backend on a SQL database through gorm.
type SQLBackend struct {
	db          *gorm.DB
	log         *slog.Logger
	locationURI string
}

// OpenSQLite opens (or creates) a sqlite database. Use ":memory:" for tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	return openDB(sqlite.Open(path))
}

// OpenMySQL opens a MySQL database from a go-sql-driver DSN.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := openDB(mysql.Open(dsn))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func openDB(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	return db, nil
}

// NewSQLBackend creates the archive table if needed and returns a backend on db.
func NewSQLBackend(db *gorm.DB, locationURI string, log *slog.Logger) (*SQLBackend, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := db.AutoMigrate(&IdentityArchiveModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive table: %w", err)
	}

	return &SQLBackend{
		db:          db,
		log:         log,
		locationURI: locationURI,
	}, nil
}

// Fetch retrieves an archive by name.
func (b *SQLBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	var model IdentityArchiveModel
	err := b.db.WithContext(ctx).Where("name = ?", name).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrArchiveNotFound
		}
		b.log.ErrorContext(ctx, "Failed to fetch archive", "name", name, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return model.Content, nil
}

// Store inserts or replaces the archive stored under name.
func (b *SQLBackend) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	model := &IdentityArchiveModel{Name: name, Content: data}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to store archive", "name", name, "err", err)
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored archive in database", "name", name, "size", len(data))
	return b.locationURI + "#" + name, nil
}

// Available pings the database.
func (b *SQLBackend) Available(ctx context.Context) bool {
	sqlDB, err := b.db.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		b.log.Debug("Database unavailable", "err", err)
		return false
	}
	return true
}

func (b *SQLBackend) Name() string {
	return "sql-" + b.db.Dialector.Name()
}

func (b *SQLBackend) LocationURI() string {
	return b.locationURI
}
