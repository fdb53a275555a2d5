package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/models"
)

type PostgresConfig struct {
	DSN        string
	MaxRetries int
	RetryDelay time.Duration
	// Migrate runs AutoMigrate for the application models after connecting.
	Migrate bool
}

// DB is the data accessor handed to repositories.
type DB struct {
	gorm *gorm.DB
	log  *logrus.Entry
}

// Connect opens the pool, retrying with exponential backoff until ctx is done
// or the retries run out.
func Connect(ctx context.Context, logger *logrus.Logger, cfg PostgresConfig) (*DB, error) {
	log := logger.WithField("component", "database")

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	var gdb *gorm.DB
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		gdb, err = gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
			TranslateError: true,
		})
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Database connection failed")

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, apperr.Database("Database connection cancelled", ctx.Err())
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}
	}
	if err != nil {
		log.WithError(err).Error("Failed to connect to database after retries")
		return nil, apperr.Database("Database connection failed", err)
	}

	if cfg.Migrate {
		if err := gdb.WithContext(ctx).AutoMigrate(&models.File{}); err != nil {
			log.WithError(err).Error("Database migration failed")
			return nil, apperr.Database("Database migration failed", err)
		}
	}

	log.Info("Database connection established")
	return &DB{gorm: gdb, log: log}, nil
}

// New wraps an already opened gorm handle.
func New(gdb *gorm.DB, logger *logrus.Logger) *DB {
	return &DB{gorm: gdb, log: logger.WithField("component", "database")}
}

// Gorm exposes the session bound to ctx for model-level queries.
func (db *DB) Gorm(ctx context.Context) *gorm.DB {
	return db.gorm.WithContext(ctx)
}

// Query scans every row of a raw statement into dest, which must be a pointer
// to a slice.
func (db *DB) Query(ctx context.Context, dest any, query string, args ...any) error {
	if err := db.gorm.WithContext(ctx).Raw(query, args...).Scan(dest).Error; err != nil {
		db.log.WithError(err).Error("Query failed")
		return apperr.Database("Database query failed", err)
	}
	return nil
}

// QueryOne scans the first row into dest and reports NotFound when there is
// none.
func (db *DB) QueryOne(ctx context.Context, dest any, query string, args ...any) error {
	res := db.gorm.WithContext(ctx).Raw(query, args...).Scan(dest)
	if res.Error != nil {
		db.log.WithError(res.Error).Error("Query failed")
		return apperr.Database("Database query failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Record not found")
	}
	return nil
}

// Exec runs a statement and returns the affected row count.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res := db.gorm.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		db.log.WithError(res.Error).Error("Statement failed")
		return 0, apperr.Database("Database statement failed", res.Error)
	}
	return res.RowsAffected, nil
}

// Transaction runs fn inside a transaction. fn's error rolls back and is
// returned as is; commit failures are reported as database errors.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	var fnErr error
	err := db.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&DB{gorm: tx, log: db.log})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	db.log.WithError(err).Error("Transaction failed")
	return apperr.Database("Database transaction failed", err)
}

func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return fmt.Errorf("get connection pool: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close connection pool: %w", err)
	}
	db.log.Info("Database connection closed")
	return nil
}
