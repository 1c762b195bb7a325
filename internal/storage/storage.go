// Package storage persists the mailbox in a relational database through gorm
// and keeps the poll cursor and event fan-out in Redis when it is configured.
package storage

import (
	"context"
	"fmt"
	"mailbox/backend/internal/models"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the durable mailbox. Every write is a single statement or a
// single transaction, so a failed call leaves no partial state behind.
type Storage interface {
	Insert(ctx context.Context, direction models.Direction, content string, status models.Status) (uint, error)
	UpdateStatus(ctx context.Context, id uint, status models.Status, answeredAt *time.Time) error
	RecordAnswer(ctx context.Context, questionID uint, content, responder string) (*models.Message, error)
	MarkSent(ctx context.Context, id uint) error
	IncrementDeliveryAttempts(ctx context.Context, id uint) error

	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	PendingIncoming(ctx context.Context) ([]models.Message, error)
	PendingOutgoing(ctx context.Context, maxAttempts int) ([]models.Message, error)
	History(ctx context.Context, limit int) ([]models.Message, error)
	CountPendingIncoming(ctx context.Context) (int64, error)
}

// CursorStore зберігає позицію long-poll циклу між перезапусками.
type CursorStore interface {
	LoadOffset(ctx context.Context, name string) (int, error)
	SaveOffset(ctx context.Context, name string, offset int) error
}

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client // може бути nil
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// OpenDatabase відкриває з'єднання потрібним драйвером та запускає міграції.
func OpenDatabase(driver, dsn string, level logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite, "":
		driver = DriverSQLite
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite допускає лише одного writer-а; одне з'єднання серіалізує записи
		// і тримає :memory: базу живою.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&models.Message{}, &models.PollCursor{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
