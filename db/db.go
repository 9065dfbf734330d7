package db

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type patchedLogger struct {
	zapgorm2.Logger
}

// ErrRecordNotFound will be handled in application logic, let's not forward this to zap/sentry
func (l *patchedLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// Options configures the database connection
type Options struct {
	URI    string
	Logger *zap.Logger

	MaxOpenConns int
}

// New returns an instance for interacting with the PostgreSQL database
func New(opt Options) (*gorm.DB, error) {
	if len(opt.URI) == 0 {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	if opt.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if opt.MaxOpenConns == 0 {
		opt.MaxOpenConns = 20
	}
	db, err := gorm.Open(postgres.Open(opt.URI), &gorm.Config{
		Logger: NewLogger(opt.Logger),
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(opt.MaxOpenConns)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// NewLogger returns a gorm logger writing to zap at Warn level
func NewLogger(logger *zap.Logger) gormlogger.Interface {
	return &patchedLogger{
		Logger: zapgorm2.Logger{
			ZapLogger:        logger,
			LogLevel:         gormlogger.Warn,
			SlowThreshold:    time.Second,
			SkipCallerLookup: false,
		},
	}
}
