package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger implements GORM's logger interface on top of slog
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
	log           *slog.Logger
}

// NewGormLogger creates a GORM logger writing to log. A nil log discards output.
func NewGormLogger(log *slog.Logger, slowThreshold time.Duration) *GormLogger {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &GormLogger{
		SlowThreshold: slowThreshold,
		LogLevel:      logger.Warn,
		log:           log.With("component", "gorm"),
	}
}

// LogMode implements logger.Interface
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info implements logger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace implements logger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.LogLevel >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.ErrorContext(ctx, "query failed",
			"error", err,
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		sql, rows := fc()
		l.log.WarnContext(ctx, "slow query",
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows,
			"threshold", l.SlowThreshold)
	case l.LogLevel >= logger.Info:
		sql, rows := fc()
		l.log.DebugContext(ctx, "query executed",
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)
	}
}
