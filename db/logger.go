package db

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// zapLogger routes gorm's statement log into zap. Only failures and slow
// statements are emitted; record-not-found is an expected outcome in the
// social services and stays quiet.
type zapLogger struct {
	log   *zap.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

// NewLogger wraps l for gorm. slow <= 0 disables slow-statement logging.
func NewLogger(l *zap.Logger, slow time.Duration) gormlogger.Interface {
	return &zapLogger{log: l.Named("gorm"), slow: slow, level: gormlogger.Warn}
}

func (z *zapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *z
	cp.level = level
	return &cp
}

func (z *zapLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if z.level >= gormlogger.Info {
		z.log.Sugar().Infof(msg, args...)
	}
}

func (z *zapLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if z.level >= gormlogger.Warn {
		z.log.Sugar().Warnf(msg, args...)
	}
}

func (z *zapLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if z.level >= gormlogger.Error {
		z.log.Sugar().Errorf(msg, args...)
	}
}

func (z *zapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && z.level >= gormlogger.Error:
		sql, rows := fc()
		z.log.Error("query failed",
			zap.String("sql", sql), zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed), zap.Error(err))
	case z.slow > 0 && elapsed > z.slow && z.level >= gormlogger.Warn:
		sql, rows := fc()
		z.log.Warn("slow query",
			zap.String("sql", sql), zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed), zap.Duration("threshold", z.slow))
	case z.level >= gormlogger.Info:
		sql, rows := fc()
		z.log.Debug("query", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
