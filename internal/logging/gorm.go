package logging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// Gorm пишет SQL-трассировку gorm в zerolog
type Gorm struct {
	Logger                    zerolog.Logger
	LogLevel                  gormlogger.LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
}

func NewGorm(log zerolog.Logger, level gormlogger.LogLevel) gormlogger.Interface {
	return &Gorm{
		Logger:                    log.With().Str("component", "gorm").Logger(),
		LogLevel:                  level,
		SlowThreshold:             200 * time.Millisecond,
		IgnoreRecordNotFoundError: true,
	}
}

// GormLevel переводит уровень zerolog в уровень gorm
func GormLevel(lvl zerolog.Level) gormlogger.LogLevel {
	switch {
	case lvl <= zerolog.DebugLevel:
		return gormlogger.Info
	case lvl <= zerolog.WarnLevel:
		return gormlogger.Warn
	case lvl <= zerolog.ErrorLevel:
		return gormlogger.Error
	}
	return gormlogger.Silent
}

func (l *Gorm) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *Gorm) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info().Ctx(ctx).Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *Gorm) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn().Ctx(ctx).Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *Gorm) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error().Ctx(ctx).Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *Gorm) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var event *zerolog.Event
	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && (!l.IgnoreRecordNotFoundError || !errors.Is(err, gormlogger.ErrRecordNotFound)):
		event = l.Logger.Error().Err(err)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		event = l.Logger.Warn().Str("slow_threshold", l.SlowThreshold.String())
	case l.LogLevel >= gormlogger.Info:
		event = l.Logger.Debug()
	default:
		return
	}

	sql, rows := fc()
	event = event.
		Ctx(ctx).
		Str("duration", fmt.Sprintf("%.3fms", float64(elapsed.Nanoseconds())/1e6)).
		Str("sql", sql)
	if rows != -1 {
		event = event.Int64("rows", rows)
	}
	event.Msg("sql")
}
