// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"context"
	"log/slog"

	"github.com/luxfi/log"
	"go.uber.org/zap"
)

// ZapLogger backs the luxfi/log.Logger interface with a real
// go.uber.org/zap.SugaredLogger, used by the qnetd/qdevice-net daemons in
// place of NoLog (log/nolog.go's test-only stub).
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a production logger. debug switches to zap's
// development config (Debug level, development encoder); it is a single
// switch, so spec.md §6's `-d` given more than once changes nothing more.
func NewLogger(debug bool) (log.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: zl.Sugar()}, nil
}

func (z *ZapLogger) With(ctx ...interface{}) log.Logger {
	return &ZapLogger{sugar: z.sugar.With(ctx...)}
}

func (z *ZapLogger) New(ctx ...interface{}) log.Logger { return z.With(ctx...) }

func (z *ZapLogger) Log(level slog.Level, msg string, ctx ...interface{}) {
	switch {
	case level >= slog.LevelError:
		z.sugar.Errorw(msg, ctx...)
	case level >= slog.LevelWarn:
		z.sugar.Warnw(msg, ctx...)
	case level >= slog.LevelInfo:
		z.sugar.Infow(msg, ctx...)
	default:
		z.sugar.Debugw(msg, ctx...)
	}
}

func (z *ZapLogger) Trace(msg string, ctx ...interface{}) { z.sugar.Debugw(msg, ctx...) }
func (z *ZapLogger) Debug(msg string, ctx ...interface{}) { z.sugar.Debugw(msg, ctx...) }
func (z *ZapLogger) Info(msg string, ctx ...interface{})  { z.sugar.Infow(msg, ctx...) }
func (z *ZapLogger) Warn(msg string, ctx ...interface{})  { z.sugar.Warnw(msg, ctx...) }
func (z *ZapLogger) Error(msg string, ctx ...interface{}) { z.sugar.Errorw(msg, ctx...) }
func (z *ZapLogger) Crit(msg string, ctx ...interface{})  { z.sugar.Errorw(msg, ctx...) }

func (z *ZapLogger) WriteLog(level slog.Level, msg string, attrs ...any) {
	z.Log(level, msg, attrs...)
}

func (z *ZapLogger) Enabled(ctx context.Context, level slog.Level) bool { return true }
func (z *ZapLogger) Handler() slog.Handler                              { return nil }

func (z *ZapLogger) Fatal(msg string, fields ...zap.Field) {
	z.sugar.Desugar().Fatal(msg, fields...)
}
func (z *ZapLogger) Verbo(msg string, fields ...zap.Field) {
	z.sugar.Desugar().Debug(msg, fields...)
}

func (z *ZapLogger) WithFields(fields ...zap.Field) log.Logger {
	return &ZapLogger{sugar: z.sugar.Desugar().With(fields...).Sugar()}
}

func (z *ZapLogger) WithOptions(opts ...zap.Option) log.Logger {
	return &ZapLogger{sugar: z.sugar.Desugar().WithOptions(opts...).Sugar()}
}

func (z *ZapLogger) SetLevel(level slog.Level)         {}
func (z *ZapLogger) GetLevel() slog.Level              { return slog.LevelInfo }
func (z *ZapLogger) EnabledLevel(lvl slog.Level) bool  { return true }
func (z *ZapLogger) StopOnPanic()                       {}

func (z *ZapLogger) RecoverAndPanic(f func()) { f() }
func (z *ZapLogger) RecoverAndExit(f, exit func()) {
	defer func() {
		if r := recover(); r != nil {
			exit()
		}
	}()
	f()
}

func (z *ZapLogger) Stop() { _ = z.sugar.Sync() }

func (z *ZapLogger) Write(p []byte) (int, error) {
	z.sugar.Info(string(p))
	return len(p), nil
}
