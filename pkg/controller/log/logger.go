// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InfraLogger is the process-wide logger for controller internals.
var InfraLogger = newLeveledLogger(defaultVerbosity)

const defaultVerbosity = 3

type LeveledLogger struct {
	sugar     *zap.SugaredLogger
	verbosity int64
}

type verboseLogger struct {
	parent  *LeveledLogger
	enabled bool
}

func newLeveledLogger(verbosity int) *LeveledLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	l := &LeveledLogger{sugar: logger.Sugar()}
	l.verbosity = int64(verbosity)
	return l
}

// InitLoggers sets the verbosity level of the global logger.
func InitLoggers(verbosity int) {
	atomic.StoreInt64(&InfraLogger.verbosity, int64(verbosity))
}

// V gates log statements below the configured verbosity.
func (l *LeveledLogger) V(level int) *verboseLogger {
	return &verboseLogger{
		parent:  l,
		enabled: int64(level) <= atomic.LoadInt64(&l.verbosity),
	}
}

func (l *LeveledLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *LeveledLogger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *LeveledLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *LeveledLogger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

func (l *LeveledLogger) Sync() {
	_ = l.sugar.Sync()
}

func (v *verboseLogger) Info(args ...interface{}) {
	if v.enabled {
		v.parent.sugar.Info(args...)
	}
}

func (v *verboseLogger) Infof(format string, args ...interface{}) {
	if v.enabled {
		v.parent.sugar.Infof(format, args...)
	}
}
