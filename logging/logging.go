// Package logging sets up the process-wide zap loggers, following the
// teacher's configuration package: a production logger built once on
// first use, and a human-readable console logger used by CLI tooling.
package logging

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once     sync.Once
	prodLog  *zap.Logger
	humanLog *zap.SugaredLogger

	useHuman int32
)

func initLoggers() {
	prodCfg := zap.NewProductionConfig()
	prodCfg.DisableStacktrace = true
	prodCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	prodLog, _ = prodCfg.Build()

	humanCfg := zap.NewDevelopmentEncoderConfig()
	humanCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	}
	humanCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoder := zapcore.NewConsoleEncoder(humanCfg)
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.DebugLevel)
	humanLog = zap.New(core).Sugar()
}

// Prod returns the process-wide structured (production) logger.
func Prod() *zap.Logger {
	once.Do(initLoggers)
	return prodLog
}

// Human returns the process-wide console logger used by CLI entrypoints.
func Human() *zap.SugaredLogger {
	once.Do(initLoggers)
	return humanLog
}

// SetVerbose switches Named's underlying logger between the structured
// production encoder (the default) and the human-readable console encoder,
// for CLI entrypoints' --verbose flag.
func SetVerbose(v bool) {
	once.Do(initLoggers)
	if v {
		atomic.StoreInt32(&useHuman, 1)
	} else {
		atomic.StoreInt32(&useHuman, 0)
	}
}

// Named returns a child of the process-wide logger scoped to a component,
// matching the teacher's "log.Named(pkg + \".\" + id)" convention. It
// derives from the console encoder after SetVerbose(true), otherwise from
// the production encoder.
func Named(name string) *zap.Logger {
	once.Do(initLoggers)
	if atomic.LoadInt32(&useHuman) == 1 {
		return humanLog.Desugar().Named(name)
	}
	return prodLog.Named(name)
}
