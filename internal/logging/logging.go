// Package logging bridges zap's structured logger into the go-logr/logr
// interface shared by every component, mirroring the teacher's setupLog.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction, read from Config.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// New builds a logr.Logger backed by zap, using the same encoder tweaks the
// teacher applies in cmd/operator/start.go's setupLog: capital level names,
// ISO8601 timestamps, short callers.
func New(opts Options) (logr.Logger, func(), error) {
	level := zapcore.InfoLevel
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
