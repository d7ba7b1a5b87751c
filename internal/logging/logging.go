// Package logging builds the zap-backed logr.Logger shared by all inferscale
// binaries and installs it as the controller-runtime global logger, so every
// component can log through ctrl.Log or ctrl.LoggerFrom(ctx).
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
)

// logr V-levels used across the binaries. Higher is chattier; they map onto
// negative zap levels under the hood.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// NewLogger builds a zap-backed logger that emits messages up to the given
// verbosity. Development mode switches from JSON to the console encoder.
func NewLogger(verbosity int, devel bool) logr.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)
	if devel {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.Level(-verbosity))
	return zapr.NewLogger(zap.New(core))
}

// Setup builds the process logger and installs it globally so that ctrl.Log
// and ctrl.LoggerFrom(ctx) resolve to it. Called once from main.
func Setup(verbosity int, devel bool) logr.Logger {
	logger := NewLogger(verbosity, devel)
	ctrl.SetLogger(logger)
	return logger
}

// NewTestLogger installs a development logger at TRACE verbosity so code
// under test can log through ctrl.Log. Test suites call it first.
func NewTestLogger() logr.Logger {
	return Setup(TRACE, true)
}
